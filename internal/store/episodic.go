package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"RecallChat/internal/session"
)

const defaultEpisodicLimit = 5

// AppendSummary adds an entry to the user's episodic log, replacing any
// earlier entry for the same session.
func (s *SQLiteStore) AppendSummary(ctx context.Context, sum *session.Summary) error {
	if sum.ID == "" {
		sum.ID = session.NewID()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM episodic WHERE user_id = ? AND session_id = ?`, sum.UserID, sum.SessionID); err != nil {
		return fmt.Errorf("failed to replace summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO episodic (id, user_id, session_id, title, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.UserID, sum.SessionID, sum.Title, sum.Content, sum.CreatedAt); err != nil {
		return fmt.Errorf("failed to append summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SearchEpisodic finds summaries where every word of query appears in the
// title or content, newest first.
func (s *SQLiteStore) SearchEpisodic(ctx context.Context, userID, query string, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = defaultEpisodicLimit
	}

	where := []string{"user_id = ?"}
	args := []any{userID}
	for _, word := range strings.Fields(strings.ToLower(query)) {
		where = append(where, "(lower(title) LIKE ? ESCAPE '\\' OR lower(content) LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(word) + "%"
		args = append(args, pattern, pattern)
	}
	args = append(args, limit)

	q := fmt.Sprintf(
		`SELECT id, user_id, session_id, title, content, created_at FROM episodic
		 WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`, strings.Join(where, " AND "))

	return s.querySummaries(ctx, q, args...)
}

// RecentEpisodic returns the user's newest summaries.
func (s *SQLiteStore) RecentEpisodic(ctx context.Context, userID string, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = defaultEpisodicLimit
	}
	return s.querySummaries(ctx,
		`SELECT id, user_id, session_id, title, content, created_at FROM episodic
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
}

func (s *SQLiteStore) querySummaries(ctx context.Context, query string, args ...any) ([]session.Summary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodic memory: %w", err)
	}
	defer rows.Close()

	summaries := []session.Summary{}
	for rows.Next() {
		var sum session.Summary
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.SessionID, &sum.Title, &sum.Content, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
