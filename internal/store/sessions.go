package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"RecallChat/internal/session"
)

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	if sess.StartTime.IsZero() {
		sess.StartTime = time.Now().UTC()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.StartTime
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, backend, start_time, updated_at, summarized)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		sess.ID, sess.UserID, sess.Title, sess.Backend, sess.StartTime, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads a session row without its messages.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, backend, start_time, updated_at, summarized
		 FROM sessions WHERE id = ?`, sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, backend, start_time, updated_at, summarized
		 FROM sessions WHERE user_id = ?
		 ORDER BY updated_at DESC, start_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []session.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its messages. Episodic summaries made
// from it stay: they belong to the user's long-term memory.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ClaimSummary flags a session as condensed into episodic memory. It reports
// false when another caller already holds the claim.
func (s *SQLiteStore) ClaimSummary(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summarized = 1 WHERE id = ? AND summarized = 0`, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to claim session summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim session summary: %w", err)
	}
	return n == 1, nil
}

// ReleaseSummary clears the summarized flag so the session is condensed again.
func (s *SQLiteStore) ReleaseSummary(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET summarized = 0 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to release session summary: %w", err)
	}
	return nil
}

// LatestUnsummarizedSession returns the user's most recently updated session
// that has messages and no episodic summary yet, skipping excludeID.
func (s *SQLiteStore) LatestUnsummarizedSession(ctx context.Context, userID, excludeID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.title, s.backend, s.start_time, s.updated_at, s.summarized
		 FROM sessions s
		 WHERE s.user_id = ? AND s.id != ? AND s.summarized = 0
		   AND EXISTS (SELECT 1 FROM messages m WHERE m.session_id = s.id)
		 ORDER BY s.updated_at DESC LIMIT 1`, userID, excludeID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find unsummarized session: %w", err)
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*session.Session, error) {
	var sess session.Session
	var summarized int
	if err := r.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Backend,
		&sess.StartTime, &sess.UpdatedAt, &summarized); err != nil {
		return nil, err
	}
	sess.Summarized = summarized != 0
	return &sess, nil
}
