package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"RecallChat/internal/session"
)

// Fact is one persistent remembered statement.
type Fact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeFact is the comparison form used for deduplication.
func NormalizeFact(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Facts returns the user's remembered facts, oldest first.
func (s *SQLiteStore) Facts(ctx context.Context, userID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, created_at FROM facts
		 WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	defer rows.Close()

	facts := []Fact{}
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// AddFact stores a fact unless a case-insensitive duplicate exists.
// It reports whether a new row was written.
func (s *SQLiteStore) AddFact(ctx context.Context, userID, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, fmt.Errorf("fact is empty")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO facts (id, user_id, content, normalized, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		session.NewID(), userID, text, NormalizeFact(text), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to add fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add fact: %w", err)
	}
	return n > 0, nil
}

// RemoveFact deletes a fact by its case-insensitive text.
func (s *SQLiteStore) RemoveFact(ctx context.Context, userID, text string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM facts WHERE user_id = ? AND normalized = ?`, userID, NormalizeFact(text))
	if err != nil {
		return fmt.Errorf("failed to remove fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fact %q: %w", text, ErrNotFound)
	}
	return nil
}
