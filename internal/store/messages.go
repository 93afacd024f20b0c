package store

import (
	"context"
	"fmt"
	"time"

	"RecallChat/internal/session"
)

// AppendTurn writes every message of a finished turn in one transaction and
// bumps the session's updated_at. A message whose id already exists is
// updated in place rather than duplicated. New messages make the session due
// for summarizing again.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, msgs ...session.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ?, summarized = 0 WHERE id = ?`, now, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = session.NewID()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, content, type, status, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET content = excluded.content, status = excluded.status`,
			msg.ID, sessionID, string(msg.Role), msg.Content, string(msg.Type), string(msg.Status), msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// History returns every message of a session in arrival order.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]session.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, session_id, role, content, type, status, timestamp
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
}

// WorkingMemory returns the last limit messages of a session, oldest first.
func (s *SQLiteStore) WorkingMemory(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	if limit <= 0 {
		return []session.Message{}, nil
	}
	return s.queryMessages(ctx,
		`SELECT id, session_id, role, content, type, status, timestamp FROM (
			SELECT seq, id, session_id, role, content, type, status, timestamp
			FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq`, sessionID, limit)
}

// UpdateSystemMessage changes the status and/or content of a system message.
// Empty arguments leave the corresponding column unchanged.
func (s *SQLiteStore) UpdateSystemMessage(ctx context.Context, id string, status session.Status, content string) (*session.Message, error) {
	msgs, err := s.queryMessages(ctx,
		`SELECT id, session_id, role, content, type, status, timestamp
		 FROM messages WHERE id = ? AND role = ?`, id, string(session.RoleSystem))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("system message %s: %w", id, ErrNotFound)
	}

	msg := msgs[0]
	if status != session.StatusNone {
		msg.Status = status
	}
	if content != "" {
		msg.Content = content
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, content = ? WHERE id = ?`,
		string(msg.Status), msg.Content, id); err != nil {
		return nil, fmt.Errorf("failed to update system message: %w", err)
	}
	return &msg, nil
}

// Message loads a single message by id.
func (s *SQLiteStore) Message(ctx context.Context, id string) (*session.Message, error) {
	msgs, err := s.queryMessages(ctx,
		`SELECT id, session_id, role, content, type, status, timestamp
		 FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return &msgs[0], nil
}

// LatestOfType returns the most recent message of the given type in a session.
func (s *SQLiteStore) LatestOfType(ctx context.Context, sessionID string, typ session.MessageType) (*session.Message, error) {
	msgs, err := s.queryMessages(ctx,
		`SELECT id, session_id, role, content, type, status, timestamp
		 FROM messages WHERE session_id = ? AND type = ?
		 ORDER BY timestamp DESC, seq DESC LIMIT 1`, sessionID, string(typ))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]session.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var msg session.Message
		var role, typ, status string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &typ, &status, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = session.Role(role)
		msg.Type = session.MessageType(typ)
		msg.Status = session.Status(status)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}
