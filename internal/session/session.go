package session

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role tags who produced a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType tags messages that carry more than plain chat text
type MessageType string

const (
	TypeChat            MessageType = ""
	TypeSearch          MessageType = "search"
	TypeError           MessageType = "error"
	TypeCalculation     MessageType = "calculation"
	TypeEpisodicResults MessageType = "episodic_results"
	TypeTierContext     MessageType = "tier_context"
	TypeActionLimit     MessageType = "action_limit"
	TypeVideoSelected   MessageType = "video_selected"
	TypeMemory          MessageType = "memory"
	TypeCommand         MessageType = "command"
)

// Status is the lifecycle of a system message that is updated in place
type Status string

const (
	StatusNone     Status = ""
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusComplete, StatusError:
		return true
	}
	return false
}

// Message represents a single chat message
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type,omitempty"`
	Status    Status      `json:"status,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Session represents a chat session
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	StartTime  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Backend    string    `json:"backend"`
	Summarized bool      `json:"-"`
	Messages   []Message `json:"messages,omitempty"`
}

// Summary is one episodic memory entry: a condensed past session.
type Summary struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const maxTitleRunes = 60

// TitleFrom derives a session title from the first user message.
func TitleFrom(message string) string {
	line := strings.TrimSpace(message)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return "New chat"
	}
	if utf8.RuneCountInString(line) <= maxTitleRunes {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}
