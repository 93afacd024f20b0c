package session

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID returns a time-ordered identifier for messages, facts and summaries.
func NewID() string {
	return ulid.Make().String()
}

// NewSessionID returns a UUIDv7 session identifier.
func NewSessionID() string {
	return uuid.Must(uuid.NewV7()).String()
}
