package ids

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewConnID generates a time-ordered UUID v7 for a websocket connection.
func NewConnID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewID generates a random UUID for users and rooms.
func NewID() string {
	return uuid.NewString()
}

// NewMessageID returns a ULID for a message created at t. ULIDs sort by
// creation time, which the history cursor relies on.
func NewMessageID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// ValidMessageID reports whether s parses as a ULID.
func ValidMessageID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
