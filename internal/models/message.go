package models

import "time"

// Message represents a chat message posted to a room.
type Message struct {
	ID        string    `json:"id"` // ULID
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
