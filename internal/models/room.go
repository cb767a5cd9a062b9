package models

import "time"

// Room represents a channel connections subscribe to.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomMember records that a user belongs to a room. Online is presence,
// not existence: an offline member is still a member.
type RoomMember struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	JoinedAt time.Time `json:"joined_at"`
}
