package models

import "time"

// User is the identity a connection acts for. Credentials live with the auth service.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
