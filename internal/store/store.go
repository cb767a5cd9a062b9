package store

import (
	"context"

	"github.com/eldtechnologies/roomhub/internal/models"
)

var (
	_ DataStore = (*PostgresStore)(nil)
	_ DataStore = (*SQLiteStore)(nil)
)

// DataStore defines the interface for persistent storage of users, rooms,
// messages and room memberships. Both PostgresStore and SQLiteStore
// implement this interface.
//
// Lookups return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, username string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)

	// Room operations
	CreateRoom(ctx context.Context, name, creatorID string) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	// DeleteRoomByCreator deletes the room with its members and messages,
	// only if creatorID created it. It reports whether a room was deleted.
	DeleteRoomByCreator(ctx context.Context, roomID, creatorID string) (bool, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	// ListRoomMessages returns up to limit messages older than the before
	// cursor (a message id, empty for newest), oldest first.
	ListRoomMessages(ctx context.Context, roomID string, limit int, before string) ([]models.Message, error)
	DeleteUserRoomMessages(ctx context.Context, roomID, userID string) (int64, error)

	// Membership operations
	GetMember(ctx context.Context, roomID, userID string) (*models.RoomMember, error)
	// CreateMember inserts an online membership. It reports false when the
	// row already existed, leaving it untouched.
	CreateMember(ctx context.Context, roomID, userID string) (bool, error)
	SetMemberOnline(ctx context.Context, roomID, userID string, online bool) (bool, error)
	DeleteMember(ctx context.Context, roomID, userID string) (bool, error)
	// SetUserOffline marks every membership of the user offline and returns
	// the affected room ids.
	SetUserOffline(ctx context.Context, userID string) ([]string, error)
	CountMembers(ctx context.Context, roomID string) (int, error)
	CountOnline(ctx context.Context, roomID string) (int, error)
}
