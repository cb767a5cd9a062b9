package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/roomhub/internal/ids"
	"github.com/eldtechnologies/roomhub/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/roomhub.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/roomhub.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		online INTEGER NOT NULL DEFAULT 1,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_room_user ON messages(room_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members(user_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{ID: ids.NewID(), Username: username, CreatedAt: time.Now().UTC()}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
	`, user.ID, user.Username, user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, created_at FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name, creatorID string) (*models.Room, error) {
	room := &models.Room{ID: ids.NewID(), Name: name, CreatorID: creatorID, CreatedAt: time.Now().UTC()}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, creator_id, created_at) VALUES (?, ?, ?, ?)
	`, room.ID, room.Name, room.CreatorID, room.CreatedAt)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, creator_id, created_at FROM rooms WHERE id = ?
	`, id).Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// DeleteRoomByCreator deletes a room and everything scoped to it in one transaction.
func (s *SQLiteStore) DeleteRoomByCreator(ctx context.Context, roomID, creatorID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM rooms WHERE id = ? AND creator_id = ?
	`, roomID, creatorID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	for _, q := range []string{
		`DELETE FROM messages WHERE room_id = ?`,
		`DELETE FROM room_members WHERE room_id = ?`,
		`DELETE FROM rooms WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, roomID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// CreateMessage stores a message, filling in ID and CreatedAt when unset.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ID == "" {
		msg.ID = ids.NewMessageID(msg.CreatedAt)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, user_id, body, created_at) VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.UserID, msg.Text, msg.CreatedAt)
	return err
}

// ListRoomMessages retrieves a page of room messages, oldest first.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, roomID string, limit int, before string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, body, created_at
		FROM messages
		WHERE room_id = ? AND (? = '' OR id < ?)
		ORDER BY id DESC
		LIMIT ?
	`, roomID, before, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

// DeleteUserRoomMessages deletes every message the user posted in the room.
func (s *SQLiteStore) DeleteUserRoomMessages(ctx context.Context, roomID, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE room_id = ? AND user_id = ?
	`, roomID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetMember retrieves a membership row.
func (s *SQLiteStore) GetMember(ctx context.Context, roomID, userID string) (*models.RoomMember, error) {
	m := &models.RoomMember{}
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, user_id, online, joined_at
		FROM room_members WHERE room_id = ? AND user_id = ?
	`, roomID, userID).Scan(&m.RoomID, &m.UserID, &m.Online, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// CreateMember inserts an online membership unless one already exists.
func (s *SQLiteStore) CreateMember(ctx context.Context, roomID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_members (room_id, user_id, online, joined_at)
		VALUES (?, ?, 1, ?)
	`, roomID, userID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetMemberOnline updates the presence flag. It reports whether the row exists.
func (s *SQLiteStore) SetMemberOnline(ctx context.Context, roomID, userID string, online bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE room_members SET online = ? WHERE room_id = ? AND user_id = ?
	`, online, roomID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteMember removes a membership row.
func (s *SQLiteStore) DeleteMember(ctx context.Context, roomID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM room_members WHERE room_id = ? AND user_id = ?
	`, roomID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetUserOffline marks all memberships of a user offline.
func (s *SQLiteStore) SetUserOffline(ctx context.Context, userID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT room_id FROM room_members WHERE user_id = ? ORDER BY joined_at
	`, userID)
	if err != nil {
		return nil, err
	}

	var rooms []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			rows.Close()
			return nil, err
		}
		rooms = append(rooms, roomID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE room_members SET online = 0 WHERE user_id = ?
	`, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CountMembers counts the members of a room, online or not.
func (s *SQLiteStore) CountMembers(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM room_members WHERE room_id = ?
	`, roomID).Scan(&n)
	return n, err
}

// CountOnline counts the online members of a room.
func (s *SQLiteStore) CountOnline(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM room_members WHERE room_id = ? AND online = 1
	`, roomID).Scan(&n)
	return n, err
}
