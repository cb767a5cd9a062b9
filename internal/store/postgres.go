package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/roomhub/internal/ids"
	"github.com/eldtechnologies/roomhub/internal/metrics"
	"github.com/eldtechnologies/roomhub/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, username string) (*models.User, error) {
	defer observe(time.Now())

	user := &models.User{ID: ids.NewID(), Username: username}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username)
		VALUES ($1, $2)
		RETURNING created_at
	`, user.ID, username).Scan(&user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	defer observe(time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, created_at FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateRoom creates a new room.
func (s *PostgresStore) CreateRoom(ctx context.Context, name, creatorID string) (*models.Room, error) {
	defer observe(time.Now())

	room := &models.Room{ID: ids.NewID(), Name: name, CreatorID: creatorID}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, name, creator_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, room.ID, name, creatorID).Scan(&room.CreatedAt)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	defer observe(time.Now())

	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, creator_id, created_at FROM rooms WHERE id = $1
	`, id).Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// DeleteRoomByCreator deletes a room and everything scoped to it in one transaction.
func (s *PostgresStore) DeleteRoomByCreator(ctx context.Context, roomID, creatorID string) (bool, error) {
	defer observe(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var one int
	err = tx.QueryRow(ctx, `
		SELECT 1 FROM rooms WHERE id = $1 AND creator_id = $2 FOR UPDATE
	`, roomID, creatorID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	for _, q := range []string{
		`DELETE FROM messages WHERE room_id = $1`,
		`DELETE FROM room_members WHERE room_id = $1`,
		`DELETE FROM rooms WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, roomID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// CreateMessage stores a message, filling in ID and CreatedAt when unset.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer observe(time.Now())

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ID == "" {
		msg.ID = ids.NewMessageID(msg.CreatedAt)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, user_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.RoomID, msg.UserID, msg.Text, msg.CreatedAt)
	return err
}

// ListRoomMessages retrieves a page of room messages, oldest first.
func (s *PostgresStore) ListRoomMessages(ctx context.Context, roomID string, limit int, before string) ([]models.Message, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_id, body, created_at
		FROM messages
		WHERE room_id = $1 AND ($2 = '' OR id < $2)
		ORDER BY id DESC
		LIMIT $3
	`, roomID, before, limit)
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
func (s *PostgresStore) DeleteUserRoomMessages(ctx context.Context, roomID, userID string) (int64, error) {
	defer observe(time.Now())

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetMember retrieves a membership row.
func (s *PostgresStore) GetMember(ctx context.Context, roomID, userID string) (*models.RoomMember, error) {
	defer observe(time.Now())

	m := &models.RoomMember{}
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, user_id, online, joined_at
		FROM room_members WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&m.RoomID, &m.UserID, &m.Online, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// CreateMember inserts an online membership unless one already exists.
func (s *PostgresStore) CreateMember(ctx context.Context, roomID, userID string) (bool, error) {
	defer observe(time.Now())

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id, online)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetMemberOnline updates the presence flag. It reports whether the row exists.
func (s *PostgresStore) SetMemberOnline(ctx context.Context, roomID, userID string, online bool) (bool, error) {
	defer observe(time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE room_members SET online = $3 WHERE room_id = $1 AND user_id = $2
	`, roomID, userID, online)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteMember removes a membership row.
func (s *PostgresStore) DeleteMember(ctx context.Context, roomID, userID string) (bool, error) {
	defer observe(time.Now())

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM room_members WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetUserOffline marks all memberships of a user offline.
func (s *PostgresStore) SetUserOffline(ctx context.Context, userID string) ([]string, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		UPDATE room_members SET online = FALSE
		WHERE user_id = $1
		RETURNING room_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, err
		}
		rooms = append(rooms, roomID)
	}
	return rooms, rows.Err()
}

// CountMembers counts the members of a room, online or not.
func (s *PostgresStore) CountMembers(ctx context.Context, roomID string) (int, error) {
	defer observe(time.Now())

	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM room_members WHERE room_id = $1
	`, roomID).Scan(&n)
	return n, err
}

// CountOnline counts the online members of a room.
func (s *PostgresStore) CountOnline(ctx context.Context, roomID string) (int, error) {
	defer observe(time.Now())

	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM room_members WHERE room_id = $1 AND online
	`, roomID).Scan(&n)
	return n, err
}

func reverse(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
