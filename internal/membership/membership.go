// Package membership tracks which users belong to which rooms and whether
// they are currently present.
//
// There is no per-(room,user) lock: the read-then-flip sequence in Join is
// last-write-wins under concurrent joins. The store's primary key keeps a
// single row per pair.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/metrics"
	"github.com/eldtechnologies/roomhub/internal/store"
)

// ErrRoomNotFound is returned by Join when the room does not exist.
var ErrRoomNotFound = errors.New("room not found")

// JoinOutcome describes what Join changed.
type JoinOutcome int

const (
	// JoinCreated means a new online membership was created.
	JoinCreated JoinOutcome = iota
	// JoinReturned means an offline member came back online.
	JoinReturned
	// JoinAlreadyOnline means nothing was written.
	JoinAlreadyOnline
)

func (o JoinOutcome) String() string {
	switch o {
	case JoinCreated:
		return "created"
	case JoinReturned:
		return "returned"
	case JoinAlreadyOnline:
		return "already_online"
	default:
		return "unknown"
	}
}

// Service is the room membership store.
type Service struct {
	store  store.DataStore
	logger zerolog.Logger
}

// NewService creates a membership service over the given store.
func NewService(st store.DataStore, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With().Str("component", "membership").Logger(),
	}
}

// Join makes the user an online member of the room.
func (s *Service) Join(ctx context.Context, roomID, userID string) (JoinOutcome, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return 0, ErrRoomNotFound
	}

	member, err := s.store.GetMember(ctx, roomID, userID)
	if err != nil {
		return 0, fmt.Errorf("get member: %w", err)
	}

	switch {
	case member == nil:
		created, err := s.store.CreateMember(ctx, roomID, userID)
		if err != nil {
			return 0, fmt.Errorf("create member: %w", err)
		}
		if !created {
			// A concurrent join inserted the row first.
			return JoinAlreadyOnline, nil
		}
		metrics.MembershipTransitions.WithLabelValues("created").Inc()
		return JoinCreated, nil

	case !member.Online:
		if _, err := s.store.SetMemberOnline(ctx, roomID, userID, true); err != nil {
			return 0, fmt.Errorf("set online: %w", err)
		}
		metrics.MembershipTransitions.WithLabelValues("returned").Inc()
		return JoinReturned, nil

	default:
		return JoinAlreadyOnline, nil
	}
}

// MarkOffline flips the membership offline. It reports whether the user
// was a member; non-members are left alone.
func (s *Service) MarkOffline(ctx context.Context, roomID, userID string) (bool, error) {
	existed, err := s.store.SetMemberOnline(ctx, roomID, userID, false)
	if err != nil {
		return false, fmt.Errorf("set offline: %w", err)
	}
	if existed {
		metrics.MembershipTransitions.WithLabelValues("offline").Inc()
	}
	return existed, nil
}

// Leave removes the membership and the user's messages in the room.
func (s *Service) Leave(ctx context.Context, roomID, userID string) error {
	if _, err := s.store.DeleteMember(ctx, roomID, userID); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	n, err := s.store.DeleteUserRoomMessages(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	metrics.MembershipTransitions.WithLabelValues("left").Inc()

	s.logger.Debug().
		Str("room_id", roomID).
		Str("user_id", userID).
		Int64("messages_deleted", n).
		Msg("member left")
	return nil
}

// LogoutAll marks every membership of the user offline and returns the
// affected rooms, one entry per room.
func (s *Service) LogoutAll(ctx context.Context, userID string) ([]string, error) {
	rooms, err := s.store.SetUserOffline(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("set user offline: %w", err)
	}
	metrics.MembershipTransitions.WithLabelValues("logout").Add(float64(len(rooms)))
	return rooms, nil
}

// DeleteRoom deletes the room with its memberships and messages when actor
// created it. It reports false, changing nothing, otherwise.
func (s *Service) DeleteRoom(ctx context.Context, roomID, actorID string) (bool, error) {
	deleted, err := s.store.DeleteRoomByCreator(ctx, roomID, actorID)
	if err != nil {
		return false, fmt.Errorf("delete room: %w", err)
	}
	return deleted, nil
}

// CountOnline returns the number of online members of the room.
func (s *Service) CountOnline(ctx context.Context, roomID string) (int, error) {
	return s.store.CountOnline(ctx, roomID)
}

// CountMembers returns the number of members of the room, online or not.
func (s *Service) CountMembers(ctx context.Context, roomID string) (int, error) {
	return s.store.CountMembers(ctx, roomID)
}
