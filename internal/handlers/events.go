package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eldtechnologies/roomhub/internal/membership"
	"github.com/eldtechnologies/roomhub/internal/metrics"
	"github.com/eldtechnologies/roomhub/internal/models"
	"github.com/eldtechnologies/roomhub/internal/realtime"
)

// Inbound event kinds.
const (
	EventCreateRoom  = "createRoom"
	EventDeleteRoom  = "deleteRoom"
	EventJoinRoom    = "joinRoom"
	EventMessageSent = "messageSent"
	EventRoomChanged = "roomChanged"
	EventLeftRoom    = "leftRoom"
	EventUserLogout  = "userLogout"
)

// Outbound event kinds.
const (
	EventRoomAdded       = "roomAdded"
	EventRoomDeleted     = "roomDeleted"
	EventUserChangedRoom = "userChangedRoom"
	EventJoinedMessage   = "message"
	EventMessageReceived = "messageReceived"
	EventUserLeftRoom    = "userLeftRoom"
	EventUserLoggedOut   = "userLoggedOut"
)

const maxMessageLength = 4096

// RoomRequest is the payload of every room-scoped inbound event.
type RoomRequest struct {
	UserID  string `json:"userId"`
	RoomID  string `json:"roomId"`
	Message string `json:"message,omitempty"`
}

// Announcement is the payload of presence and room lifecycle broadcasts.
type Announcement struct {
	RoomID  string `json:"roomId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message"`
}

// ChatMessage is the projection of a message broadcast to a room.
type ChatMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Register wires every room event handler into a connection's dispatcher.
func (h *Handler) Register(d *realtime.Dispatcher) {
	d.Register(EventCreateRoom, h.OnCreateRoom)
	d.Register(EventDeleteRoom, h.OnDeleteRoom)
	d.Register(EventJoinRoom, h.OnJoinRoom)
	d.Register(EventMessageSent, h.OnMessageSent)
	d.Register(EventRoomChanged, h.OnRoomChanged)
	d.Register(EventLeftRoom, h.OnLeftRoom)
	d.Register(EventUserLogout, h.OnUserLogout)
	d.Register(realtime.EventDisconnect, h.OnDisconnect)
}

// decodeRoomRequest parses the payload, replying with an error event when
// it is not valid JSON. ok is false when the event should be dropped.
func decodeRoomRequest(c *realtime.Conn, payload json.RawMessage) (req RoomRequest, ok bool) {
	if len(payload) == 0 {
		return req, true
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		_ = c.Send(realtime.EventError, "Invalid payload")
		return req, false
	}
	return req, true
}

// OnCreateRoom announces a room created through the REST API. Nothing is
// persisted here.
func (h *Handler) OnCreateRoom(ctx context.Context, c *realtime.Conn, payload json.RawMessage) error {
	h.hub.ToAll(EventRoomAdded, Announcement{Message: "New room added..."})
	return nil
}

// OnDeleteRoom deletes a room on behalf of its creator and announces it.
// A non-creator gets no reply.
func (h *Handler) OnDeleteRoom(ctx context.Context, c *realtime.Conn, payload json.RawMessage) error {
	req, ok := decodeRoomRequest(c, payload)
	if !ok || req.UserID == "" || req.RoomID == "" {
		return nil
	}

	deleted, err := h.members.DeleteRoom(ctx, req.RoomID, req.UserID)
	if err != nil {
		_ = c.Send(realtime.EventError, "Failed to delete room...")
		return fmt.Errorf("delete room %s: %w", req.RoomID, err)
	}
	if !deleted {
		h.logger.Warn().
			Str("room_id", req.RoomID).
			Str("user_id", req.UserID).
			Msg("room delete refused: not the creator or no such room")
		return nil
	}

	h.hub.DropRoom(req.RoomID)
	h.hub.ToAll(EventRoomDeleted, Announcement{
		RoomID:  req.RoomID,
		UserID:  req.UserID,
		Message: "Room has been deleted by owner...",
	})
	return nil
}

// OnJoinRoom makes the user an online member, subscribes the connection and
// announces the join to the room.
func (h *Handler) OnJoinRoom(ctx context.Context, c *realtime.Conn, payload json.RawMessage) error {
	req, ok := decodeRoomRequest(c, payload)
	if !ok || req.UserID == "" || req.RoomID == "" {
		return nil
	}

	outcome, err := h.members.Join(ctx, req.RoomID, req.UserID)
	if errors.Is(err, membership.ErrRoomNotFound) {
		_ = c.Send(realtime.EventError, "Room not found")
		return nil
	}
	if err != nil {
		_ = c.Send(realtime.EventError, "Failed to join room")
		return fmt.Errorf("join room %s: %w", req.RoomID, err)
	}

	if err := h.hub.Subscribe(c, req.RoomID); err != nil {
		// The connection went away while the membership was written.
		return nil
	}

	if outcome == membership.JoinReturned {
		h.hub.ToRoom(req.RoomID, EventUserChangedRoom, Announcement{
			RoomID:  req.RoomID,
			UserID:  req.UserID,
			Message: fmt.Sprintf("user %s changed room: %s", req.UserID, req.RoomID),
		})
	}

	h.hub.ToRoom(req.RoomID, EventJoinedMessage, Announcement{
		RoomID:  req.RoomID,
		UserID:  req.UserID,
		Message: fmt.Sprintf("%s has joined the room", h.displayName(ctx, req.UserID)),
	})

	h.logger.Info().
		Str("room_id", req.RoomID).
		Str("user_id", req.UserID).
		Stringer("outcome", outcome).
		Msg("user joined room")
	return nil
}

// displayName is the user's username, or the id when it cannot be resolved.
func (h *Handler) displayName(ctx context.Context, userID string) string {
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("resolve display name")
		return userID
	}
	if user == nil || user.Username == "" {
		return userID
	}
	return user.Username
}

// OnMessageSent stores a message and broadcasts it to the room. Messages
// from unknown users, or sent on behalf of another user than the one the
// connection was opened for, are dropped without a reply.
func (h *Handler) OnMessageSent(ctx context.Context, c *realtime.Conn, payload json.RawMessage) error {
	req, ok := decodeRoomRequest(c, payload)
	if !ok || req.RoomID == "" {
		return nil
	}

	if c.UserID() != "" && req.UserID != c.UserID() {
		h.logger.Warn().
			Str("type", "security").
			Str("conn_id", c.ID()).
			Str("conn_user_id", c.UserID()).
			Str("user_id", req.UserID).
			Msg("dropping message sent for another user")
		return nil
	}

	user, err := h.store.GetUser(ctx, req.UserID)
	if err != nil {
		_ = c.Send(realtime.EventError, "Failed to send message")
		return fmt.Errorf("resolve sender %s: %w", req.UserID, err)
	}
	if user == nil {
		h.logger.Debug().Str("user_id", req.UserID).Msg("dropping message from unresolved sender")
		return nil
	}

	text := sanitizeText(req.Message)
	if text == "" {
		return nil
	}
	if len(text) > maxMessageLength {
		_ = c.Send(realtime.EventError, "Message too long")
		return nil
	}

	msg := &models.Message{RoomID: req.RoomID, UserID: user.ID, Text: text}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		_ = c.Send(realtime.EventError, "Failed to send message")
		return fmt.Errorf("store message in %s: %w", req.RoomID, err)
	}
	metrics.MessagesPosted.Inc()

	h.hub.ToRoom(req.RoomID, EventMessageReceived, ChatMessage{
		Username: user.Username,
		Message:  text,
	})
	return nil
}

// OnRoomChanged marks the member offline when they switch to another room.
func (h *Handler) OnRoomChanged(ctx context.Context, c *realtime.Conn, payload json.RawMessage) error {
	req, ok := decodeRoomRequest(c, payload)
	if !ok || req.UserID == "" || req.RoomID == "" {
		return nil
	}

	existed, err := h.members.MarkOffline(ctx, req.RoomID, req.UserID)
	if err != nil {
		_ = c.Send(realtime.EventError, "Failed to change room")
		return fmt.Errorf("room changed %s: %w", req.RoomID, err)
	}

	if existed {
		h.hub.ToRoom(req.RoomID, EventUserChangedRoom, Announcement{
			RoomID:  req.RoomID,
			UserID:  req.UserID,
			Message: fmt.Sprintf("user %s changed room: %s", req.UserID, req.RoomID),
		})
	}
	_ = h.hub.Unsubscribe(c, req.RoomID)
	return nil
}

// OnLeftRoom removes the membership and the user's messages in the room.
func (h *Handler) OnLeftRoom(ctx context.Context, c *realtime.Conn, payload json.RawMessage) error {
	req, ok := decodeRoomRequest(c, payload)
	if !ok || req.UserID == "" || req.RoomID == "" {
		return nil
	}

	if err := h.members.Leave(ctx, req.RoomID, req.UserID); err != nil {
		_ = c.Send(realtime.EventError, "Failed to leave room")
		return fmt.Errorf("leave room %s: %w", req.RoomID, err)
	}

	h.hub.ToRoom(req.RoomID, EventUserLeftRoom, Announcement{
		RoomID:  req.RoomID,
		UserID:  req.UserID,
		Message: fmt.Sprintf("user: %s left room: %s...", req.UserID, req.RoomID),
	})
	_ = h.hub.Unsubscribe(c, req.RoomID)

	h.logger.Info().Str("room_id", req.RoomID).Str("user_id", req.UserID).Msg("user left room")
	return nil
}

// OnUserLogout marks the user offline everywhere, announcing once per room,
// and unsubscribes the connection from all its rooms.
func (h *Handler) OnUserLogout(ctx context.Context, c *realtime.Conn, payload json.RawMessage) error {
	req, ok := decodeRoomRequest(c, payload)
	if !ok || req.UserID == "" {
		return nil
	}

	rooms, err := h.members.LogoutAll(ctx, req.UserID)
	if err != nil {
		_ = c.Send(realtime.EventError, "Failed to leave room after logging out...")
		return fmt.Errorf("logout %s: %w", req.UserID, err)
	}

	for _, roomID := range rooms {
		h.hub.ToRoom(roomID, EventUserLoggedOut, Announcement{
			RoomID:  roomID,
			UserID:  req.UserID,
			Message: fmt.Sprintf("user: %s logged out...", req.UserID),
		})
	}

	subscribed, _ := h.hub.Rooms(c)
	for _, roomID := range subscribed {
		_ = h.hub.Unsubscribe(c, roomID)
	}

	h.logger.Info().Str("user_id", req.UserID).Int("rooms", len(rooms)).Msg("user logged out")
	return nil
}

// OnDisconnect only records the disconnect. Presence is left to the
// explicit roomChanged, leftRoom and userLogout events.
func (h *Handler) OnDisconnect(ctx context.Context, c *realtime.Conn, payload json.RawMessage) error {
	rooms, _ := h.hub.Rooms(c)
	h.logger.Info().
		Str("conn_id", c.ID()).
		Str("user_id", c.UserID()).
		Strs("rooms", rooms).
		Msg("user disconnected")
	return nil
}
