package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/roomhub/internal/ids"
)

// PresenceResponse is the presence summary of a room.
type PresenceResponse struct {
	RoomID  string `json:"room_id"`
	Name    string `json:"name"`
	Online  int    `json:"online"`
	Members int    `json:"members"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"ts"` // Unix ms
}

// RoomMessagesResponse represents the get room messages response.
type RoomMessagesResponse struct {
	RoomID   string            `json:"room_id"`
	Messages []MessageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// Presence handles GET /rooms/{id}/presence.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	online, err := h.members.CountOnline(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	members, err := h.members.CountMembers(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, PresenceResponse{
		RoomID:  room.ID,
		Name:    room.Name,
		Online:  online,
		Members: members,
	})
}

// GetRoomMessages handles GET /rooms/{id}/messages. Only members of the
// room see its history; everyone else gets an empty list.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("userId")

	// Parse query params
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > 200 {
		limit = 200
	}

	before := r.URL.Query().Get("before")
	if before != "" && !ids.ValidMessageID(before) {
		h.Error(w, http.StatusBadRequest, "invalid before cursor")
		return
	}

	resp := RoomMessagesResponse{RoomID: roomID, Messages: []MessageResponse{}}

	member, err := h.store.GetMember(r.Context(), roomID, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if userID == "" || member == nil {
		h.JSON(w, http.StatusOK, resp)
		return
	}

	// Fetch one extra to compute has_more
	messages, err := h.store.ListRoomMessages(r.Context(), roomID, limit+1, before)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	// The extra row is the oldest one.
	if len(messages) > limit {
		resp.HasMore = true
		messages = messages[1:]
	}

	for _, msg := range messages {
		resp.Messages = append(resp.Messages, MessageResponse{
			ID:        msg.ID,
			UserID:    msg.UserID,
			Message:   msg.Text,
			Timestamp: msg.CreatedAt.UnixMilli(),
		})
	}

	h.JSON(w, http.StatusOK, resp)
}
