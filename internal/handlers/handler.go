package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/membership"
	"github.com/eldtechnologies/roomhub/internal/realtime"
	"github.com/eldtechnologies/roomhub/internal/store"
)

// Hub is the connection registry as seen by the handlers: room
// subscriptions plus broadcast.
type Hub interface {
	Subscribe(c *realtime.Conn, roomID string) error
	Unsubscribe(c *realtime.Conn, roomID string) error
	Rooms(c *realtime.Conn) ([]string, error)
	DropRoom(roomID string) int
	ToRoom(roomID, event string, data any) int
	ToAll(event string, data any) int
	Len() int
}

// Handler contains shared dependencies for HTTP and websocket event handlers.
type Handler struct {
	store   store.DataStore
	redis   *store.RedisStore
	members *membership.Service
	hub     Hub
	logger  zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil.
func NewHandler(st store.DataStore, redis *store.RedisStore, members *membership.Service, hub Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		store:   st,
		redis:   redis,
		members: members,
		hub:     hub,
		logger:  logger.With().Str("component", "handlers").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeText trims the message and removes control characters other
// than newlines and tabs.
func sanitizeText(text string) string {
	text = strings.TrimSpace(text)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, text)
}
