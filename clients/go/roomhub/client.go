// Package roomhub provides a client for the roomhub presence and chat server.
package roomhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to the HTTP side of a roomhub server and opens sessions.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// NewClient creates a new client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Dialer:     websocket.DefaultDialer,
	}
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return fmt.Errorf("roomhub error %d: %s", resp.StatusCode, errResp.Error)
	}

	return json.Unmarshal(respBody, v)
}

// HealthResponse is the response from the health check.
type HealthResponse struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	Connections int            `json:"connections"`
	Checks      map[string]any `json:"checks"`
	Timestamp   string         `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Presence is the presence summary of a room.
type Presence struct {
	RoomID  string `json:"room_id"`
	Name    string `json:"name"`
	Online  int    `json:"online"`
	Members int    `json:"members"`
}

// Presence returns how many members a room has and how many are online.
func (c *Client) Presence(ctx context.Context, roomID string) (*Presence, error) {
	var resp Presence
	if err := c.get(ctx, "/rooms/"+url.PathEscape(roomID)+"/presence", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message is a stored room message.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"ts"`
}

// MessagesResponse is a page of room history, oldest first.
type MessagesResponse struct {
	RoomID   string    `json:"room_id"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// Messages reads room history as userID. before is the id of the oldest
// message already seen, or empty for the latest page.
func (c *Client) Messages(ctx context.Context, roomID, userID string, limit int, before string) (*MessagesResponse, error) {
	params := url.Values{}
	params.Set("userId", userID)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		params.Set("before", before)
	}

	var resp MessagesResponse
	path := "/rooms/" + url.PathEscape(roomID) + "/messages?" + params.Encode()
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Event is a frame received on a session.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Announcement is the payload of presence and room lifecycle events.
type Announcement struct {
	RoomID  string `json:"roomId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message"`
}

// ChatMessage is the payload of messageReceived.
type ChatMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type roomRequest struct {
	UserID  string `json:"userId"`
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message,omitempty"`
}

// Session is a live websocket connection for one user.
type Session struct {
	UserID string

	ws *websocket.Conn
	mu sync.Mutex // serializes writes
}

// Dial opens a session for userID.
func (c *Client) Dial(ctx context.Context, userID string) (*Session, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"userId": {userID}}.Encode()

	ws, resp, err := c.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return &Session{UserID: userID, ws: ws}, nil
}

// Emit sends a raw event.
func (s *Session) Emit(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteJSON(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{event, data})
}

// Join joins the room and starts receiving its broadcasts.
func (s *Session) Join(roomID string) error {
	return s.Emit("joinRoom", roomRequest{UserID: s.UserID, RoomID: roomID})
}

// Say posts a message to the room.
func (s *Session) Say(roomID, text string) error {
	return s.Emit("messageSent", roomRequest{UserID: s.UserID, RoomID: roomID, Message: text})
}

// SwitchAway marks the user offline in the room, keeping the membership.
func (s *Session) SwitchAway(roomID string) error {
	return s.Emit("roomChanged", roomRequest{UserID: s.UserID, RoomID: roomID})
}

// Leave gives up the membership and the user's messages in the room.
func (s *Session) Leave(roomID string) error {
	return s.Emit("leftRoom", roomRequest{UserID: s.UserID, RoomID: roomID})
}

// Logout marks the user offline in every room.
func (s *Session) Logout() error {
	return s.Emit("userLogout", roomRequest{UserID: s.UserID})
}

// AnnounceRoom tells every connected client that a room was created.
func (s *Session) AnnounceRoom() error {
	return s.Emit("createRoom", roomRequest{UserID: s.UserID})
}

// DeleteRoom deletes a room the user created.
func (s *Session) DeleteRoom(roomID string) error {
	return s.Emit("deleteRoom", roomRequest{UserID: s.UserID, RoomID: roomID})
}

// Next blocks for the next event. The context deadline, if any, bounds the
// wait; a timed-out session should be closed.
func (s *Session) Next(ctx context.Context) (*Event, error) {
	deadline, _ := ctx.Deadline()
	if err := s.ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	var e Event
	if err := s.ws.ReadJSON(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Close closes the session.
func (s *Session) Close() error {
	s.mu.Lock()
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.mu.Unlock()
	return s.ws.Close()
}
