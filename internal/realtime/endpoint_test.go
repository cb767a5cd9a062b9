package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type denyAfter struct {
	n    int32
	seen atomic.Int32
}

func (l *denyAfter) Allow(ctx context.Context, key string) bool {
	return l.seen.Add(1) <= l.n
}

func startEndpoint(t *testing.T, opts EndpointOptions, setup func(*Dispatcher)) (*Registry, string) {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	srv := httptest.NewServer(NewEndpoint(reg, setup, opts, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return reg, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func echoSetup(d *Dispatcher) {
	d.Register("echo", func(ctx context.Context, c *Conn, payload json.RawMessage) error {
		return c.Send("echoed", payload)
	})
}

func TestEndpointRoundTrip(t *testing.T) {
	_, url := startEndpoint(t, EndpointOptions{AllowedOrigins: []string{"*"}}, echoSetup)
	ws := dial(t, url+"?userId=u1")

	if err := ws.WriteJSON(map[string]any{"event": "echo", "data": map[string]string{"message": "hi"}}); err != nil {
		t.Fatal(err)
	}

	f := readFrame(t, ws)
	if f.Event != "echoed" || string(f.Data) != `{"message":"hi"}` {
		t.Errorf("frame = %s %s", f.Event, f.Data)
	}
}

func TestEndpointMalformedFrame(t *testing.T) {
	_, url := startEndpoint(t, EndpointOptions{AllowedOrigins: []string{"*"}}, echoSetup)
	ws := dial(t, url)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, ws)
	if f.Event != EventError || string(f.Data) != `"Invalid payload"` {
		t.Errorf("frame = %s %s", f.Event, f.Data)
	}

	// The connection survives and keeps serving events.
	if err := ws.WriteJSON(map[string]any{"event": "echo", "data": 1}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Event != "echoed" {
		t.Errorf("frame = %s", f.Event)
	}
}

func TestEndpointRateLimit(t *testing.T) {
	opts := EndpointOptions{
		AllowedOrigins: []string{"*"},
		Limiter:        &denyAfter{n: 1},
		LimitedEvents:  []string{"echo"},
	}
	_, url := startEndpoint(t, opts, echoSetup)
	ws := dial(t, url+"?userId=u1")

	for i := 0; i < 2; i++ {
		if err := ws.WriteJSON(map[string]any{"event": "echo", "data": i}); err != nil {
			t.Fatal(err)
		}
	}

	if f := readFrame(t, ws); f.Event != "echoed" {
		t.Errorf("first frame = %s, want echoed", f.Event)
	}
	f := readFrame(t, ws)
	if f.Event != EventError || string(f.Data) != `"Rate limit exceeded"` {
		t.Errorf("second frame = %s %s, want rate limit error", f.Event, f.Data)
	}
}

func TestEndpointTeardownOnClose(t *testing.T) {
	disconnected := make(chan string, 1)
	reg, url := startEndpoint(t, EndpointOptions{AllowedOrigins: []string{"*"}}, func(d *Dispatcher) {
		d.Register(EventDisconnect, func(ctx context.Context, c *Conn, payload json.RawMessage) error {
			disconnected <- c.UserID()
			return nil
		})
	})
	ws := dial(t, url+"?userId=u7")

	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()

	select {
	case user := <-disconnected:
		if user != "u7" {
			t.Errorf("disconnect for %q, want u7", user)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect was not notified")
	}
	for reg.Len() != 0 && time.Now().Before(deadline.Add(time.Second)) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Errorf("Len after close = %d, want 0", reg.Len())
	}
}

func TestEndpointIgnoresClientDisconnect(t *testing.T) {
	called := make(chan struct{}, 1)
	_, url := startEndpoint(t, EndpointOptions{AllowedOrigins: []string{"*"}}, func(d *Dispatcher) {
		echoSetup(d)
		d.Register(EventDisconnect, func(ctx context.Context, c *Conn, payload json.RawMessage) error {
			called <- struct{}{}
			return nil
		})
	})
	ws := dial(t, url)

	if err := ws.WriteJSON(map[string]any{"event": EventDisconnect}); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(map[string]any{"event": "echo", "data": "still here"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Event != "echoed" {
		t.Fatalf("frame = %s", f.Event)
	}
	select {
	case <-called:
		t.Error("client-sent disconnect must not reach handlers")
	default:
	}
}

func TestEndpointOriginCheck(t *testing.T) {
	_, url := startEndpoint(t, EndpointOptions{AllowedOrigins: []string{"https://chat.example"}}, echoSetup)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial from a foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %v, want 403", resp)
	}

	header.Set("Origin", "https://chat.example")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	ws.Close()
}

func TestRegistryCloseEndsSockets(t *testing.T) {
	reg, url := startEndpoint(t, EndpointOptions{AllowedOrigins: []string{"*"}}, echoSetup)
	ws := dial(t, url)

	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	reg.Close()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after Close = %v, want normal closure", err)
	}
}
