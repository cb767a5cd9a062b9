package roomhub

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/api"
	"github.com/eldtechnologies/roomhub/internal/handlers"
	"github.com/eldtechnologies/roomhub/internal/membership"
	"github.com/eldtechnologies/roomhub/internal/realtime"
	"github.com/eldtechnologies/roomhub/internal/store/storetest"
)

func startServer(t *testing.T) (*Client, *storetest.Memory) {
	t.Helper()
	logger := zerolog.Nop()
	st := storetest.NewMemory()
	reg := realtime.NewRegistry(logger)
	h := handlers.NewHandler(st, nil, membership.NewService(st, logger), reg, logger)
	ws := realtime.NewEndpoint(reg, h.Register, realtime.EndpointOptions{SendBuffer: 16}, logger)

	srv := httptest.NewServer(api.NewRouter(logger, h, ws, api.Options{}))
	t.Cleanup(func() {
		reg.Close()
		srv.Close()
	})
	return NewClient(srv.URL), st
}

func next(t *testing.T, s *Session) *Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("next event for %s: %v", s.UserID, err)
	}
	return e
}

func TestSessionConversation(t *testing.T) {
	c, st := startServer(t)
	st.AddRoom("r1", "lobby", "u9")
	st.AddUser("u1", "alice")
	st.AddUser("u2", "bob")
	ctx := context.Background()

	alice, err := c.Dial(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()
	bob, err := c.Dial(ctx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()

	if err := alice.Join("r1"); err != nil {
		t.Fatal(err)
	}
	var joined Announcement
	if e := next(t, alice); e.Event != "message" {
		t.Fatalf("event = %q", e.Event)
	} else if err := e.Decode(&joined); err != nil || joined.Message != "alice has joined the room" {
		t.Errorf("joined = %+v, %v", joined, err)
	}

	if err := bob.Join("r1"); err != nil {
		t.Fatal(err)
	}
	next(t, alice) // bob's join
	next(t, bob)

	if err := alice.Say("r1", "hello bob"); err != nil {
		t.Fatal(err)
	}
	for _, s := range []*Session{alice, bob} {
		e := next(t, s)
		var msg ChatMessage
		if e.Event != "messageReceived" || e.Decode(&msg) != nil {
			t.Fatalf("%s got %+v", s.UserID, e)
		}
		if msg.Username != "alice" || msg.Message != "hello bob" {
			t.Errorf("%s got %+v", s.UserID, msg)
		}
	}

	p, err := c.Presence(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Online != 2 || p.Members != 2 || p.Name != "lobby" {
		t.Errorf("presence = %+v", p)
	}

	history, err := c.Messages(ctx, "r1", "u2", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(history.Messages) != 1 || history.Messages[0].Message != "hello bob" {
		t.Errorf("history = %+v", history)
	}

	if err := bob.Logout(); err != nil {
		t.Fatal(err)
	}
	if e := next(t, alice); e.Event != "userLoggedOut" {
		t.Errorf("event = %q, want userLoggedOut", e.Event)
	}
	p, err = c.Presence(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Online != 1 {
		t.Errorf("online after logout = %d, want 1", p.Online)
	}
}

func TestClientErrors(t *testing.T) {
	c, _ := startServer(t)

	if _, err := c.Presence(context.Background(), "missing"); err == nil {
		t.Error("expected an error for a missing room")
	}

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" {
		t.Errorf("health = %+v", h)
	}
}
