package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

// recv pops the next queued frame of c, failing if there is none.
func recv(t *testing.T, c *Conn) outFrame {
	t.Helper()
	select {
	case b := <-c.Outbound():
		var f struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		var data any
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &data); err != nil {
				t.Fatalf("decode data: %v", err)
			}
		}
		return outFrame{Event: f.Event, Data: data}
	default:
		t.Fatalf("no frame queued for %s", c.ID())
		return outFrame{}
	}
}

func assertEmpty(t *testing.T, c *Conn) {
	t.Helper()
	if n := len(c.Outbound()); n != 0 {
		t.Errorf("expected no frames for %s, have %d", c.ID(), n)
	}
}

func TestRegistrySubscribeAndBroadcast(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	a := NewConn("u1", 8)
	b := NewConn("u2", 8)
	other := NewConn("u3", 8)
	for _, c := range []*Conn{a, b, other} {
		r.Accept(c, nil)
	}

	if err := r.Subscribe(a, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(b, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(other, "r2"); err != nil {
		t.Fatal(err)
	}

	if n := r.ToRoom("r1", "message", "hello"); n != 2 {
		t.Errorf("ToRoom delivered %d, want 2", n)
	}
	for _, c := range []*Conn{a, b} {
		f := recv(t, c)
		if f.Event != "message" || f.Data != "hello" {
			t.Errorf("frame = %+v", f)
		}
	}
	assertEmpty(t, other)

	if n := r.ToAll("roomAdded", "New room added..."); n != 3 {
		t.Errorf("ToAll delivered %d, want 3", n)
	}
	for _, c := range []*Conn{a, b, other} {
		if f := recv(t, c); f.Event != "roomAdded" {
			t.Errorf("frame = %+v", f)
		}
	}

	if err := r.Unsubscribe(b, "r1"); err != nil {
		t.Fatal(err)
	}
	if n := r.ToRoom("r1", "message", "again"); n != 1 {
		t.Errorf("ToRoom after unsubscribe delivered %d, want 1", n)
	}
	assertEmpty(t, b)
}

func TestRegistryRooms(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c := NewConn("u1", 1)
	r.Accept(c, nil)

	for _, room := range []string{"r2", "r1"} {
		if err := r.Subscribe(c, room); err != nil {
			t.Fatal(err)
		}
	}
	rooms, err := r.Rooms(c)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"r1", "r2"}; !reflect.DeepEqual(rooms, want) {
		t.Errorf("Rooms = %v, want %v", rooms, want)
	}
}

func TestRegistryTeardown(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c := NewConn("u1", 4)

	disconnects := 0
	var roomsAtDisconnect []string
	r.Accept(c, func(d *Dispatcher) {
		d.Register(EventDisconnect, func(ctx context.Context, conn *Conn, payload json.RawMessage) error {
			disconnects++
			roomsAtDisconnect, _ = r.Rooms(conn)
			return nil
		})
	})
	if err := r.Subscribe(c, "r1"); err != nil {
		t.Fatal(err)
	}

	r.Teardown(context.Background(), c)
	r.Teardown(context.Background(), c)

	if disconnects != 1 {
		t.Errorf("disconnect notified %d times, want 1", disconnects)
	}
	if !reflect.DeepEqual(roomsAtDisconnect, []string{"r1"}) {
		t.Errorf("rooms during disconnect = %v, want [r1]", roomsAtDisconnect)
	}
	if !c.Closed() {
		t.Error("teardown should close the connection")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	if n := r.ToRoom("r1", "message", "x"); n != 0 {
		t.Errorf("ToRoom after teardown delivered %d", n)
	}

	for name, err := range map[string]error{
		"Subscribe":   r.Subscribe(c, "r1"),
		"Unsubscribe": r.Unsubscribe(c, "r1"),
	} {
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("%s after teardown = %v, want ErrConnectionClosed", name, err)
		}
	}
	if _, err := r.Rooms(c); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Rooms after teardown = %v, want ErrConnectionClosed", err)
	}
	if err := c.Send("message", "late"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send after teardown = %v, want ErrConnectionClosed", err)
	}
}

func TestRegistryUnknownConnection(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c := NewConn("u1", 1)

	if err := r.Subscribe(c, "r1"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Subscribe = %v, want ErrConnectionClosed", err)
	}
	// Teardown of an unknown connection is a no-op.
	r.Teardown(context.Background(), c)
}

func TestSlowConsumerIsClosed(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	slow := NewConn("u1", 1)
	fast := NewConn("u2", 4)
	r.Accept(slow, nil)
	r.Accept(fast, nil)
	_ = r.Subscribe(slow, "r1")
	_ = r.Subscribe(fast, "r1")

	if n := r.ToRoom("r1", "message", "one"); n != 2 {
		t.Fatalf("first broadcast delivered %d, want 2", n)
	}
	if n := r.ToRoom("r1", "message", "two"); n != 1 {
		t.Fatalf("second broadcast delivered %d, want 1", n)
	}
	if !slow.Closed() {
		t.Error("slow consumer should be closed")
	}
	if err := slow.Send("message", "x"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send = %v, want ErrConnectionClosed", err)
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	a, b := NewConn("u1", 1), NewConn("u2", 1)
	r.Accept(a, nil)
	r.Accept(b, nil)

	r.Close()

	if !a.Closed() || !b.Closed() {
		t.Error("Close should close every connection")
	}
}

func TestConnSendFullBuffer(t *testing.T) {
	c := NewConn("", 1)
	if err := c.Send("message", "one"); err != nil {
		t.Fatal(err)
	}
	if err := c.Send("message", "two"); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("Send = %v, want ErrSendBufferFull", err)
	}
	if c.ID() == "" {
		t.Error("connection should have an id")
	}
}

func TestRegistryDropRoom(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	a, b := NewConn("u1", 2), NewConn("u2", 2)
	r.Accept(a, nil)
	r.Accept(b, nil)
	_ = r.Subscribe(a, "r1")
	_ = r.Subscribe(b, "r1")
	_ = r.Subscribe(b, "r2")

	if n := r.DropRoom("r1"); n != 2 {
		t.Errorf("DropRoom = %d, want 2", n)
	}
	if n := r.ToRoom("r1", "message", "x"); n != 0 {
		t.Errorf("ToRoom after drop delivered %d", n)
	}
	rooms, _ := r.Rooms(b)
	if !reflect.DeepEqual(rooms, []string{"r2"}) {
		t.Errorf("Rooms(b) = %v, want [r2]", rooms)
	}
}
