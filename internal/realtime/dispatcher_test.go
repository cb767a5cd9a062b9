package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestDispatcherRunsHandlersInOrder(t *testing.T) {
	d := newDispatcher(NewConn("u1", 1), zerolog.Nop())

	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		d.Register("joinRoom", func(ctx context.Context, c *Conn, payload json.RawMessage) error {
			calls = append(calls, name)
			return nil
		})
	}

	d.Notify(context.Background(), "joinRoom", json.RawMessage(`{}`))

	if want := []string{"first", "second", "third"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	tests := []struct {
		name    string
		failing HandlerFunc
	}{
		{
			name: "error",
			failing: func(ctx context.Context, c *Conn, payload json.RawMessage) error {
				return errors.New("persistence down")
			},
		},
		{
			name: "panic",
			failing: func(ctx context.Context, c *Conn, payload json.RawMessage) error {
				panic("nil map")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher(NewConn("u1", 1), zerolog.Nop())
			ran := false
			d.Register("leftRoom", tt.failing)
			d.Register("leftRoom", func(ctx context.Context, c *Conn, payload json.RawMessage) error {
				ran = true
				return nil
			})

			d.Notify(context.Background(), "leftRoom", nil)

			if !ran {
				t.Error("handler after the failing one should still run")
			}
		})
	}
}

func TestDispatcherUnknownKind(t *testing.T) {
	d := newDispatcher(NewConn("u1", 1), zerolog.Nop())
	d.Register("joinRoom", func(ctx context.Context, c *Conn, payload json.RawMessage) error {
		t.Error("joinRoom handler must not run for another kind")
		return nil
	})

	// Must not panic or call anything.
	d.Notify(context.Background(), "doesNotExist", json.RawMessage(`{}`))
}

func TestDispatcherPassesConnAndPayload(t *testing.T) {
	c := NewConn("u1", 1)
	d := newDispatcher(c, zerolog.Nop())

	var gotConn *Conn
	var gotPayload string
	d.Register("messageSent", func(ctx context.Context, conn *Conn, payload json.RawMessage) error {
		gotConn = conn
		gotPayload = string(payload)
		return nil
	})

	d.Notify(context.Background(), "messageSent", json.RawMessage(`{"message":"hi"}`))

	if gotConn != c {
		t.Error("handler should receive the dispatcher's connection")
	}
	if gotPayload != `{"message":"hi"}` {
		t.Errorf("payload = %s", gotPayload)
	}
	if d.Conn() != c {
		t.Error("Conn() should return the bound connection")
	}
}
