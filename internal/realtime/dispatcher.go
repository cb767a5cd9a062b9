package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/metrics"
)

// EventDisconnect is notified by the registry when a connection is torn down.
const EventDisconnect = "disconnect"

// HandlerFunc handles one inbound event for a connection. A returned error
// is logged and counted; it never reaches other handlers or connections.
type HandlerFunc func(ctx context.Context, c *Conn, payload json.RawMessage) error

// Dispatcher routes inbound events of one connection to the handlers
// registered for their kind, in registration order.
type Dispatcher struct {
	conn   *Conn
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

func newDispatcher(c *Conn, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		conn:     c,
		logger:   logger,
		handlers: make(map[string][]HandlerFunc),
	}
}

// Conn returns the connection the dispatcher is bound to.
func (d *Dispatcher) Conn() *Conn { return d.conn }

// Register attaches h for kind for the rest of the connection's lifetime.
func (d *Dispatcher) Register(kind string, h HandlerFunc) {
	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], h)
	d.mu.Unlock()
}

// Notify runs every handler registered for kind. Unknown kinds are logged
// and ignored. A failing or panicking handler does not stop the rest.
func (d *Dispatcher) Notify(ctx context.Context, kind string, payload json.RawMessage) {
	d.mu.RLock()
	handlers := d.handlers[kind]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		metrics.EventsUnknown.Inc()
		d.logger.Warn().Str("event", kind).Msg("no handler for event")
		return
	}

	metrics.EventsReceived.WithLabelValues(kind).Inc()
	for i, h := range handlers {
		if err := d.invoke(ctx, h, payload); err != nil {
			metrics.HandlerErrors.WithLabelValues(kind).Inc()
			d.logger.Error().
				Err(err).
				Str("event", kind).
				Int("handler", i).
				Msg("event handler failed")
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h HandlerFunc, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug().Bytes("stack", debug.Stack()).Msg("handler panic")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, d.conn, payload)
}
