package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/eldtechnologies/roomhub/internal/ids"
	"github.com/eldtechnologies/roomhub/internal/metrics"
)

var (
	// ErrConnectionClosed is returned for any operation on a connection
	// that was torn down or never accepted.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a slow client cannot keep up; the
	// connection is closed as a result.
	ErrSendBufferFull = errors.New("send buffer full")
)

// DefaultSendBuffer is the outbound queue length used when none is given.
const DefaultSendBuffer = 256

// Conn is one client connection. Outbound frames are queued and drained by
// the transport's write loop; Send never blocks.
type Conn struct {
	id     string
	userID string

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewConn creates a connection acting for userID, which may be empty.
func NewConn(userID string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Conn{
		id:     ids.NewConnID(),
		userID: userID,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string { return c.id }

// UserID returns the user the connection was opened for, if any.
func (c *Conn) UserID() string { return c.userID }

// Send encodes an event frame and queues it for this connection only.
func (c *Conn) Send(event string, data any) error {
	b, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *Conn) enqueue(b []byte) error {
	select {
	case <-c.done:
		metrics.DeliveriesDropped.Inc()
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- b:
		return nil
	default:
		metrics.DeliveriesDropped.Inc()
		c.Close()
		return ErrSendBufferFull
	}
}

// Outbound is drained by the transport write loop.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close marks the connection closed. It is safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// outFrame is the wire form of an outbound event.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Frame is the wire form of an inbound event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: data})
}
