package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/metrics"
)

type session struct {
	conn       *Conn
	dispatcher *Dispatcher
	rooms      map[string]struct{}
	closing    bool
}

// Registry tracks live connections from accept to teardown and the rooms
// each one is subscribed to. It is also the broadcaster.
type Registry struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session         // connID -> session
	rooms    map[string]map[string]*Conn // roomID -> connID -> conn
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:   logger.With().Str("component", "registry").Logger(),
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]*Conn),
	}
}

// Accept starts tracking c and returns its dispatcher after setup has
// registered the connection's handlers.
func (r *Registry) Accept(c *Conn, setup func(*Dispatcher)) *Dispatcher {
	logger := r.logger.With().Str("conn_id", c.ID()).Str("user_id", c.UserID()).Logger()
	d := newDispatcher(c, logger)
	if setup != nil {
		setup(d)
	}

	r.mu.Lock()
	r.sessions[c.ID()] = &session{
		conn:       c,
		dispatcher: d,
		rooms:      make(map[string]struct{}),
	}
	r.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	logger.Debug().Msg("connection accepted")
	return d
}

// Teardown notifies a synthesized disconnect event, then forgets and closes
// the connection. Later calls for the same connection do nothing.
func (r *Registry) Teardown(ctx context.Context, c *Conn) {
	r.mu.Lock()
	s, ok := r.sessions[c.ID()]
	if !ok || s.closing {
		r.mu.Unlock()
		return
	}
	s.closing = true
	r.mu.Unlock()

	s.dispatcher.Notify(ctx, EventDisconnect, nil)

	r.mu.Lock()
	for roomID := range s.rooms {
		r.leaveLocked(roomID, c.ID())
	}
	delete(r.sessions, c.ID())
	r.mu.Unlock()

	c.Close()
	metrics.ConnectionsActive.Dec()
	r.logger.Debug().Str("conn_id", c.ID()).Msg("connection torn down")
}

// Subscribe adds c to the room's delivery set.
func (r *Registry) Subscribe(c *Conn, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[c.ID()]
	if !ok {
		return ErrConnectionClosed
	}

	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*Conn)
		r.rooms[roomID] = room
	}
	room[c.ID()] = c
	s.rooms[roomID] = struct{}{}
	return nil
}

// Unsubscribe removes c from the room's delivery set.
func (r *Registry) Unsubscribe(c *Conn, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[c.ID()]; !ok {
		return ErrConnectionClosed
	}
	r.leaveLocked(roomID, c.ID())
	return nil
}

// Rooms returns the rooms c is subscribed to, sorted.
func (r *Registry) Rooms(c *Conn) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[c.ID()]
	if !ok {
		return nil, ErrConnectionClosed
	}
	rooms := make([]string, 0, len(s.rooms))
	for roomID := range s.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms, nil
}

// DropRoom unsubscribes every connection from roomID and returns how many
// were subscribed.
func (r *Registry) DropRoom(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[roomID]
	for connID := range room {
		if s, ok := r.sessions[connID]; ok {
			delete(s.rooms, roomID)
		}
	}
	delete(r.rooms, roomID)
	return len(room)
}

// ToRoom delivers an event to every connection subscribed to roomID,
// including the one that caused it. It returns the number of deliveries.
func (r *Registry) ToRoom(roomID, event string, data any) int {
	b, err := encodeFrame(event, data)
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return 0
	}
	metrics.Broadcasts.WithLabelValues("room").Inc()

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.rooms[roomID]))
	for _, c := range r.rooms[roomID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	return deliver(targets, b)
}

// ToAll delivers an event to every live connection.
func (r *Registry) ToAll(event string, data any) int {
	b, err := encodeFrame(event, data)
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return 0
	}
	metrics.Broadcasts.WithLabelValues("all").Inc()

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s.conn)
	}
	r.mu.RUnlock()

	return deliver(targets, b)
}

func deliver(targets []*Conn, b []byte) int {
	delivered := 0
	for _, c := range targets {
		if err := c.enqueue(b); err == nil {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close closes every live connection. Transports then tear them down.
func (r *Registry) Close() {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.sessions))
	for _, s := range r.sessions {
		conns = append(conns, s.conn)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

func (r *Registry) leaveLocked(roomID, connID string) {
	if room := r.rooms[roomID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if s, ok := r.sessions[connID]; ok {
		delete(s.rooms, roomID)
	}
}
