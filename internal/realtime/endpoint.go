package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 16 * 1024
)

// EventError carries a human-readable error text to a single connection.
const EventError = "error"

// Limiter gates rate-limited events at the transport boundary.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// EndpointOptions configures the websocket endpoint.
type EndpointOptions struct {
	SendBuffer     int
	EventTimeout   time.Duration
	AllowedOrigins []string // "*" allows any origin

	Limiter       Limiter  // nil disables rate limiting
	LimitedEvents []string // event kinds passed through Limiter
}

// Endpoint upgrades HTTP requests to websocket connections and pumps
// frames between the socket and the connection's dispatcher.
type Endpoint struct {
	registry *Registry
	setup    func(*Dispatcher)
	opts     EndpointOptions
	limited  map[string]bool
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewEndpoint creates an endpoint. setup registers the event handlers of
// every accepted connection.
func NewEndpoint(registry *Registry, setup func(*Dispatcher), opts EndpointOptions, logger zerolog.Logger) *Endpoint {
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 5 * time.Second
	}
	e := &Endpoint{
		registry: registry,
		setup:    setup,
		opts:     opts,
		limited:  make(map[string]bool),
		logger:   logger.With().Str("component", "ws").Logger(),
	}
	for _, kind := range opts.LimitedEvents {
		e.limited[kind] = true
	}
	e.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     e.checkOrigin,
	}
	return e
}

func (e *Endpoint) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range e.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP handles GET /ws?userId=<id>.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		e.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := NewConn(r.URL.Query().Get("userId"), e.opts.SendBuffer)
	d := e.registry.Accept(c, e.setup)

	go e.writeLoop(ws, c)
	e.readLoop(context.WithoutCancel(r.Context()), ws, c, d, rateKey(r, c))
}

// readLoop processes frames strictly in arrival order until the socket
// fails, then tears the connection down.
func (e *Endpoint) readLoop(base context.Context, ws *websocket.Conn, c *Conn, d *Dispatcher, key string) {
	defer func() {
		ctx, cancel := context.WithTimeout(base, e.opts.EventTimeout)
		defer cancel()
		e.registry.Teardown(ctx, c)
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.logger.Debug().Err(err).Str("conn_id", c.ID()).Msg("websocket read failed")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			_ = c.Send(EventError, "Invalid payload")
			continue
		}
		if f.Event == EventDisconnect {
			e.logger.Warn().Str("conn_id", c.ID()).Msg("client sent reserved event")
			continue
		}

		if e.limited[f.Event] && e.opts.Limiter != nil && !e.opts.Limiter.Allow(base, key) {
			metrics.RateLimitHits.WithLabelValues(f.Event).Inc()
			e.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("kind", f.Event).
				Str("key", key).
				Msg("rate limit exceeded")
			_ = c.Send(EventError, "Rate limit exceeded")
			continue
		}

		ctx, cancel := context.WithTimeout(base, e.opts.EventTimeout)
		d.Notify(ctx, f.Event, f.Data)
		cancel()
	}
}

// writeLoop drains the connection's queue onto the socket and keeps it
// alive with pings. It owns closing the socket.
func (e *Endpoint) writeLoop(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case b := <-c.Outbound():
			if err := writeText(ws, b); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.Done():
			// Flush what was queued before the close.
			for n := len(c.Outbound()); n > 0; n-- {
				if err := writeText(ws, <-c.Outbound()); err != nil {
					return
				}
			}
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeText(ws *websocket.Conn, b []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

// UserRateKey is the rate limit key of a connection opened by userID.
func UserRateKey(userID string) string {
	return "ws:user:" + userID
}

// rateKey identifies the sender for rate limiting: the user when known,
// the client address otherwise.
func rateKey(r *http.Request, c *Conn) string {
	if c.UserID() != "" {
		return UserRateKey(c.UserID())
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ws:ip:" + host
}
