package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomhub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomhub_connections_active",
			Help: "Live websocket connections",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_events_received_total",
			Help: "Inbound events dispatched, by kind",
		},
		[]string{"kind"},
	)

	EventsUnknown = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomhub_events_unknown_total",
			Help: "Inbound events with no registered handler",
		},
	)

	HandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_event_handler_errors_total",
			Help: "Event handler failures (errors and recovered panics), by kind",
		},
		[]string{"kind"},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_broadcasts_total",
			Help: "Broadcasts issued",
		},
		[]string{"scope"}, // "room" or "all"
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomhub_deliveries_dropped_total",
			Help: "Outbound frames dropped because the connection was closed or its buffer was full",
		},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomhub_messages_posted_total",
			Help: "Total messages posted",
		},
	)

	MembershipTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_membership_transitions_total",
			Help: "Membership state changes",
		},
		[]string{"transition"}, // created, returned, offline, left, logout
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomhub_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"event"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomhub_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomhub_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
