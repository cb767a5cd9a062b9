package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/api/middleware"
	"github.com/eldtechnologies/roomhub/internal/handlers"
	"github.com/eldtechnologies/roomhub/internal/ratelimit"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// Limiter gates every request per client IP. Nil disables limiting.
	Limiter     ratelimit.Limiter
	IPWhitelist []string

	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are honored. Empty trusts no forwarding headers.
	TrustedProxies []string
}

// NewRouter creates and configures the HTTP router. ws serves the
// websocket upgrade at /ws.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, ws http.Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.NewTrustedProxies(opts.TrustedProxies, logger).Middleware)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	r.Get("/", h.Root)

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(middleware.NewRateLimiter(opts.Limiter, logger, opts.IPWhitelist).Middleware)
		}

		r.Get("/ws", ws.ServeHTTP)
		r.Get("/rooms/{id}/presence", h.Presence)
		r.Get("/rooms/{id}/messages", h.GetRoomMessages)
	})

	return r
}
