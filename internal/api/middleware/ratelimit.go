package middleware

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/metrics"
	"github.com/eldtechnologies/roomhub/internal/ratelimit"
)

// RateLimiter limits HTTP requests, websocket upgrades included, per client IP.
// The client IP is read from RemoteAddr, so TrustedProxies.Middleware must
// run first when the server sits behind a proxy.
type RateLimiter struct {
	limiter   ratelimit.Limiter
	logger    zerolog.Logger
	whitelist ipSet
}

// NewRateLimiter creates a new rate limiter. whitelist entries are IPs or
// CIDRs exempt from limiting.
func NewRateLimiter(limiter ratelimit.Limiter, logger zerolog.Logger, whitelist []string) *RateLimiter {
	rl := &RateLimiter{
		limiter:   limiter,
		logger:    logger,
		whitelist: parseIPSet(whitelist, logger, "whitelist"),
	}

	if len(whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelist.ips)).
			Int("cidrs", len(rl.whitelist.nets)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		if rl.whitelist.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.limiter.Allow(r.Context(), "http:ip:"+ip) {
			metrics.RateLimitHits.WithLabelValues("http").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
