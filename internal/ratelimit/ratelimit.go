// Package ratelimit gates high-volume websocket events per sender.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/roomhub/internal/store"
)

// Limiter reports whether one more event from key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// maxLocalKeys bounds the per-key limiter map before idle keys are pruned.
const maxLocalKeys = 10000

// Local is an in-process token bucket per key.
type Local struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocal allows n events per window per key, with bursts up to n.
func NewLocal(n int, window time.Duration) *Local {
	return &Local{
		limit:    rate.Limit(float64(n) / window.Seconds()),
		burst:    n,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow implements Limiter.
func (l *Local) Allow(ctx context.Context, key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLocalKeys {
			l.pruneLocked()
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}

// pruneLocked drops limiters whose bucket has refilled, which only happens
// for keys that have been idle.
func (l *Local) pruneLocked() {
	for key, lim := range l.limiters {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}

// Redis is a sliding window log shared by every server instance. It fails open
// when Redis is unreachable.
type Redis struct {
	store  *store.RedisStore
	limit  int
	window time.Duration
	logger zerolog.Logger
}

// NewRedis allows limit events per window per key.
func NewRedis(rs *store.RedisStore, limit int, window time.Duration, logger zerolog.Logger) *Redis {
	return &Redis{
		store:  rs,
		limit:  limit,
		window: window,
		logger: logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Allow implements Limiter.
func (l *Redis) Allow(ctx context.Context, key string) bool {
	allowed, _, err := l.store.CheckAndIncrement(ctx, key, l.limit, l.window)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing")
		return true
	}
	return allowed
}

// Whitelist wraps a Limiter and always allows the listed keys.
type Whitelist struct {
	next    Limiter
	allowed map[string]bool
}

// WithWhitelist exempts keys from next. With no keys it returns next.
func WithWhitelist(next Limiter, keys []string) Limiter {
	if len(keys) == 0 {
		return next
	}
	w := &Whitelist{next: next, allowed: make(map[string]bool, len(keys))}
	for _, k := range keys {
		w.allowed[k] = true
	}
	return w
}

// Allow implements Limiter.
func (w *Whitelist) Allow(ctx context.Context, key string) bool {
	if w.allowed[key] {
		return true
	}
	return w.next.Allow(ctx, key)
}
