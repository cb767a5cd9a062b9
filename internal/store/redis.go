package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/roomhub/internal/ids"
	"github.com/eldtechnologies/roomhub/internal/metrics"
)

// RedisStore handles Redis operations shared across server instances.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client, now: time.Now}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// slidingWindow trims hits older than the window, then records the new hit
// only when the key is under its limit. Rejected hits are not counted.
var slidingWindow = redis.NewScript(`
local limit = tonumber(ARGV[4])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
if count < limit then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	return {1, limit - count - 1}
end
return {0, 0}
`)

// CheckAndIncrement records one hit for key in a sliding window and reports
// whether it is within limit hits per window, along with the remaining
// budget.
func (s *RedisStore) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	// ARGV: now, cutoff, ttl (ms), limit, member
	res, err := slidingWindow.Run(ctx, s.client,
		[]string{"ratelimit:" + key},
		now.UnixMilli(), now.UnixMilli()-windowMs, windowMs, limit, ids.NewConnID(),
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	return res[0] == 1, int(res[1]), nil
}
