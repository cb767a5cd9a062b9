package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStorePing(t *testing.T) {
	s, mr := newTestRedis(t)

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping should fail once the server is gone")
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not a url"); err == nil {
		t.Error("expected error for malformed URL")
	}
}

func TestCheckAndIncrement(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, err := s.CheckAndIncrement(ctx, "user:u1", 3, time.Hour)
		if err != nil {
			t.Fatalf("CheckAndIncrement: %v", err)
		}
		if !allowed {
			t.Fatalf("hit %d should be allowed", i+1)
		}
		if want := 3 - i - 1; remaining != want {
			t.Errorf("hit %d remaining = %d, want %d", i+1, remaining, want)
		}
	}

	allowed, remaining, err := s.CheckAndIncrement(ctx, "user:u1", 3, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if allowed || remaining != 0 {
		t.Errorf("fourth hit = %v/%d, want denied with 0 remaining", allowed, remaining)
	}

	// Keys are independent.
	allowed, _, _ = s.CheckAndIncrement(ctx, "user:u2", 3, time.Hour)
	if !allowed {
		t.Error("another key should have its own budget")
	}
}

func TestCheckAndIncrementSlides(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	tests := []struct {
		at      time.Duration
		allowed bool
	}{
		{0, true},
		{30 * time.Second, true},
		{45 * time.Second, false},
		// The hit at 0s has left the window.
		{61 * time.Second, true},
		{62 * time.Second, false},
		// Only the 61s hit remains: denied hits were never recorded.
		{91 * time.Second, true},
	}
	for _, tt := range tests {
		now := t0.Add(tt.at)
		s.now = func() time.Time { return now }
		allowed, _, err := s.CheckAndIncrement(ctx, "user:u1", 2, time.Minute)
		if err != nil {
			t.Fatalf("at %v: %v", tt.at, err)
		}
		if allowed != tt.allowed {
			t.Errorf("at %v allowed = %v, want %v", tt.at, allowed, tt.allowed)
		}
	}
}

func TestCheckAndIncrementSubSecondWindow(t *testing.T) {
	s, _ := newTestRedis(t)
	allowed, remaining, err := s.CheckAndIncrement(context.Background(), "user:u1", 1, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !allowed || remaining != 0 {
		t.Errorf("got %v/%d, want allowed with 0 remaining", allowed, remaining)
	}
}
