package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "ENV", "DATABASE_URL", "REDIS_URL", "ALLOWED_ORIGINS", "WS_SEND_BUFFER", "EVENT_TIMEOUT", "MESSAGE_RATE_LIMIT", "MESSAGE_RATE_WINDOW", "RATE_LIMIT_WHITELIST", "SQLITE_PATH", "HTTP_RATE_LIMIT", "IP_WHITELIST", "TRUSTED_PROXIES"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development env by default")
	}
	if cfg.SendBuffer != 256 {
		t.Errorf("SendBuffer = %d, want 256", cfg.SendBuffer)
	}
	if cfg.EventTimeout != 5*time.Second {
		t.Errorf("EventTimeout = %v, want 5s", cfg.EventTimeout)
	}
	if cfg.MessageRateLimit != 30 || cfg.MessageRateWindow != time.Minute {
		t.Errorf("rate limit = %d/%v, want 30/1m", cfg.MessageRateLimit, cfg.MessageRateWindow)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"*"}) {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.RateLimitWhitelist != nil {
		t.Errorf("RateLimitWhitelist = %v, want nil", cfg.RateLimitWhitelist)
	}
	if cfg.HTTPRateLimit != 120 {
		t.Errorf("HTTPRateLimit = %d, want 120", cfg.HTTPRateLimit)
	}
	if cfg.TrustedProxies != nil {
		t.Errorf("TrustedProxies = %v, want nil", cfg.TrustedProxies)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("WS_SEND_BUFFER", "16")
	t.Setenv("EVENT_TIMEOUT", "250ms")
	t.Setenv("MESSAGE_RATE_LIMIT", "not-a-number")
	t.Setenv("RATE_LIMIT_WHITELIST", "u1,u2")
	t.Setenv("IP_WHITELIST", "10.0.0.0/8")
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.1, 172.16.0.0/12 ")

	cfg := Load()

	if cfg.IsDevelopment() {
		t.Error("staging should not be development")
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	if cfg.SendBuffer != 16 {
		t.Errorf("SendBuffer = %d, want 16", cfg.SendBuffer)
	}
	if cfg.EventTimeout != 250*time.Millisecond {
		t.Errorf("EventTimeout = %v, want 250ms", cfg.EventTimeout)
	}
	if cfg.MessageRateLimit != 30 {
		t.Errorf("invalid MESSAGE_RATE_LIMIT should fall back to 30, got %d", cfg.MessageRateLimit)
	}
	if want := []string{"u1", "u2"}; !reflect.DeepEqual(cfg.RateLimitWhitelist, want) {
		t.Errorf("RateLimitWhitelist = %v, want %v", cfg.RateLimitWhitelist, want)
	}
	if want := []string{"10.0.0.0/8"}; !reflect.DeepEqual(cfg.IPWhitelist, want) {
		t.Errorf("IPWhitelist = %v, want %v", cfg.IPWhitelist, want)
	}
	if want := []string{"10.0.0.1", "172.16.0.0/12"}; !reflect.DeepEqual(cfg.TrustedProxies, want) {
		t.Errorf("TrustedProxies = %v, want %v", cfg.TrustedProxies, want)
	}
}

func TestLoadProductionRequiresDatabase(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	defer func() {
		if recover() == nil {
			t.Error("expected panic without DATABASE_URL in production")
		}
	}()
	Load()
}
