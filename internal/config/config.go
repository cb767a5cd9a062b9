package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Websocket transport
	AllowedOrigins []string
	SendBuffer     int
	EventTimeout   time.Duration

	// Rate limiting of messageSent
	MessageRateLimit   int
	MessageRateWindow  time.Duration
	RateLimitWhitelist []string // user ids exempt from rate limiting

	// Rate limiting of HTTP requests and websocket upgrades per client IP
	HTTPRateLimit int // requests per minute
	IPWhitelist   []string

	// Proxies whose X-Forwarded-For and X-Real-IP headers are trusted
	TrustedProxies []string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnv("SQLITE_PATH", "./data/roomhub.db"),
		RedisURL:          os.Getenv("REDIS_URL"),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		SendBuffer:        getInt("WS_SEND_BUFFER", 256),
		EventTimeout:      getDuration("EVENT_TIMEOUT", 5*time.Second),
		MessageRateLimit:  getInt("MESSAGE_RATE_LIMIT", 30),
		MessageRateWindow: getDuration("MESSAGE_RATE_WINDOW", time.Minute),
		HTTPRateLimit:     getInt("HTTP_RATE_LIMIT", 120),
	}

	cfg.RateLimitWhitelist = splitList(os.Getenv("RATE_LIMIT_WHITELIST"))
	cfg.IPWhitelist = splitList(os.Getenv("IP_WHITELIST"))
	cfg.TrustedProxies = splitList(os.Getenv("TRUSTED_PROXIES"))

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
