package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/api"
	"github.com/eldtechnologies/roomhub/internal/config"
	"github.com/eldtechnologies/roomhub/internal/handlers"
	"github.com/eldtechnologies/roomhub/internal/membership"
	"github.com/eldtechnologies/roomhub/internal/ratelimit"
	"github.com/eldtechnologies/roomhub/internal/realtime"
	"github.com/eldtechnologies/roomhub/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// PostgreSQL when configured, SQLite otherwise
	var dataStore store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		dataStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer dataStore.Close()

	// Redis backs rate limiting across instances; without it limits are local
	var redisStore *store.RedisStore
	var messageLimiter, httpLimiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")

		messageLimiter = ratelimit.NewRedis(redisStore, cfg.MessageRateLimit, cfg.MessageRateWindow, logger)
		httpLimiter = ratelimit.NewRedis(redisStore, cfg.HTTPRateLimit, time.Minute, logger)
	} else {
		messageLimiter = ratelimit.NewLocal(cfg.MessageRateLimit, cfg.MessageRateWindow)
		httpLimiter = ratelimit.NewLocal(cfg.HTTPRateLimit, time.Minute)
	}

	exempt := make([]string, 0, len(cfg.RateLimitWhitelist))
	for _, userID := range cfg.RateLimitWhitelist {
		exempt = append(exempt, realtime.UserRateKey(userID))
	}
	messageLimiter = ratelimit.WithWhitelist(messageLimiter, exempt)

	registry := realtime.NewRegistry(logger)
	members := membership.NewService(dataStore, logger)
	h := handlers.NewHandler(dataStore, redisStore, members, registry, logger)

	ws := realtime.NewEndpoint(registry, h.Register, realtime.EndpointOptions{
		SendBuffer:     cfg.SendBuffer,
		EventTimeout:   cfg.EventTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        messageLimiter,
		LimitedEvents:  []string{handlers.EventMessageSent},
	}, logger)

	// Create router
	router := api.NewRouter(logger, h, ws, api.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        httpLimiter,
		IPWhitelist:    cfg.IPWhitelist,
		TrustedProxies: cfg.TrustedProxies,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting roomhub server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown does not wait for hijacked websocket connections.
	registry.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Int("connections", registry.Len()).Msg("server stopped")
}
