// seed creates users and rooms. Creating them is outside the realtime
// protocol, so local setups and tests use this instead.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomhub/internal/config"
	"github.com/eldtechnologies/roomhub/internal/store"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}

	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	switch os.Args[1] {
	case "user":
		user, err := st.CreateUser(ctx, os.Args[2])
		if err != nil {
			logger.Fatal().Err(err).Msg("create user")
		}
		logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user created")
		fmt.Println(user.ID)

	case "room":
		if len(os.Args) < 4 {
			usage()
			os.Exit(1)
		}
		creator, err := st.GetUser(ctx, os.Args[3])
		if err != nil {
			logger.Fatal().Err(err).Msg("look up creator")
		}
		if creator == nil {
			logger.Fatal().Str("user_id", os.Args[3]).Msg("creator not found")
		}
		room, err := st.CreateRoom(ctx, os.Args[2], creator.ID)
		if err != nil {
			logger.Fatal().Err(err).Msg("create room")
		}
		logger.Info().Str("room_id", room.ID).Str("name", room.Name).Msg("room created")
		fmt.Println(room.ID)

	default:
		usage()
		os.Exit(1)
	}
}

func open(ctx context.Context, cfg *config.Config) (store.DataStore, error) {
	if cfg.DatabaseURL == "" {
		return store.NewSQLiteStore(ctx, cfg.SQLitePath)
	}
	if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	return store.NewPostgresStore(ctx, cfg.DatabaseURL)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  seed user <username>
  seed room <name> <creator_user_id>

Uses DATABASE_URL when set, SQLITE_PATH otherwise.`)
}
