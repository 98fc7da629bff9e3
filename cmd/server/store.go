package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mentorlink/session-server/internal/config"
	"github.com/mentorlink/session-server/internal/database"
	"github.com/mentorlink/session-server/internal/mongo"
	"github.com/mentorlink/session-server/internal/repository"
)

// store is the session repository for the configured driver together with
// its health check and shutdown.
type store struct {
	sessions repository.SessionRepository
	ping     func(ctx context.Context) error
	close    func() error
}

func openStore(cfg *config.Config) (*store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		ctx, cancel := context.WithTimeout(context.Background(), config.MongoConnectTimeout)
		defer cancel()

		client, err := mongo.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		log.Info().Str("database", cfg.MongoDatabase).Msg("mongo connected")

		return &store{
			sessions: repository.NewMongoSessionRepository(client.Sessions()),
			ping:     client.Ping,
			close:    client.Close,
		}, nil

	default:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		log.Info().Msg("database connected")

		return &store{
			sessions: repository.NewSessionRepository(db.DB),
			ping:     db.Ping,
			close:    db.Close,
		}, nil
	}
}
