package main

import (
	"context"
	"fmt"
	"log/slog"

	"duesync/internal/config"
	"duesync/internal/redisstore"
	"duesync/internal/server"
	"duesync/internal/store"
	"duesync/internal/tracking"
)

// stateBackend is the configured home of tracking state. The memory backend
// has no persister and keeps the handshake secret in the server.
type stateBackend struct {
	name      string
	persister tracking.Persister
	secrets   server.SecretStore
	close     func() error
}

func (b *stateBackend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

func openStateBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stateBackend, error) {
	switch cfg.State.Backend {
	case config.BackendSQLite:
		logger.Info("opening database", "path", cfg.State.DBPath)
		st, err := store.Open(cfg.State.DBPath)
		if err != nil {
			return nil, err
		}
		return &stateBackend{name: config.BackendSQLite, persister: st, secrets: st, close: st.Close}, nil

	case config.BackendRedis:
		logger.Info("connecting to redis", "prefix", cfg.State.RedisPrefix)
		st, err := redisstore.Open(ctx, cfg.State.RedisURL, cfg.State.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return &stateBackend{name: config.BackendRedis, persister: st, secrets: st, close: st.Close}, nil

	case config.BackendMemory, "":
		logger.Warn("tracking state is kept in memory only; extensions are forgotten on restart")
		return &stateBackend{name: config.BackendMemory}, nil

	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}
