package store

import (
	"fmt"
	"log/slog"

	"github.com/HatiCode/ridecast/cmd/ridecast/config"
	"github.com/HatiCode/ridecast/pkg/storage"
)

// New opens the report store selected by cfg.Storage.
func New(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case "redis":
		logger.Info("using Redis report storage",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"ttl", cfg.RedisTTL,
		)
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, fmt.Errorf("redis storage: %w", err)
		}
		return s, nil
	case "memory", "":
		logger.Info("using in-memory report storage")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("invalid storage backend %q (must be memory or redis)", cfg.Storage)
	}
}
