package history

import (
	"context"
	"fmt"
	"log/slog"

	"csbridge/internal/config"
	"csbridge/internal/domain"
)

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (domain.HistoryStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(cfg.DBPath, logger)
	case "redis":
		return DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", cfg.Backend)
	}
}
