package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"reqscope/internal/config"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("key not found")

// Store is a key-value blob store holding session snapshots.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open creates the backend selected by cfg.Storage. STORAGE=off returns a
// nil Store, which Session treats as memory-only mode.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Storage {
	case config.StorageMemory:
		return NewMemoryStore(), nil
	case config.StorageSQLite:
		return NewSQLiteStore(cfg.StoragePath, cfg.SessionTTL, logger)
	case config.StorageRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		}, logger)
	case config.StorageOff:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage)
	}
}
