package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zhouzirui/cyberbuddy/backend/internal/config"
)

// Open 按 STORE_DRIVER 打开对应的存储后端。
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreMemory, "":
		slog.Info("using in-memory store")
		return NewMemoryStore(), nil
	case config.StoreSQLite:
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("using sqlite store", "path", cfg.SQLitePath)
		return store, nil
	case config.StorePostgres:
		if err := RunPostgresMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("using postgres store")
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
