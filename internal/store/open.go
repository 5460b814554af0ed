package store

import (
	"context"
	"fmt"

	"cryptobars/internal/config"
)

// Open creates the Store selected by cfg.Driver and applies its schema.
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrConfiguration, cfg.Driver)
	}
}
