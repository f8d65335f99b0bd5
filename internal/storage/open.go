package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/pinflow/internal/service"
)

// Open returns the storage backend selected by driver ("sqlite" or "postgres").
// For sqlite, target is a file path; for postgres, a connection string.
func Open(ctx context.Context, driver, target string) (service.Storage, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return NewSQLiteStorage(target)
	case "postgres", "postgresql", "pgx":
		return NewPostgresStorage(ctx, target)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}
