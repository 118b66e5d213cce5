package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/dmitrymomot/cashier/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema as a goose migrations filesystem.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

type migrationLogger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// Migrate creates or upgrades the billing tables.
func Migrate(ctx context.Context, db *sql.DB, cfg pg.Config, log migrationLogger) error {
	return pg.Migrate(ctx, db, Migrations(), cfg, log)
}
