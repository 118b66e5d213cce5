// Package pg bootstraps PostgreSQL access for the billing service on top of
// github.com/jackc/pgx/v5 and github.com/pressly/goose/v3.
//
//   - Config is populated from PG_* environment variables.
//   - Connect opens a *pgxpool.Pool, retrying while the database comes up.
//   - OpenDB bridges the pool to database/sql for stores written against it.
//   - Migrate runs goose migrations from an fs.FS, typically an embed.FS
//     shipped by the store package.
//   - Healthcheck adapts the pool to readiness probes.
//
// Usage:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	db := pg.OpenDB(pool)
//	if err := pg.Migrate(ctx, db, pgstore.Migrations, cfg, log); err != nil {
//	    return err
//	}
//
// IsNotFoundError and IsDuplicateKeyError classify driver errors without
// leaking pgx types into callers.
package pg
