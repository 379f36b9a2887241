// Package postgres opens pgx connection pools and applies the embedded
// Postgres schema for the job store.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"path"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teranos/pulseq/db"
	"github.com/teranos/pulseq/errors"
	"github.com/teranos/pulseq/sym"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// Open creates a connection pool for url and verifies connectivity.
// maxConns <= 0 keeps the pgx default.
func Open(ctx context.Context, url string, maxConns int, logger *zap.SugaredLogger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		// The URL may carry a password; never echo it back
		return nil, errors.Wrap(err, "failed to parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		err = errors.Wrap(err, "failed to connect to postgres")
		return nil, errors.WithDetail(err, fmt.Sprintf("Host: %s, Database: %s", cfg.ConnConfig.Host, cfg.ConnConfig.Database))
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"driver", "postgres",
			"host", cfg.ConnConfig.Host,
			"database", cfg.ConnConfig.Database,
			"max_conns", cfg.MaxConns,
			"symbol", sym.DB,
		)
	}

	return pool, nil
}

// Migrate runs all pending migrations against pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.SugaredLogger) error {
	files, err := db.MigrationFiles(migrations, migrationsDir)
	if err != nil {
		return err
	}

	applied := 0
	for _, filename := range files {
		version := db.MigrationVersion(filename)

		var exists bool
		err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
		if err != nil {
			if !isUndefinedTable(err) {
				return errors.Wrapf(err, "check migration %s", filename)
			}
			if version != "000" {
				return errors.Newf("schema_migrations table missing, but migration is not 000: %s", filename)
			}
		} else if exists {
			if logger != nil {
				logger.Debugw("Skipping migration (already applied)", "migration", filename, "version", version)
			}
			continue
		}

		sqlBytes, err := migrations.ReadFile(path.Join(migrationsDir, filename))
		if err != nil {
			return errors.Wrapf(err, "read %s", filename)
		}

		if logger != nil {
			logger.Infow("Applying migration", "migration", filename, "version", version)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", filename)
		}

		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback(ctx)
			return errors.Wrapf(err, "execute %s", filename)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			_ = tx.Rollback(ctx)
			return errors.Wrapf(err, "record %s", filename)
		}

		if err := tx.Commit(ctx); err != nil {
			return errors.Wrapf(err, "commit %s", filename)
		}
		applied++
	}

	if logger != nil {
		logger.Infow("Migrations complete",
			"symbol", sym.DB,
			"driver", "postgres",
			"total_migrations", len(files),
			"applied", applied,
		)
	}

	return nil
}

// isUndefinedTable reports SQLSTATE 42P01 (undefined_table).
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return false
}
