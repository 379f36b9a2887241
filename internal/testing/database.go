package testing

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranos/pulseq/db"
	"github.com/teranos/pulseq/db/postgres"
)

// PostgresURLEnv enables Postgres-backed tests when set.
const PostgresURLEnv = "PULSEQ_TEST_POSTGRES_URL"

// CreateTestDB creates a migrated, file-backed SQLite test database.
// A file is used instead of :memory: so that every pooled connection sees
// the same database. Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "pulseq_test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// CreateTestPostgres connects to the database named by PULSEQ_TEST_POSTGRES_URL,
// migrates it and empties queue_jobs. The test is skipped when the variable
// is unset.
func CreateTestPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(PostgresURLEnv)
	if url == "" {
		t.Skipf("%s not set", PostgresURLEnv)
	}
	ctx := context.Background()

	pool, err := postgres.Open(ctx, url, 8, nil)
	if err != nil {
		t.Fatalf("Failed to connect to test postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("Failed to migrate test postgres: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE queue_jobs RESTART IDENTITY"); err != nil {
		t.Fatalf("Failed to reset queue_jobs: %v", err)
	}

	return pool
}
