package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pulseq/db"
)

// TestURLEnv names the variable that enables Postgres integration tests.
const TestURLEnv = "PULSEQ_TEST_POSTGRES_URL"

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "postgres://%zz", 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse database url")
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := db.MigrationFiles(migrations, migrationsDir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "000", db.MigrationVersion(files[0]))
}

func TestMigrate_Integration(t *testing.T) {
	url := os.Getenv(TestURLEnv)
	if url == "" {
		t.Skipf("%s not set", TestURLEnv)
	}
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()

	pool, err := Open(ctx, url, 2, logger)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, Migrate(ctx, pool, logger))
	require.NoError(t, Migrate(ctx, pool, logger), "second run should skip applied migrations")

	var exists bool
	err = pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = 'queue_jobs')").Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)
}
