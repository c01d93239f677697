package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDatabaseURL returns a PostgreSQL connection string with CI/local detection.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	ctx := context.Background()

	// Check if we're in CI with an external database
	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		return ciDatabaseURL
	}

	// Local dev mode: use testcontainers
	t.Log("Using testcontainers for PostgreSQL")
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	client, err := NewClient(ctx, Config{URL: testDatabaseURL(t), Migrate: true})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestClientConnectsAndMigrates(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	err := client.DB().PingContext(ctx)
	require.NoError(t, err)

	// Migrations created both tables.
	for _, table := range []string{"events", "snapshots"} {
		var n int
		err := client.DB().QueryRowContext(ctx,
			`SELECT count(*) FROM information_schema.tables WHERE table_name = $1`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "expected table %s to exist", table)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	client := newTestClient(t)

	// A second run against an up-to-date schema is a no-op.
	require.NoError(t, Migrate(client.DB()))
}

func TestHealthReportsPoolStats(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 10, health.MaxOpenConns)
	assert.GreaterOrEqual(t, health.ResponseTime, int64(0))
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}
