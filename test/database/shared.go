// Package database provides shared store helpers for tests: a temp-file
// SQLite client by default, and an optional PostgreSQL client backed by
// testcontainers.
package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/parleyhq/parley/pkg/database"
)

// NewTestClient opens a migrated SQLite store in the test's temp directory.
// The connection closes with the test.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	cfg := database.Config{Path: filepath.Join(t.TempDir(), "parley-test.db")}
	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// NewPostgresTestClient starts a disposable PostgreSQL container, runs
// migrations, and returns a connected client. Skips the test when docker is
// unavailable.
func NewPostgresTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("parley_test"),
		tcpostgres.WithUsername("parley"),
		tcpostgres.WithPassword("parley"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := database.Config{
		URL:             connStr,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
