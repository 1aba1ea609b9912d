// Package repositorytest starts a throwaway Postgres for tests.
package repositorytest

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"interest-bank/internal/repository"
)

const (
	Image    = "postgres:15-alpine"
	Database = "interest_bank"
	User     = "postgres"
	Password = "password"
)

// Container is a running Postgres with the schema migrated.
type Container struct {
	*postgres.PostgresContainer
	DSN string
	DB  *sql.DB
}

// Start runs a migrated Postgres container that is terminated when t ends.
// Tests are skipped in -short mode.
func Start(t *testing.T) *Container {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, Image,
		postgres.WithDatabase(Database),
		postgres.WithUsername(User),
		postgres.WithPassword(Password),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := repository.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, repository.Migrate(ctx, db, slog.New(slog.NewTextHandler(io.Discard, nil))))

	return &Container{PostgresContainer: ctr, DSN: dsn, DB: db}
}
