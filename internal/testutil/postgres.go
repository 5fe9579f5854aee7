package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/congo-pay/walletledger/internal/infra"
)

// Postgres is a migrated database running in a disposable container.
type Postgres struct {
	Pool *pgxpool.Pool
	DSN  string

	container *postgres.PostgresContainer
}

// StartPostgresContainer starts Postgres, applies migrations and returns a
// pool. Tests using it are skipped in -short mode.
func StartPostgresContainer(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("wallet"),
		postgres.WithUsername("wallet_user"),
		postgres.WithPassword("wallet_pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, infra.Migrate(dsn), "apply migrations")

	pool, err := infra.NewPostgresPool(ctx, dsn)
	require.NoError(t, err)

	return &Postgres{Pool: pool, DSN: dsn, container: container}
}

// Terminate closes the pool and removes the container.
func (p *Postgres) Terminate() {
	p.Pool.Close()
	_ = p.container.Terminate(context.Background())
}

// Truncate empties every table between tests.
func (p *Postgres) Truncate(t *testing.T) {
	t.Helper()
	// TRUNCATE does not fire the row-level append-only trigger
	_, err := p.Pool.Exec(context.Background(), `TRUNCATE ledger_entries, wallets`)
	require.NoError(t, err)
}
