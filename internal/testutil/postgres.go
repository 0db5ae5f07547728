// Package testutil provides test helpers: an in-memory socket pair and a
// PostgreSQL test container.
package testutil

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/gridchase/internal/config"
	"github.com/cory-johannsen/gridchase/internal/storage/postgres"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresCreds = "gridchase"
)

// PostgresContainer is a throwaway PostgreSQL server with a connected pool.
type PostgresContainer struct {
	Pool    *postgres.Pool
	RawPool *pgxpool.Pool
	Config  config.DatabaseConfig
}

// NewPostgresContainer starts a PostgreSQL container for one test. The test
// is skipped under -short.
//
// Precondition: Docker must be available.
// Postcondition: The container and pool are released by t.Cleanup.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in short mode")
	}
	ctx := context.Background()
	began := time.Now()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresCreds,
				"POSTGRES_PASSWORD": postgresCreds,
				"POSTGRES_DB":       postgresCreds,
			},
			// The entrypoint restarts the server once after init.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "starting %s", postgresImage)

	dbCfg := containerConfig(ctx, t, ctr)
	pool, err := postgres.NewPool(ctx, dbCfg)
	require.NoError(t, err, "connecting to %s:%d", dbCfg.Host, dbCfg.Port)
	t.Cleanup(pool.Close)

	t.Logf("postgres ready at %s:%d [%s]", dbCfg.Host, dbCfg.Port, time.Since(began))
	return &PostgresContainer{Pool: pool, RawPool: pool.DB(), Config: dbCfg}
}

func containerConfig(ctx context.Context, t *testing.T, ctr testcontainers.Container) config.DatabaseConfig {
	t.Helper()
	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return config.DatabaseConfig{
		Enabled:         true,
		Host:            host,
		Port:            port.Int(),
		User:            postgresCreds,
		Password:        postgresCreds,
		Name:            postgresCreds,
		SSLMode:         "disable",
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}
}

// MigrationsURL returns the file:// source URL of the repository's
// migrations directory.
func MigrationsURL() string {
	_, file, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(file), "..", "..", "migrations")
	return "file://" + filepath.ToSlash(dir)
}

// ApplyMigrations runs every up migration against the container.
//
// Precondition: Pool must be connected.
// Postcondition: The schema is at the latest version.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	start := time.Now()
	res, err := postgres.Migrate(MigrationsURL(), pc.Config.DSN(), 0, false)
	require.NoError(t, err, "applying migrations")
	t.Logf("migrations applied to version %d [%s]", res.Version, time.Since(start))
}

// NewPool starts a migrated test database and returns its raw pool.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return pc.RawPool
}
