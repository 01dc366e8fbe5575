package testutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/sqlstore"
	"github.com/happy-code-egg/ruidao-sub002/pkg/database"
)

// PostgresEnv enables tests against a Postgres container
const PostgresEnv = "WORKFLOW_PG_IT"

// PostgresEnabled reports whether Postgres integration tests should run.
// It must be called after flags are parsed.
func PostgresEnabled() bool {
	return os.Getenv(PostgresEnv) != "" && !testing.Short()
}

// PostgresServer is a disposable Postgres container shared by one package's tests
type PostgresServer struct {
	container *postgres.PostgresContainer
	admin     *database.DB
	dsn       *url.URL
}

// StartPostgres runs a Postgres container and connects to its maintenance database
func StartPostgres(ctx context.Context) (*PostgresServer, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("workflow"),
		postgres.WithUsername("workflow"),
		postgres.WithPassword("workflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	dsn, err := url.Parse(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	admin, err := database.New(ctx, database.Config{Driver: "postgres", DSN: connStr, MaxOpenConns: 2}, zap.NewNop())
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &PostgresServer{container: container, admin: admin, dsn: dsn}, nil
}

// Terminate closes the maintenance connection and removes the container
func (s *PostgresServer) Terminate(ctx context.Context) error {
	_ = s.admin.Close()
	return s.container.Terminate(ctx)
}

// NewStore creates a private migrated database on the server
func (s *PostgresServer) NewStore(t testing.TB) (*sqlstore.Store, *database.DB) {
	t.Helper()

	ctx := context.Background()
	logger := zap.NewNop()
	name := "wf_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	_, err := s.admin.ExecContext(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	dsn := *s.dsn
	dsn.Path = "/" + name

	db, err := database.New(ctx, database.Config{Driver: "postgres", DSN: dsn.String(), MaxOpenConns: 8}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
		_, _ = s.admin.ExecContext(context.Background(), "DROP DATABASE IF EXISTS "+name)
	})

	require.NoError(t, database.NewMigrator(db, logger).Up(ctx))

	return sqlstore.New(db, logger), db
}
