// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/sqlstore"
	"github.com/happy-code-egg/ruidao-sub002/pkg/database"
)

// NewSQLite opens a private migrated in-memory database. A single connection
// keeps the memory database alive and serialises transactions.
func NewSQLite(t testing.TB) (*sqlstore.Store, *database.DB) {
	t.Helper()

	ctx := context.Background()
	logger := zap.NewNop()

	db, err := database.New(ctx, database.Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:wf_%s?mode=memory&cache=shared&_foreign_keys=on&_txlock=immediate", uuid.NewString()),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Up(ctx))

	return sqlstore.New(db, logger), db
}
