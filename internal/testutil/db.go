// Package testutil opens migrated SQLite databases for tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/aerotrace/material-lifecycle/pkg/database"
)

// NewDB returns a migrated database in the test's temp dir, closed on cleanup
func NewDB(t testing.TB) *sqlite.DB {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run(database.Migrations()))
	return sqlite.NewDB(db.DB, logger)
}
