package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// NewTestDB opens a migrated in-memory database that is closed when t ends.
func NewTestDB(t testing.TB) *DB {
	t.Helper()
	db, err := Open("memory://")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })
	return db
}
