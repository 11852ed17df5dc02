package testutil

import (
	"testing"

	"github.com/Skotchmaster/auth_gateway/internal/repo"
	"github.com/Skotchmaster/auth_gateway/pkg/db"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewSQLite opens a migrated in-memory database private to t. The pool is
// pinned to one connection because every ":memory:" connection is a separate
// database.
func NewSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), db.GormConfig())
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, repo.Migrate(gdb))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

func NewRepo(t *testing.T) *repo.GormRepo {
	t.Helper()
	return repo.New(NewSQLite(t), 0)
}
