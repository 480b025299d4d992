// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"testing"
	"time"

	"github.com/OpenNSW/edibridge/internal/database"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New returns a migrated in-memory database private to the test. The pool
// holds one connection, so code under test must not use the outer handle
// while a transaction is open.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	db := Empty(t)
	require.NoError(t, database.Migrate(db))
	return db
}

// Empty is New without migrations.
func Empty(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}
