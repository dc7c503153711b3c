// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/aethra/domus/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens an in-memory SQLite database with every model migrated. The
// pool is limited to one connection so all queries see the same database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// Clock is a settable time source for engines and the gorm NowFunc
type Clock struct {
	T time.Time
}

// Now returns the current time of the clock
func (c *Clock) Now() time.Time {
	return c.T
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}

// Freeze makes gorm stamp created_at and updated_at from c
func Freeze(db *gorm.DB, c *Clock) {
	db.Config.NowFunc = c.Now
}
