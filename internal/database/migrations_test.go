package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestMigrator_AppliesInOrderOnce(t *testing.T) {
	db := newTestDB(t)
	m := &Migrator{
		db: db,
		files: fstest.MapFS{
			"m/002_seed.sql":   {Data: []byte("INSERT INTO notes (body) VALUES ('hello');")},
			"m/001_schema.sql": {Data: []byte("CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT);")},
			"m/README.md":      {Data: []byte("ignored")},
		},
		dir:    "m",
		logger: zap.NewNop(),
	}

	pending, err := m.Pending()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_schema.sql", "002_seed.sql"}, pending)

	n, err := m.Up()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.Up()
	require.NoError(t, err)
	assert.Zero(t, n)

	var count int64
	require.NoError(t, db.Table("notes").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMigrator_FailedMigrationIsNotRecorded(t *testing.T) {
	db := newTestDB(t)
	m := &Migrator{
		db: db,
		files: fstest.MapFS{
			"m/001_broken.sql": {Data: []byte("CREATE TABLE broken (;")},
		},
		dir:    "m",
		logger: zap.NewNop(),
	}

	_, err := m.Up()
	require.Error(t, err)

	pending, err := m.Pending()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_broken.sql"}, pending)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	m := NewMigrator(newTestDB(t), zap.NewNop())
	pending, err := m.Pending()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial_schema.sql", "002_default_settings.sql"}, pending)
}

func TestNewGormLogger_Levels(t *testing.T) {
	l := NewGormLogger(zap.NewNop(), "silent", 0)
	assert.Equal(t, logger.Silent, l.level)
	assert.Equal(t, logger.Info, l.LogMode(logger.Info).(*GormLogger).level)
	assert.Equal(t, logger.Warn, NewGormLogger(zap.NewNop(), "", 0).level)
}
