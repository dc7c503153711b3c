// Package database opens the PostgreSQL connection and applies the embedded
// SQL migrations.
package database

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationRecord tracks which migrations have been applied
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:255"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for migrations
func (MigrationRecord) TableName() string {
	return "_domus_migrations"
}

// Migrator applies the .sql files of a directory in lexical order, each one
// inside its own transaction, and records what was applied.
type Migrator struct {
	db     *gorm.DB
	files  fs.FS
	dir    string
	logger *zap.Logger
}

// NewMigrator creates a migrator over the embedded migrations
func NewMigrator(db *gorm.DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, files: migrationsFS, dir: "migrations", logger: logger}
}

// Pending returns the migration files not applied yet
func (m *Migrator) Pending() ([]string, error) {
	if err := m.db.AutoMigrate(&MigrationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(m.files, m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var applied []string
	if err := m.db.Model(&MigrationRecord{}).Pluck("name", &applied).Error; err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") || done[entry.Name()] {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Up applies every pending migration and returns how many ran
func (m *Migrator) Up() (int, error) {
	files, err := m.Pending()
	if err != nil {
		return 0, err
	}

	for i, file := range files {
		content, err := fs.ReadFile(m.files, m.dir+"/"+file)
		if err != nil {
			return i, fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		m.logger.Info("applying migration", zap.String("file", file))
		err = m.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(string(content)).Error; err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{Name: file}).Error
		})
		if err != nil {
			return i, fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	if len(files) == 0 {
		m.logger.Info("database schema up to date")
	}
	return len(files), nil
}

// RunMigrations executes all pending embedded migrations
func RunMigrations(db *gorm.DB, logger *zap.Logger) error {
	_, err := NewMigrator(db, logger).Up()
	return err
}
