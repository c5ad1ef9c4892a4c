// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config selects and configures the backing database
type Config struct {
	Type        string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresDSN string
	LogLevel    logger.LogLevel
}

// dialector resolves the configured driver, creating the sqlite
// parent directory on first use.
func (c *Config) dialector() (gorm.Dialector, error) {
	switch c.Type {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		return sqlite.Open(c.SQLitePath), nil
	case "postgres":
		return postgres.Open(c.PostgresDSN), nil
	}
	return nil, fmt.Errorf("unsupported database type: %s", c.Type)
}

// Connect opens the configured database
func Connect(cfg *Config) (*gorm.DB, error) {
	dial, err := cfg.dialector()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Type, err)
	}
	return db, nil
}

func rawDB(db *gorm.DB) (*sql.DB, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB, nil
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	sqlDB, err := rawDB(db)
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func Ping(db *gorm.DB) error {
	sqlDB, err := rawDB(db)
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
