// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Manager handles database connections, one per embedding profile.
// Each {provider, model, dimension} triple owns an isolated store so
// incompatible embedding spaces can never mix. For sqlite the store is
// a separate database file named from the profile; for postgres all
// profiles share the DSN but the profile name is recorded and checked.
type Manager struct {
	config  *Config
	baseDir string
	dbs     map[string]*gorm.DB
	dbsMux  sync.RWMutex
}

// NewManager creates a new database manager
func NewManager(cfg *Config, baseDir string) *Manager {
	return &Manager{
		config:  cfg,
		baseDir: baseDir,
		dbs:     make(map[string]*gorm.DB),
	}
}

// ProfileStoreName derives the deterministic store name for an
// embedding profile.
func ProfileStoreName(provider, model string, dimensions int) string {
	sanitize := func(s string) string {
		s = strings.ToLower(s)
		var b strings.Builder
		for _, r := range s {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			} else {
				b.WriteRune('-')
			}
		}
		return strings.Trim(b.String(), "-")
	}
	return fmt.Sprintf("engram-%s-%s-%d", sanitize(provider), sanitize(model), dimensions)
}

// GetProfileDB opens or returns an existing connection for the given
// embedding profile, running migrations on first open.
func (m *Manager) GetProfileDB(provider, model string, dimensions int) (*gorm.DB, error) {
	name := ProfileStoreName(provider, model, dimensions)

	// Check cache first
	m.dbsMux.RLock()
	if db, ok := m.dbs[name]; ok {
		m.dbsMux.RUnlock()
		return db, nil
	}
	m.dbsMux.RUnlock()

	m.dbsMux.Lock()
	defer m.dbsMux.Unlock()

	// Double-check after acquiring write lock
	if db, ok := m.dbs[name]; ok {
		return db, nil
	}

	cfg := &Config{
		Type:        m.config.Type,
		PostgresDSN: m.config.PostgresDSN,
		LogLevel:    logger.Silent, // stdout is reserved for JSON-RPC
	}
	if cfg.Type == "sqlite" {
		cfg.SQLitePath = filepath.Join(m.baseDir, name+".db")
	}

	db, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store %s: %w", name, err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate profile store %s: %w", name, err)
	}
	if err := CreateIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to create indexes for %s: %w", name, err)
	}

	m.dbs[name] = db
	return db, nil
}

// Close closes all open connections
func (m *Manager) Close() error {
	m.dbsMux.Lock()
	defer m.dbsMux.Unlock()

	var firstErr error
	for name, db := range m.dbs {
		if err := Close(db); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", name, err)
		}
		delete(m.dbs, name)
	}
	return firstErr
}
