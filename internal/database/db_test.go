// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestConnectCreatesSQLiteDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stores", "test.db")
	db, err := Connect(&Config{
		Type:       "sqlite",
		SQLitePath: path,
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	defer Close(db)

	assert.DirExists(t, filepath.Dir(path))
	assert.NoError(t, Ping(db))
}

func TestConnectRejectsUnknownType(t *testing.T) {
	_, err := Connect(&Config{Type: "mongodb"})
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestCloseThenPingFails(t *testing.T) {
	db, err := Connect(&Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)

	require.NoError(t, Close(db))
	assert.Error(t, Ping(db))
}
