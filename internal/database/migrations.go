// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"

	"gorm.io/gorm"
)

// AllModels returns all database models for migration
func AllModels() []interface{} {
	return []interface{}{
		&MemoryRecord{},
		&CausalEdge{},
		&SessionState{},
		&Checkpoint{},
		&CheckpointRecord{},
		&CheckpointEdge{},
		&LexicalDocument{},
		&LexicalPosting{},
	}
}

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DropAllTables drops all tables (use with caution!)
func DropAllTables(db *gorm.DB) error {
	// Drop in reverse order to avoid foreign key constraints
	models := []interface{}{
		&LexicalPosting{},
		&LexicalDocument{},
		&CheckpointEdge{},
		&CheckpointRecord{},
		&Checkpoint{},
		&SessionState{},
		&CausalEdge{},
		&MemoryRecord{},
	}

	for _, model := range models {
		if err := db.Migrator().DropTable(model); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	return nil
}

// CreateIndexes creates additional indexes for better query performance
func CreateIndexes(db *gorm.DB) error {
	// Composite indexes for frequently queried combinations
	indexes := []struct {
		table   string
		columns []string
		name    string
	}{
		{
			table:   "memory_records",
			columns: []string{"scope_tag", "importance_tier"},
			name:    "idx_records_scope_tier",
		},
		{
			table:   "memory_records",
			columns: []string{"scope_tag", "is_archived"},
			name:    "idx_records_scope_archived",
		},
		{
			table:   "memory_records",
			columns: []string{"content_hash", "scope_tag"},
			name:    "idx_records_hash_scope",
		},
		{
			table:   "causal_edges",
			columns: []string{"source_id", "relation"},
			name:    "idx_edges_source_relation",
		},
		{
			table:   "causal_edges",
			columns: []string{"target_id", "relation"},
			name:    "idx_edges_target_relation",
		},
		{
			table:   "session_states",
			columns: []string{"last_activity_at", "dirty"},
			name:    "idx_sessions_activity_dirty",
		},
		{
			table:   "checkpoint_records",
			columns: []string{"checkpoint_id", "record_id"},
			name:    "idx_checkpoint_records_cp_record",
		},
	}

	for _, idx := range indexes {
		hasIndex := db.Migrator().HasIndex(idx.table, idx.name)
		if !hasIndex {
			// Create the index using raw SQL (GORM doesn't support composite indexes well)
			sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				idx.name,
				idx.table,
				joinColumns(idx.columns))

			if err := db.Exec(sql).Error; err != nil {
				return fmt.Errorf("failed to create index %s: %w", idx.name, err)
			}
		}
	}

	return nil
}

// joinColumns joins column names with commas
func joinColumns(columns []string) string {
	result := ""
	for i, col := range columns {
		if i > 0 {
			result += ", "
		}
		result += col
	}
	return result
}
