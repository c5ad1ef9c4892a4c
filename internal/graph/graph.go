// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package graph manages the directed causal relationships between
// memory records and answers lineage ("why") queries over them.
package graph

import (
	"fmt"

	"github.com/engramlabs/engram-mcp/internal/database"
	"gorm.io/gorm"
)

// Manager handles causal graph operations
type Manager struct {
	db *gorm.DB
}

// NewManager creates a new graph manager
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// Link creates a causal edge between two existing records. Both
// endpoints must exist and the strength must lie in [0,1].
func (m *Manager) Link(sourceID, targetID, relation string, strength float64, evidence string) (*database.CausalEdge, error) {
	if !database.IsValidRelation(relation) {
		return nil, fmt.Errorf("invalid relation: %s", relation)
	}
	if strength < 0 || strength > 1 {
		return nil, fmt.Errorf("strength must be in [0,1], got %f", strength)
	}
	if sourceID == targetID {
		return nil, fmt.Errorf("cannot link a record to itself")
	}

	for _, id := range []string{sourceID, targetID} {
		var count int64
		if err := m.db.Model(&database.MemoryRecord{}).
			Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check endpoint: %w", err)
		}
		if count == 0 {
			return nil, fmt.Errorf("endpoint record not found: %s", id)
		}
	}

	edge := &database.CausalEdge{
		SourceID: sourceID,
		TargetID: targetID,
		Relation: relation,
		Strength: strength,
		Evidence: evidence,
	}
	if err := m.db.Create(edge).Error; err != nil {
		return nil, fmt.Errorf("failed to create edge: %w", err)
	}
	return edge, nil
}

// Unlink deletes the edge(s) between two records
func (m *Manager) Unlink(sourceID, targetID string) error {
	result := m.db.Where("source_id = ? AND target_id = ?", sourceID, targetID).
		Delete(&database.CausalEdge{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete edge: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("edge not found")
	}
	return nil
}

// Outgoing returns the non-orphaned edges where the record is the source
func (m *Manager) Outgoing(recordID string) ([]database.CausalEdge, error) {
	var edges []database.CausalEdge
	err := m.db.Where("source_id = ? AND orphaned = ?", recordID, false).
		Order("id").Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get outgoing edges: %w", err)
	}
	return edges, nil
}

// Incoming returns the non-orphaned edges where the record is the target
func (m *Manager) Incoming(recordID string) ([]database.CausalEdge, error) {
	var edges []database.CausalEdge
	err := m.db.Where("target_id = ? AND orphaned = ?", recordID, false).
		Order("id").Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get incoming edges: %w", err)
	}
	return edges, nil
}

// Neighbors returns the non-orphaned edges incident to the record in
// either direction.
func (m *Manager) Neighbors(recordID string) ([]database.CausalEdge, error) {
	var edges []database.CausalEdge
	err := m.db.Where("(source_id = ? OR target_id = ?) AND orphaned = ?",
		recordID, recordID, false).Order("id").Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get neighbor edges: %w", err)
	}
	return edges, nil
}

// Stats summarizes the graph for the stats operation
type Stats struct {
	Edges      int64            `json:"edges"`
	Orphaned   int64            `json:"orphaned"`
	ByRelation map[string]int64 `json:"by_relation"`
}

// ComputeStats gathers edge counters
func (m *Manager) ComputeStats() (*Stats, error) {
	stats := &Stats{ByRelation: make(map[string]int64)}

	if err := m.db.Model(&database.CausalEdge{}).Count(&stats.Edges).Error; err != nil {
		return nil, err
	}
	if err := m.db.Model(&database.CausalEdge{}).
		Where("orphaned = ?", true).Count(&stats.Orphaned).Error; err != nil {
		return nil, err
	}

	type bucket struct {
		Key   string
		Count int64
	}
	var relations []bucket
	if err := m.db.Model(&database.CausalEdge{}).
		Select("relation AS key, COUNT(*) AS count").
		Group("relation").Scan(&relations).Error; err != nil {
		return nil, err
	}
	for _, r := range relations {
		stats.ByRelation[r.Key] = r.Count
	}

	return stats, nil
}
