// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package checkpoint snapshots the whole store (records, vectors,
// causal edges) under a name and restores it atomically. Restore
// replaces everything; it is the only operation that takes the store's
// writer lock for its full duration.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/lexical"
	"github.com/engramlabs/engram-mcp/internal/memory"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a checkpoint name does not exist
var ErrNotFound = errors.New("checkpoint not found")

// ErrNameTaken is returned when a checkpoint name already exists
var ErrNameTaken = errors.New("checkpoint name already exists")

// Manager creates, lists, restores and expires checkpoints of one
// profile store.
type Manager struct {
	store    *memory.Store
	maxCount int
}

// NewManager creates a checkpoint manager. maxCount bounds how many
// checkpoints are kept; creating past the bound evicts the oldest.
func NewManager(store *memory.Store, maxCount int) *Manager {
	if maxCount <= 0 {
		maxCount = 10
	}
	return &Manager{store: store, maxCount: maxCount}
}

// Create snapshots every record (archived included), its vector, and
// every causal edge into an immutable named checkpoint. The snapshot
// is taken in one transaction so it observes a single point in time.
func (m *Manager) Create(name string) (*database.Checkpoint, error) {
	if name == "" {
		return nil, fmt.Errorf("checkpoint name is required")
	}

	m.store.RLock()
	defer m.store.RUnlock()

	cp := &database.Checkpoint{
		ID:   m.store.NewID(),
		Name: name,
	}

	err := m.store.DB().Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&database.Checkpoint{}).
			Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrNameTaken
		}

		var records []database.MemoryRecord
		if err := tx.Find(&records).Error; err != nil {
			return fmt.Errorf("failed to read records: %w", err)
		}

		vectors := make(map[string][]byte)
		var embs []embeddings.Embedding
		if err := tx.Find(&embs).Error; err != nil {
			return fmt.Errorf("failed to read vectors: %w", err)
		}
		for _, e := range embs {
			vectors[e.RecordID] = e.Vector
		}

		for i := range records {
			payload, err := json.Marshal(&records[i])
			if err != nil {
				return fmt.Errorf("failed to encode record %s: %w", records[i].ID, err)
			}
			row := database.CheckpointRecord{
				CheckpointID: cp.ID,
				RecordID:     records[i].ID,
				Payload:      payload,
				Vector:       vectors[records[i].ID],
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		cp.ItemCount = len(records)

		var edges []database.CausalEdge
		if err := tx.Find(&edges).Error; err != nil {
			return fmt.Errorf("failed to read edges: %w", err)
		}
		for i := range edges {
			payload, err := json.Marshal(&edges[i])
			if err != nil {
				return fmt.Errorf("failed to encode edge %d: %w", edges[i].ID, err)
			}
			row := database.CheckpointEdge{
				CheckpointID: cp.ID,
				Payload:      payload,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		cp.EdgeCount = len(edges)

		if err := tx.Create(cp).Error; err != nil {
			return fmt.Errorf("failed to create checkpoint: %w", err)
		}

		return m.evictOldest(tx)
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// evictOldest enforces the retention bound inside the create tx
func (m *Manager) evictOldest(tx *gorm.DB) error {
	var checkpoints []database.Checkpoint
	if err := tx.Order("created_at DESC, id DESC").Find(&checkpoints).Error; err != nil {
		return err
	}
	for i := m.maxCount; i < len(checkpoints); i++ {
		if err := deleteSnapshot(tx, checkpoints[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func deleteSnapshot(tx *gorm.DB, checkpointID string) error {
	if err := tx.Where("checkpoint_id = ?", checkpointID).
		Delete(&database.CheckpointRecord{}).Error; err != nil {
		return err
	}
	if err := tx.Where("checkpoint_id = ?", checkpointID).
		Delete(&database.CheckpointEdge{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", checkpointID).
		Delete(&database.Checkpoint{}).Error
}

// List returns all checkpoints, newest first
func (m *Manager) List() ([]database.Checkpoint, error) {
	var checkpoints []database.Checkpoint
	err := m.store.DB().Order("created_at DESC, id DESC").Find(&checkpoints).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return checkpoints, nil
}

// Get looks up a checkpoint by name
func (m *Manager) Get(name string) (*database.Checkpoint, error) {
	var cp database.Checkpoint
	err := m.store.DB().Where("name = ?", name).First(&cp).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Delete removes a checkpoint and its snapshot rows
func (m *Manager) Delete(name string) error {
	cp, err := m.Get(name)
	if err != nil {
		return err
	}
	return m.store.DB().Transaction(func(tx *gorm.DB) error {
		return deleteSnapshot(tx, cp.ID)
	})
}

// Restore replaces the live store with a checkpoint's snapshot. It
// holds the writer lock for the whole operation and runs in one
// transaction: on any failure the live store is untouched. The lexical
// index is rebuilt from the restored texts rather than snapshotted.
func (m *Manager) Restore(name string) (*database.Checkpoint, error) {
	cp, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	err = m.store.Exclusive(func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			var snapRecords []database.CheckpointRecord
			if err := tx.Where("checkpoint_id = ?", cp.ID).
				Find(&snapRecords).Error; err != nil {
				return fmt.Errorf("failed to read snapshot records: %w", err)
			}
			var snapEdges []database.CheckpointEdge
			if err := tx.Where("checkpoint_id = ?", cp.ID).
				Find(&snapEdges).Error; err != nil {
				return fmt.Errorf("failed to read snapshot edges: %w", err)
			}

			// Wipe the live store. Unscoped so soft-deleted rows go too.
			for _, model := range []interface{}{
				&database.MemoryRecord{},
				&database.CausalEdge{},
				&database.LexicalPosting{},
				&database.LexicalDocument{},
				&embeddings.Embedding{},
			} {
				if err := tx.Unscoped().Where("1 = 1").Delete(model).Error; err != nil {
					return fmt.Errorf("failed to clear table: %w", err)
				}
			}

			profile := m.store.Embeddings().Profile()
			for _, snap := range snapRecords {
				var rec database.MemoryRecord
				if err := json.Unmarshal(snap.Payload, &rec); err != nil {
					return fmt.Errorf("failed to decode record %s: %w", snap.RecordID, err)
				}
				if err := tx.Create(&rec).Error; err != nil {
					return err
				}
				if rec.DeletedAt.Valid {
					continue
				}
				if err := lexical.Index(tx, rec.ID, rec.Text); err != nil {
					return fmt.Errorf("failed to reindex record %s: %w", rec.ID, err)
				}
				if snap.Vector != nil {
					emb := embeddings.Embedding{
						RecordID:    rec.ID,
						ContentHash: rec.ContentHash,
						ModelName:   profile.Name,
						Provider:    profile.Provider,
						Dimensions:  profile.Dimensions,
						Vector:      snap.Vector,
					}
					if err := tx.Create(&emb).Error; err != nil {
						return err
					}
				}
			}

			for _, snap := range snapEdges {
				var edge database.CausalEdge
				if err := json.Unmarshal(snap.Payload, &edge); err != nil {
					return fmt.Errorf("failed to decode edge: %w", err)
				}
				edge.ID = 0
				if err := tx.Create(&edge).Error; err != nil {
					return err
				}
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// CleanupExpired deletes checkpoints older than maxAge. Returns how
// many were removed.
func (m *Manager) CleanupExpired(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	var expired []database.Checkpoint
	err := m.store.DB().Where("created_at < ?", cutoff).Find(&expired).Error
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	err = m.store.DB().Transaction(func(tx *gorm.DB) error {
		for _, cp := range expired {
			if err := deleteSnapshot(tx, cp.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}
