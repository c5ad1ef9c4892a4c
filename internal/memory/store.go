// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package memory implements the authoritative record store. Every
// other component holds ids and calls back into the store rather than
// keeping its own copy of a record. Row, lexical-index and
// vector-index writes always share one transaction.
package memory

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/decay"
	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/lexical"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a record id does not exist
var ErrNotFound = errors.New("memory record not found")

// ErrDimensionMismatch is returned when an embedding's length does not
// match the store's active profile.
var ErrDimensionMismatch = errors.New("embedding dimension does not match store profile")

// Store wraps one profile database behind a single-writer/multiple-
// reader discipline: reads run in parallel, writes are serialized,
// and a checkpoint restore takes the writer lock for its duration.
type Store struct {
	db  *gorm.DB
	emb *embeddings.Service
	mu  sync.RWMutex

	entropy *ulid.MonotonicEntropy
	entMux  sync.Mutex
}

// NewStore creates a store over the given profile database
func NewStore(db *gorm.DB, emb *embeddings.Service) *Store {
	return &Store{
		db:      db,
		emb:     emb,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// DB exposes the underlying database for read-side collaborators
// (search generators, graph traversal). Writers go through the store.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Embeddings returns the vector service bound to this store's profile
func (s *Store) Embeddings() *embeddings.Service {
	return s.emb
}

// NewID generates a monotonic ULID for a new record
func (s *Store) NewID() string {
	s.entMux.Lock()
	defer s.entMux.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// RLock / RUnlock expose the reader side of the store lock for
// multi-query read paths that need a consistent view.
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }

// Exclusive runs fn holding the writer lock, blocking all reads and
// writes. Used by checkpoint restore.
func (s *Store) Exclusive(fn func(db *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.db)
}

// Put inserts or replaces a record together with its lexical postings
// and embedding vector in a single transaction. A nil vector is
// allowed (lexical-only mode); a wrong-length vector fails with
// ErrDimensionMismatch before anything is written.
func (s *Store) Put(rec *database.MemoryRecord, vector []float32) error {
	if rec.ID == "" {
		rec.ID = s.NewID()
	}
	if vector != nil && len(vector) != s.emb.Profile().Dimensions {
		return fmt.Errorf("%w: got %d, store has %d",
			ErrDimensionMismatch, len(vector), s.emb.Profile().Dimensions)
	}
	if rec.ContentHash == "" {
		rec.ContentHash = embeddings.CalculateContentHash(rec.Text)
	}
	if rec.Stability <= 0 {
		rec.Stability = 1.0
	}
	if rec.LastAccessedAt.IsZero() {
		rec.LastAccessedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}
		if err := lexical.Index(tx, rec.ID, rec.Text); err != nil {
			return fmt.Errorf("failed to index record: %w", err)
		}
		if vector != nil {
			if err := s.emb.Store(tx, rec.ID, rec.ContentHash, vector); err != nil {
				return fmt.Errorf("failed to store vector: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves a record by id. Soft-deleted records are not returned.
func (s *Store) Get(id string) (*database.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec database.MemoryRecord
	err := s.db.Where("id = ?", id).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Touch records an access: bumps access/review counts, refreshes the
// access timestamp and applies the testing-effect stability increase.
func (s *Store) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var rec database.MemoryRecord
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}

		rec.Stability = decay.TestingEffect(rec.Stability, rec.ReviewCount)
		rec.ReviewCount++
		rec.AccessCount++
		rec.LastAccessedAt = time.Now()

		return tx.Save(&rec).Error
	})
}

// Weaken records negative feedback on a record: stability is halved
// (floored at 0.1) so the memory decays out faster unless later
// re-confirmed. The access timestamp is deliberately not refreshed.
func (s *Store) Weaken(id string) (*database.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec database.MemoryRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}

		rec.Stability /= 2
		if rec.Stability < 0.1 {
			rec.Stability = 0.1
		}
		rec.ReviewCount++

		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Patch holds the mutable metadata of a record. Nil fields are left
// unchanged. Text changes re-index and invalidate the stored vector's
// content hash check.
type Patch struct {
	Text           *string
	Summary        *string
	ImportanceTier *string
	MemoryType     *string
	ScopeTag       *string
	Anchors        *string
	Stability      *float64
	Difficulty     *float64
}

// UpdateMetadata applies a patch to a record, keeping the lexical
// index in step when the text changes.
func (s *Store) UpdateMetadata(id string, patch Patch) (*database.MemoryRecord, error) {
	if patch.ImportanceTier != nil && !database.IsValidImportanceTier(*patch.ImportanceTier) {
		return nil, fmt.Errorf("invalid importance tier: %s", *patch.ImportanceTier)
	}
	if patch.MemoryType != nil && !database.IsValidMemoryType(*patch.MemoryType) {
		return nil, fmt.Errorf("invalid memory type: %s", *patch.MemoryType)
	}
	if patch.Stability != nil && *patch.Stability < 0 {
		return nil, fmt.Errorf("stability must be non-negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rec database.MemoryRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}

		reindex := false
		if patch.Text != nil && *patch.Text != rec.Text {
			rec.Text = *patch.Text
			rec.ContentHash = embeddings.CalculateContentHash(rec.Text)
			reindex = true
		}
		if patch.Summary != nil {
			rec.Summary = *patch.Summary
		}
		if patch.ImportanceTier != nil {
			rec.ImportanceTier = *patch.ImportanceTier
		}
		if patch.MemoryType != nil {
			rec.MemoryType = *patch.MemoryType
		}
		if patch.ScopeTag != nil {
			rec.ScopeTag = *patch.ScopeTag
		}
		if patch.Anchors != nil {
			if err := ValidateAnchors(*patch.Anchors, rec.Text); err != nil {
				return err
			}
			rec.Anchors = *patch.Anchors
		}
		if patch.Stability != nil {
			rec.Stability = *patch.Stability
		}
		if patch.Difficulty != nil {
			rec.Difficulty = *patch.Difficulty
		}

		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		if reindex {
			if err := lexical.Index(tx, rec.ID, rec.Text); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete soft-deletes a record, removes its index entries and marks
// incident causal edges orphaned. The row itself survives for audit
// and checkpoint history.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.deleteOne(tx, id)
	})
}

// DeleteScope soft-deletes every record in a scope. Returns the number
// of records removed.
func (s *Store) DeleteScope(scope string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&database.MemoryRecord{}).
			Where("scope_tag = ?", scope).Pluck("id", &ids).Error; err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.deleteOne(tx, id); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) deleteOne(tx *gorm.DB, id string) error {
	result := tx.Where("id = ?", id).Delete(&database.MemoryRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	if err := lexical.Remove(tx, id); err != nil {
		return err
	}
	if err := s.emb.Delete(tx, id); err != nil {
		return err
	}

	// Edges survive their endpoints as orphans; traversal skips them.
	return tx.Model(&database.CausalEdge{}).
		Where("source_id = ? OR target_id = ?", id, id).
		Update("orphaned", true).Error
}

// Archive marks a record ARCHIVED without deleting it
func (s *Store) Archive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	result := s.db.Model(&database.MemoryRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_archived": true,
			"archived_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Scan lists records, optionally restricted to a scope, newest first
func (s *Store) Scan(scope string, limit, offset int) ([]database.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	q := s.db.Order("created_at DESC").Limit(limit).Offset(offset)
	if scope != "" {
		q = q.Where("scope_tag = ?", scope)
	}

	var records []database.MemoryRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ScopeIDs returns the ids of all live, unarchived records in a scope
// (or everywhere when scope is empty).
func (s *Store) ScopeIDs(scope string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := s.db.Model(&database.MemoryRecord{}).Where("is_archived = ?", false)
	if scope != "" {
		q = q.Where("scope_tag = ?", scope)
	}

	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the number of live records
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.Model(&database.MemoryRecord{}).Count(&count).Error
	return count, err
}

// Stats summarizes the store for the stats operation
type Stats struct {
	Records  int64            `json:"records"`
	Archived int64            `json:"archived"`
	Vectors  int64            `json:"vectors"`
	ByTier   map[string]int64 `json:"by_tier"`
	ByType   map[string]int64 `json:"by_type"`
}

// ComputeStats gathers store-level counters
func (s *Store) ComputeStats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByTier: make(map[string]int64),
		ByType: make(map[string]int64),
	}

	if err := s.db.Model(&database.MemoryRecord{}).Count(&stats.Records).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&database.MemoryRecord{}).
		Where("is_archived = ?", true).Count(&stats.Archived).Error; err != nil {
		return nil, err
	}

	var err error
	stats.Vectors, err = s.emb.Count()
	if err != nil {
		return nil, err
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var tiers []bucket
	if err := s.db.Model(&database.MemoryRecord{}).
		Select("importance_tier AS key, COUNT(*) AS count").
		Group("importance_tier").Scan(&tiers).Error; err != nil {
		return nil, err
	}
	for _, t := range tiers {
		stats.ByTier[t.Key] = t.Count
	}

	var types []bucket
	if err := s.db.Model(&database.MemoryRecord{}).
		Select("memory_type AS key, COUNT(*) AS count").
		Group("memory_type").Scan(&types).Error; err != nil {
		return nil, err
	}
	for _, t := range types {
		stats.ByType[t.Key] = t.Count
	}

	return stats, nil
}
