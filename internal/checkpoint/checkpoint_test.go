// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package checkpoint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/graph"
	"github.com/engramlabs/engram-mcp/internal/lexical"
	"github.com/engramlabs/engram-mcp/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func setupCheckpoint(t *testing.T, maxCount int) (*Manager, *memory.Store, *graph.Manager) {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	svc, err := embeddings.NewService(db, embeddings.ModelInfo{
		Provider: "mock", Name: "test-model", Dimensions: 3,
	})
	require.NoError(t, err)

	store := memory.NewStore(db, svc)
	return NewManager(store, maxCount), store, graph.NewManager(db)
}

func TestCreateAndList(t *testing.T) {
	m, store, _ := setupCheckpoint(t, 10)
	rec := &database.MemoryRecord{Text: "some knowledge"}
	require.NoError(t, store.Put(rec, []float32{0.1, 0.2, 0.3}))

	cp, err := m.Create("before-refactor")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.ItemCount)
	assert.Equal(t, 0, cp.EdgeCount)

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "before-refactor", list[0].Name)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	m, _, _ := setupCheckpoint(t, 10)
	_, err := m.Create("cp")
	require.NoError(t, err)

	_, err = m.Create("cp")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestCreateRequiresName(t *testing.T) {
	m, _, _ := setupCheckpoint(t, 10)
	_, err := m.Create("")
	assert.Error(t, err)
}

func TestRestoreRoundTrip(t *testing.T) {
	m, store, graphMgr := setupCheckpoint(t, 10)

	keep := &database.MemoryRecord{Text: "keep this fact about caching"}
	require.NoError(t, store.Put(keep, []float32{1, 0, 0}))
	other := &database.MemoryRecord{Text: "another fact about sharding"}
	require.NoError(t, store.Put(other, nil))
	_, err := graphMgr.Link(keep.ID, other.ID, database.RelationCaused, 0.9, "")
	require.NoError(t, err)

	_, err = m.Create("snapshot")
	require.NoError(t, err)

	// Mutate the store after the snapshot
	require.NoError(t, store.Delete(other.ID))
	late := &database.MemoryRecord{Text: "written after the snapshot"}
	require.NoError(t, store.Put(late, nil))
	newText := "keep this rewritten fact"
	_, err = store.UpdateMetadata(keep.ID, memory.Patch{Text: &newText})
	require.NoError(t, err)

	cp, err := m.Restore("snapshot")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.ItemCount)

	// Post-snapshot write is gone
	_, err = store.Get(late.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	// Deleted record is back
	restored, err := store.Get(other.ID)
	require.NoError(t, err)
	assert.Equal(t, "another fact about sharding", restored.Text)

	// Text mutation rolled back
	got, err := store.Get(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep this fact about caching", got.Text)

	// Vector restored from the snapshot blob
	vec, err := store.Embeddings().Get(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)

	// Lexical index rebuilt from restored text
	hits, err := lexical.Search(store.DB(), "caching", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	hits, err = lexical.Search(store.DB(), "rewritten", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Edge restored
	edges, err := graphMgr.Outgoing(keep.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, other.ID, edges[0].TargetID)
}

func TestRestoreUnknownName(t *testing.T) {
	m, _, _ := setupCheckpoint(t, 10)
	_, err := m.Restore("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvictionKeepsNewest(t *testing.T) {
	m, _, _ := setupCheckpoint(t, 2)
	for _, name := range []string{"one", "two", "three"} {
		_, err := m.Create(name)
		require.NoError(t, err)
		// ULID creation times tie-break identical timestamps, but keep
		// created_at distinct for the ordering under test.
		time.Sleep(5 * time.Millisecond)
	}

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "three", list[0].Name)
	assert.Equal(t, "two", list[1].Name)

	_, err = m.Get("one")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	m, store, _ := setupCheckpoint(t, 10)
	rec := &database.MemoryRecord{Text: "content"}
	require.NoError(t, store.Put(rec, nil))

	cp, err := m.Create("cp")
	require.NoError(t, err)
	require.NoError(t, m.Delete("cp"))

	_, err = m.Get("cp")
	assert.ErrorIs(t, err, ErrNotFound)

	// Snapshot rows go with the checkpoint
	var count int64
	require.NoError(t, store.DB().Model(&database.CheckpointRecord{}).
		Where("checkpoint_id = ?", cp.ID).Count(&count).Error)
	assert.Zero(t, count)

	assert.ErrorIs(t, m.Delete("cp"), ErrNotFound)
}

func TestCleanupExpired(t *testing.T) {
	m, store, _ := setupCheckpoint(t, 10)
	_, err := m.Create("old")
	require.NoError(t, err)
	require.NoError(t, store.DB().Model(&database.Checkpoint{}).
		Where("name = ?", "old").
		Update("created_at", time.Now().Add(-40*24*time.Hour)).Error)
	_, err = m.Create("recent")
	require.NoError(t, err)

	removed, err := m.CleanupExpired(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Get("old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get("recent")
	assert.NoError(t, err)
}
