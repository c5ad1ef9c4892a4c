// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/graph"
	"github.com/engramlabs/engram-mcp/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func setupSession(t *testing.T) (*Manager, *memory.Store, *graph.Manager) {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	svc, err := embeddings.NewService(db, embeddings.ModelInfo{
		Provider: "none", Name: "lexical", Dimensions: 0,
	})
	require.NoError(t, err)

	store := memory.NewStore(db, svc)
	graphMgr := graph.NewManager(db)
	return NewManager(store, graphMgr), store, graphMgr
}

func putRecord(t *testing.T, store *memory.Store, text, tier string) *database.MemoryRecord {
	t.Helper()
	rec := &database.MemoryRecord{Text: text, ImportanceTier: tier}
	require.NoError(t, store.Put(rec, nil))
	return rec
}

func findActive(result *TurnResult, id string) (ActiveMemory, bool) {
	for _, a := range result.Active {
		if a.RecordID == id {
			return a, true
		}
	}
	return ActiveMemory{}, false
}

// persistedActivations decodes the activation map from the stored row
func persistedActivations(t *testing.T, store *memory.Store, sessionID string) map[string]float64 {
	t.Helper()
	var row database.SessionState
	require.NoError(t, store.DB().
		Where("session_id = ?", sessionID).First(&row).Error)
	activations := map[string]float64{}
	require.NoError(t, json.Unmarshal([]byte(row.Activations), &activations))
	return activations
}

func TestTickActivatesMatchingRecords(t *testing.T) {
	m, store, _ := setupSession(t)
	rec := putRecord(t, store, "deployment pipeline runs terraform apply", database.TierNormal)
	putRecord(t, store, "unrelated database sharding notes", database.TierNormal)

	result, err := m.Tick("s1", "how does the deployment pipeline work")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TurnNumber)
	assert.False(t, result.Recovered)

	active, ok := findActive(result, rec.ID)
	require.True(t, ok)
	assert.Equal(t, 1.0, active.Activation)
	assert.Equal(t, rec.Text, active.Text, "first mention carries full content")
}

func TestTickSendsContentOnlyOnce(t *testing.T) {
	m, store, _ := setupSession(t)
	rec := putRecord(t, store, "deployment pipeline runs terraform apply", database.TierNormal)

	first, err := m.Tick("s1", "deployment pipeline")
	require.NoError(t, err)
	a1, ok := findActive(first, rec.ID)
	require.True(t, ok)
	assert.NotEmpty(t, a1.Text)

	second, err := m.Tick("s1", "deployment pipeline")
	require.NoError(t, err)
	assert.Equal(t, 2, second.TurnNumber)
	a2, ok := findActive(second, rec.ID)
	require.True(t, ok)
	assert.Empty(t, a2.Text, "content already sent this session")
	assert.Equal(t, 1.0, a2.Activation, "re-triggered records stay fully active")
}

func TestTickRetentionDecay(t *testing.T) {
	m, store, _ := setupSession(t)
	rec := putRecord(t, store, "deployment pipeline runs terraform apply", database.TierNormal)

	_, err := m.Tick("s1", "deployment pipeline")
	require.NoError(t, err)

	// No trigger this turn: the id was already sent so it is suppressed
	// from the response, but the persisted activation decayed by the
	// normal-tier retention.
	result, err := m.Tick("s1", "")
	require.NoError(t, err)
	_, ok := findActive(result, rec.ID)
	assert.False(t, ok, "already-sent ids are suppressed on idle turns")

	activations := persistedActivations(t, store, "s1")
	assert.InDelta(t, 0.80, activations[rec.ID], 1e-9)
}

func TestTickSuppressesSentIDsUntilRetriggered(t *testing.T) {
	m, store, _ := setupSession(t)
	rec := putRecord(t, store, "deployment pipeline runs terraform apply", database.TierNormal)

	first, err := m.Tick("s1", "deployment pipeline")
	require.NoError(t, err)
	a, ok := findActive(first, rec.ID)
	require.True(t, ok)
	assert.NotEmpty(t, a.Text)

	second, err := m.Tick("s1", "completely different subject matter")
	require.NoError(t, err)
	_, ok = findActive(second, rec.ID)
	assert.False(t, ok, "sent id stays out of the response until re-triggered")

	third, err := m.Tick("s1", "deployment pipeline")
	require.NoError(t, err)
	a, ok = findActive(third, rec.ID)
	require.True(t, ok, "a re-triggered id comes back")
	assert.Empty(t, a.Text, "but its content is not resent")
	assert.Equal(t, 1.0, a.Activation)
}

func TestTickTemporaryDecaysFasterAndPrunes(t *testing.T) {
	m, store, _ := setupSession(t)
	rec := putRecord(t, store, "scratch note about flaky test", database.TierTemporary)

	_, err := m.Tick("s1", "flaky test")
	require.NoError(t, err)

	// 0.60^n drops below the 0.05 prune threshold after 6 idle turns
	for i := 0; i < 6; i++ {
		_, err = m.Tick("s1", "")
		require.NoError(t, err)
	}
	activations := persistedActivations(t, store, "s1")
	assert.NotContains(t, activations, rec.ID, "activation below threshold must be pruned")
}

func TestTickCoActivatesCausalNeighbors(t *testing.T) {
	m, store, graphMgr := setupSession(t)
	trigger := putRecord(t, store, "postgres connection pool exhausted", database.TierNormal)
	neighbor := &database.MemoryRecord{
		Text:           "lambda cold starts spike open conns",
		Summary:        "cold starts exhaust conns",
		ImportanceTier: database.TierNormal,
	}
	require.NoError(t, store.Put(neighbor, nil))
	_, err := graphMgr.Link(neighbor.ID, trigger.ID, database.RelationCaused, 0.9, "")
	require.NoError(t, err)

	result, err := m.Tick("s1", "connection pool exhausted")
	require.NoError(t, err)

	a, ok := findActive(result, trigger.ID)
	require.True(t, ok)
	assert.Equal(t, 1.0, a.Activation)
	assert.NotEmpty(t, a.Text, "fully activated records carry full content")

	// A 0.35 co-activation sits in the WARM band: summary only
	n, ok := findActive(result, neighbor.ID)
	require.True(t, ok, "causal neighbor must be co-activated")
	assert.InDelta(t, 0.35, n.Activation, 1e-9)
	assert.Empty(t, n.Text)
	assert.Equal(t, neighbor.Summary, n.Summary)
}

func TestTickDropsDeletedRecords(t *testing.T) {
	m, store, _ := setupSession(t)
	rec := putRecord(t, store, "short lived fact", database.TierNormal)

	_, err := m.Tick("s1", "short lived fact")
	require.NoError(t, err)
	require.NoError(t, store.Delete(rec.ID))

	result, err := m.Tick("s1", "")
	require.NoError(t, err)
	_, ok := findActive(result, rec.ID)
	assert.False(t, ok)

	activations := persistedActivations(t, store, "s1")
	assert.NotContains(t, activations, rec.ID)
}

func TestSessionRecoveryAfterRestart(t *testing.T) {
	m, store, graphMgr := setupSession(t)
	rec := putRecord(t, store, "deployment pipeline runs terraform apply", database.TierNormal)

	_, err := m.Tick("s1", "deployment pipeline")
	require.NoError(t, err)

	// A fresh manager over the same store simulates a process restart
	m2 := NewManager(store, graphMgr)
	result, err := m2.Tick("s1", "deployment pipeline")
	require.NoError(t, err)
	assert.True(t, result.Recovered)
	assert.Equal(t, 2, result.TurnNumber, "turn counter survives the restart")

	active, ok := findActive(result, rec.ID)
	require.True(t, ok, "working set survives the restart")
	assert.Empty(t, active.Text, "sent-id dedup survives the restart")

	// The flag is reported once
	result, err = m2.Tick("s1", "deployment pipeline")
	require.NoError(t, err)
	assert.False(t, result.Recovered)
}

func TestClose(t *testing.T) {
	m, _, _ := setupSession(t)
	_, err := m.Tick("s1", "anything")
	require.NoError(t, err)

	require.NoError(t, m.Close("s1"))

	count, err := m.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorContains(t, m.Close("s1"), "session not found")
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	m, store, _ := setupSession(t)
	_, err := m.Tick("stale", "anything")
	require.NoError(t, err)

	// Age the row past the TTL
	require.NoError(t, store.DB().Model(&database.SessionState{}).
		Where("session_id = ?", "stale").
		Update("last_activity_at", time.Now().Add(-2*time.Hour)).Error)

	_, err = m.Tick("fresh", "anything")
	require.NoError(t, err)

	swept, err := m.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	count, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSweepDoesNotResurrectSweptSession(t *testing.T) {
	m, store, _ := setupSession(t)
	_, err := m.Tick("stale", "anything at all")
	require.NoError(t, err)

	require.NoError(t, store.DB().Model(&database.SessionState{}).
		Where("session_id = ?", "stale").
		Update("last_activity_at", time.Now().Add(-2*time.Hour)).Error)

	swept, err := m.Sweep(time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	// A turn after the sweep starts a brand-new session; nothing of the
	// swept working set leaks through.
	result, err := m.Tick("stale", "anything at all")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TurnNumber)
	assert.False(t, result.Recovered)
}

func TestSweepKeepsActiveSessions(t *testing.T) {
	m, _, _ := setupSession(t)
	_, err := m.Tick("busy", "anything at all")
	require.NoError(t, err)

	swept, err := m.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)

	count, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
