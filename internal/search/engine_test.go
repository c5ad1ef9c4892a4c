// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package search

import (
	"context"
	"path/filepath"
	"strings"
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

// Engine tests run lexical-only (nil chain); the vector generator has
// its own coverage through the embeddings package.
func setupEngine(t *testing.T) (*Engine, *memory.Store, *graph.Manager) {
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
	engine := NewEngine(store, graphMgr, nil, Config{})
	return engine, store, graphMgr
}

func put(t *testing.T, store *memory.Store, rec *database.MemoryRecord) *database.MemoryRecord {
	t.Helper()
	require.NoError(t, store.Put(rec, nil))
	return rec
}

func TestSearchLexicalOnly(t *testing.T) {
	engine, store, _ := setupEngine(t)
	rec := put(t, store, &database.MemoryRecord{
		Text:           "retry budget for the payments client is three attempts",
		ImportanceTier: database.TierNormal,
		MemoryType:     database.TypeSemantic,
	})
	put(t, store, &database.MemoryRecord{
		Text:           "unrelated notes about kubernetes ingress",
		ImportanceTier: database.TierNormal,
		MemoryType:     database.TypeSemantic,
	})

	results, err := engine.Search(context.Background(), Options{
		Query: "payments retry budget", IncludeConstitutional: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.ID, results[0].ID)
	assert.Equal(t, rec.Text, results[0].Text, "fresh memories are HOT and carry full text")
	assert.Contains(t, results[0].Sources, "lexical")
	assert.True(t, engine.Degraded())
}

func TestSearchConceptsWhenNoQuery(t *testing.T) {
	engine, store, _ := setupEngine(t)
	rec := put(t, store, &database.MemoryRecord{Text: "circuit breaker trips after five failures"})

	results, err := engine.Search(context.Background(), Options{
		Concepts: []string{"circuit", "breaker"}, IncludeConstitutional: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.ID, results[0].ID)
}

func TestSearchScopeFilter(t *testing.T) {
	engine, store, _ := setupEngine(t)
	inScope := put(t, store, &database.MemoryRecord{
		Text: "retry budget is three attempts", ScopeTag: "payments",
	})
	put(t, store, &database.MemoryRecord{
		Text: "retry budget is five attempts", ScopeTag: "billing",
	})

	results, err := engine.Search(context.Background(), Options{
		Query: "retry budget", Scope: "payments", IncludeConstitutional: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, inScope.ID, results[0].ID)
}

func TestSearchConstitutionalOverride(t *testing.T) {
	engine, store, _ := setupEngine(t)
	constitutional := put(t, store, &database.MemoryRecord{
		Text:           "never commit credentials to the repository",
		ImportanceTier: database.TierConstitutional,
		ScopeTag:       "global",
	})
	ranked := put(t, store, &database.MemoryRecord{
		Text: "retry budget is three attempts", ScopeTag: "payments",
	})

	// The constitutional memory matches neither the query nor the scope
	results, err := engine.Search(context.Background(), Options{
		Query: "retry budget", Scope: "payments", IncludeConstitutional: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, constitutional.ID, results[0].ID)
	assert.True(t, results[0].Constitutional)
	assert.Equal(t, constitutional.Text, results[0].Text, "constitutional results always carry full text")
	assert.Equal(t, ranked.ID, results[1].ID)

	// Explicit opt-out suppresses the override
	results, err = engine.Search(context.Background(), Options{
		Query: "retry budget", Scope: "payments",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ranked.ID, results[0].ID)
}

func TestSearchExcludesArchived(t *testing.T) {
	engine, store, _ := setupEngine(t)
	rec := put(t, store, &database.MemoryRecord{Text: "retired retry budget decision"})
	require.NoError(t, store.Archive(rec.ID))

	results, err := engine.Search(context.Background(), Options{
		Query: "retry budget", IncludeConstitutional: true,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchGraphGeneratorReachesNeighbors(t *testing.T) {
	engine, store, graphMgr := setupEngine(t)
	seed := put(t, store, &database.MemoryRecord{
		Text: "postgres connection pool exhausted during deploy",
	})
	neighbor := put(t, store, &database.MemoryRecord{
		Text: "lambda cold starts were spiking simultaneously",
	})
	_, err := graphMgr.Link(neighbor.ID, seed.ID, database.RelationCaused, 0.9, "")
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), Options{
		Query: "connection pool exhausted", IncludeConstitutional: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var found *Result
	for i := range results {
		if results[i].ID == neighbor.ID {
			found = &results[i]
		}
	}
	require.NotNil(t, found, "causal neighbor must surface without a lexical match")
	assert.Equal(t, []string{"graph"}, found.Sources)
}

func TestSearchAnchorFilter(t *testing.T) {
	engine, store, _ := setupEngine(t)
	text := "DECISION: use sqlite. The context was a single-writer workload."
	anchors, err := memory.EncodeAnchors(map[string]memory.Anchor{
		"decision": {Start: 0, End: 21},
	})
	require.NoError(t, err)
	withAnchor := put(t, store, &database.MemoryRecord{Text: text, Anchors: anchors})
	put(t, store, &database.MemoryRecord{Text: "another decision about sqlite tuning"})

	results, err := engine.Search(context.Background(), Options{
		Query: "sqlite decision", Anchor: "decision", IncludeConstitutional: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, withAnchor.ID, results[0].ID)
	assert.Equal(t, "DECISION: use sqlite.", results[0].Text, "anchored results return only the named section")
}

func TestSearchWarmResultsCarrySummaryOnly(t *testing.T) {
	engine, store, _ := setupEngine(t)
	rec := put(t, store, &database.MemoryRecord{
		Text:           "stale working note about the flaky integration suite",
		Summary:        "flaky suite note",
		ImportanceTier: database.TierNormal,
		MemoryType:     database.TypeWorking,
		Stability:      1.0,
		LastAccessedAt: time.Now().Add(-13 * 24 * time.Hour),
	})

	results, err := engine.Search(context.Background(), Options{
		Query: "flaky integration suite", IncludeConstitutional: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.ID, results[0].ID)
	assert.Empty(t, results[0].Text)
	assert.Equal(t, "flaky suite note", results[0].Summary)
}

func TestSearchTouchesReturnedRecords(t *testing.T) {
	engine, store, _ := setupEngine(t)
	rec := put(t, store, &database.MemoryRecord{Text: "retry budget is three attempts"})

	_, err := engine.Search(context.Background(), Options{
		Query: "retry budget", IncludeConstitutional: true,
	})
	require.NoError(t, err)

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.Equal(t, 1, got.ReviewCount)
}

func TestSummarizeTruncatesAtWordBoundary(t *testing.T) {
	rec := &database.MemoryRecord{
		Text: strings.Repeat("somewhat lengthy phrase ", 20),
	}
	s := Summarize(rec)
	assert.LessOrEqual(t, len(s), summaryLength+len("…"))
	assert.True(t, strings.HasSuffix(s, "…"))
	assert.NotContains(t, s, "  ")

	short := &database.MemoryRecord{Text: "short text"}
	assert.Equal(t, "short text", Summarize(short))

	withSummary := &database.MemoryRecord{Text: "long text", Summary: "stored summary"}
	assert.Equal(t, "stored summary", Summarize(withSummary))
}
