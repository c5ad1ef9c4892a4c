// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package graph

import (
	"path/filepath"
	"testing"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupGraph(t *testing.T) (*Manager, *gorm.DB) {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return NewManager(db), db
}

func createRecord(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	require.NoError(t, db.Create(&database.MemoryRecord{
		ID: id, Text: "record " + id, Stability: 1.0,
	}).Error)
}

func TestLinkValidation(t *testing.T) {
	m, db := setupGraph(t)
	createRecord(t, db, "a")
	createRecord(t, db, "b")

	_, err := m.Link("a", "b", "not-a-relation", 0.5, "")
	assert.ErrorContains(t, err, "invalid relation")

	_, err = m.Link("a", "b", database.RelationCaused, 1.5, "")
	assert.ErrorContains(t, err, "strength")

	_, err = m.Link("a", "a", database.RelationCaused, 0.5, "")
	assert.ErrorContains(t, err, "itself")

	_, err = m.Link("a", "ghost", database.RelationCaused, 0.5, "")
	assert.ErrorContains(t, err, "not found")

	edge, err := m.Link("a", "b", database.RelationCaused, 0.9, "observed in review")
	require.NoError(t, err)
	assert.Equal(t, "observed in review", edge.Evidence)
}

func TestUnlink(t *testing.T) {
	m, db := setupGraph(t)
	createRecord(t, db, "a")
	createRecord(t, db, "b")
	_, err := m.Link("a", "b", database.RelationCaused, 0.5, "")
	require.NoError(t, err)

	require.NoError(t, m.Unlink("a", "b"))
	assert.ErrorContains(t, m.Unlink("a", "b"), "edge not found")
}

func TestTraverseTerminatesOnCycle(t *testing.T) {
	m, db := setupGraph(t)
	for _, id := range []string{"a", "b", "c"} {
		createRecord(t, db, id)
	}
	// a -> b -> c -> a
	_, err := m.Link("a", "b", database.RelationCaused, 0.9, "")
	require.NoError(t, err)
	_, err = m.Link("b", "c", database.RelationCaused, 0.8, "")
	require.NoError(t, err)
	_, err = m.Link("c", "a", database.RelationCaused, 0.7, "")
	require.NoError(t, err)

	result, err := m.Traverse("a", DirectionOut, 10)
	require.NoError(t, err)

	require.Len(t, result.Nodes, 3, "each node visited exactly once")
	seen := map[string]bool{}
	for _, n := range result.Nodes {
		assert.False(t, seen[n.RecordID], "duplicate node %s", n.RecordID)
		seen[n.RecordID] = true
	}
	assert.Len(t, result.Edges, 3, "each edge emitted exactly once")
}

func TestTraverseDepthLimit(t *testing.T) {
	m, db := setupGraph(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		createRecord(t, db, id)
	}
	_, err := m.Link("a", "b", database.RelationCaused, 0.9, "")
	require.NoError(t, err)
	_, err = m.Link("b", "c", database.RelationCaused, 0.9, "")
	require.NoError(t, err)
	_, err = m.Link("c", "d", database.RelationCaused, 0.9, "")
	require.NoError(t, err)

	result, err := m.Traverse("a", DirectionOut, 2)
	require.NoError(t, err)

	ids := map[string]int{}
	for _, n := range result.Nodes {
		ids[n.RecordID] = n.Depth
	}
	assert.Contains(t, ids, "b")
	assert.Contains(t, ids, "c")
	assert.NotContains(t, ids, "d", "depth 3 lies beyond the limit")
	assert.Equal(t, 2, ids["c"])
}

func TestTraverseDirections(t *testing.T) {
	m, db := setupGraph(t)
	for _, id := range []string{"mid", "up", "down"} {
		createRecord(t, db, id)
	}
	_, err := m.Link("up", "mid", database.RelationCaused, 0.9, "")
	require.NoError(t, err)
	_, err = m.Link("mid", "down", database.RelationCaused, 0.9, "")
	require.NoError(t, err)

	out, err := m.Traverse("mid", DirectionOut, 5)
	require.NoError(t, err)
	require.Len(t, out.Nodes, 2)
	assert.Equal(t, "down", out.Nodes[1].RecordID)

	in, err := m.Traverse("mid", DirectionIn, 5)
	require.NoError(t, err)
	require.Len(t, in.Nodes, 2)
	assert.Equal(t, "up", in.Nodes[1].RecordID)

	both, err := m.Traverse("mid", DirectionBoth, 5)
	require.NoError(t, err)
	assert.Len(t, both.Nodes, 3)
}

func TestTraverseSkipsOrphanedEdges(t *testing.T) {
	m, db := setupGraph(t)
	createRecord(t, db, "a")
	createRecord(t, db, "b")
	edge, err := m.Link("a", "b", database.RelationCaused, 0.9, "")
	require.NoError(t, err)
	require.NoError(t, db.Model(&database.CausalEdge{}).
		Where("id = ?", edge.ID).Update("orphaned", true).Error)

	result, err := m.Traverse("a", DirectionBoth, 5)
	require.NoError(t, err)
	assert.Len(t, result.Nodes, 1, "orphaned edges must not be followed")
	assert.Empty(t, result.Edges)
}

func TestWhyFollowsLineageBackward(t *testing.T) {
	m, db := setupGraph(t)
	for _, id := range []string{"root-cause", "intermediate", "outcome"} {
		createRecord(t, db, id)
	}
	_, err := m.Link("root-cause", "intermediate", database.RelationCaused, 0.9, "incident report")
	require.NoError(t, err)
	_, err = m.Link("intermediate", "outcome", database.RelationEnabled, 0.8, "")
	require.NoError(t, err)

	chain, err := m.Why("outcome", 5)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "intermediate", chain[0].RecordID)
	assert.Equal(t, database.RelationEnabled, chain[0].Relation)
	assert.Equal(t, 1, chain[0].Depth)
	assert.Equal(t, "root-cause", chain[1].RecordID)
	assert.Equal(t, "incident report", chain[1].Evidence)
	assert.Equal(t, 2, chain[1].Depth)
}

func TestWhyIgnoresNonLineageRelations(t *testing.T) {
	m, db := setupGraph(t)
	for _, id := range []string{"old", "new"} {
		createRecord(t, db, id)
	}
	_, err := m.Link("old", "new", database.RelationContradicts, 0.9, "")
	require.NoError(t, err)

	chain, err := m.Why("new", 5)
	require.NoError(t, err)
	assert.Empty(t, chain, "contradicts is not a lineage relation")
}

func TestWhyNoLineage(t *testing.T) {
	m, db := setupGraph(t)
	createRecord(t, db, "lonely")

	chain, err := m.Why("lonely", 5)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestComputeStats(t *testing.T) {
	m, db := setupGraph(t)
	for _, id := range []string{"a", "b", "c"} {
		createRecord(t, db, id)
	}
	_, err := m.Link("a", "b", database.RelationCaused, 0.9, "")
	require.NoError(t, err)
	edge, err := m.Link("b", "c", database.RelationSupersedes, 0.9, "")
	require.NoError(t, err)
	require.NoError(t, db.Model(&database.CausalEdge{}).
		Where("id = ?", edge.ID).Update("orphaned", true).Error)

	stats, err := m.ComputeStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Edges)
	assert.Equal(t, int64(1), stats.Orphaned)
	assert.Equal(t, int64(1), stats.ByRelation[database.RelationCaused])
}
