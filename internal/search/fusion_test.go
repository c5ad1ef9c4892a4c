// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRFConvergenceBeatsSingleTopRank(t *testing.T) {
	// A document at ranks 3 and 5 in two lists outscores a document at
	// rank 1 in only one list:
	// both: 1.10 * (1/63 + 1/65) = 0.03438 > 1/61 = 0.01639
	lists := []rankedList{
		{source: "vector", ids: []string{"top", "b", "both", "c", "d"}},
		{source: "lexical", ids: []string{"e", "f", "g", "h", "both"}},
	}

	results := fuseRRF(lists, 60)
	require.NotEmpty(t, results)
	assert.Equal(t, "both", results[0].id)

	var both, top fused
	for _, r := range results {
		switch r.id {
		case "both":
			both = r
		case "top":
			top = r
		}
	}
	assert.InDelta(t, 1.10*(1.0/63+1.0/65), both.score, 1e-9)
	assert.InDelta(t, 1.0/61, top.score, 1e-9)
	assert.Greater(t, both.score, top.score)
	assert.ElementsMatch(t, []string{"vector", "lexical"}, both.sources)
}

func TestFuseRRFSingleList(t *testing.T) {
	results := fuseRRF([]rankedList{
		{source: "lexical", ids: []string{"a", "b", "c"}},
	}, 60)

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].id)
	assert.Equal(t, "b", results[1].id)
	assert.Equal(t, "c", results[2].id)
	// No convergence bonus with one source
	assert.InDelta(t, 1.0/61, results[0].score, 1e-9)
}

func TestFuseRRFDeterministicTieBreak(t *testing.T) {
	// Same rank in disjoint lists: identical scores, ordered by id
	results := fuseRRF([]rankedList{
		{source: "vector", ids: []string{"zz"}},
		{source: "lexical", ids: []string{"aa"}},
	}, 60)

	require.Len(t, results, 2)
	assert.Equal(t, "aa", results[0].id)
	assert.Equal(t, "zz", results[1].id)
}

func TestFuseRRFEmpty(t *testing.T) {
	assert.Empty(t, fuseRRF(nil, 60))
}

func TestLengthPenalty(t *testing.T) {
	assert.Equal(t, 1.0, lengthPenalty(0))
	assert.Equal(t, 1.0, lengthPenalty(100))
	assert.Less(t, lengthPenalty(500), 1.0)
	assert.Less(t, lengthPenalty(5000), lengthPenalty(500))
}
