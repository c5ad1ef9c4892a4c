// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package search

import "sort"

// DefaultRRFK is the standard Reciprocal Rank Fusion constant
const DefaultRRFK = 60.0

// convergenceBonus rewards candidates appearing in more than one
// source's result list.
const convergenceBonus = 1.10

// rankedList is one source's ordered candidate ids (best first)
type rankedList struct {
	source string
	ids    []string
}

// fused is one candidate after rank aggregation
type fused struct {
	id      string
	score   float64
	sources []string
}

// fuseRRF aggregates ranked lists with Reciprocal Rank Fusion:
// score(d) = sum over sources of 1/(k + rank_source(d)), rank starting
// at 1, then applies the convergence bonus to candidates present in
// more than one list. The result is sorted by fused score descending.
func fuseRRF(lists []rankedList, k float64) []fused {
	if k <= 0 {
		k = DefaultRRFK
	}

	byID := make(map[string]*fused)
	for _, list := range lists {
		for rank, id := range list.ids {
			f, ok := byID[id]
			if !ok {
				f = &fused{id: id}
				byID[id] = f
			}
			f.score += 1.0 / (k + float64(rank+1))
			f.sources = append(f.sources, list.source)
		}
	}

	results := make([]fused, 0, len(byID))
	for _, f := range byID {
		if len(f.sources) > 1 {
			f.score *= convergenceBonus
		}
		results = append(results, *f)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return results[i].id < results[j].id
		}
		return results[i].score > results[j].score
	})

	return results
}
