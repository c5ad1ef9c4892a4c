// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package search orchestrates the hybrid retrieval pipeline: three
// candidate generators (vector, lexical, causal-graph), Reciprocal
// Rank Fusion, decay-aware weighting and the constitutional override.
package search

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/decay"
	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/graph"
	"github.com/engramlabs/engram-mcp/internal/lexical"
	"github.com/engramlabs/engram-mcp/internal/memory"
)

// graphWeight boosts candidates reached through causal neighborhoods
const graphWeight = 1.5

// graphSeedCount is how many top candidates seed the graph generator
const graphSeedCount = 5

// summaryLength caps generated summaries for WARM results
const summaryLength = 200

// Config tunes the search pipeline
type Config struct {
	Limit          int
	CandidateLimit int
	RRFK           float64
	Reranker       *Reranker
	RerankTopN     int
}

// Engine answers ranked queries over one profile store
type Engine struct {
	store *memory.Store
	graph *graph.Manager
	chain *embeddings.Chain
	cfg   Config
}

// NewEngine creates a search engine
func NewEngine(store *memory.Store, graphMgr *graph.Manager, chain *embeddings.Chain, cfg Config) *Engine {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 30
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.RerankTopN <= 0 {
		cfg.RerankTopN = 20
	}
	return &Engine{store: store, graph: graphMgr, chain: chain, cfg: cfg}
}

// Options select what to search for
type Options struct {
	Query    string
	Concepts []string
	Scope    string
	Anchor   string
	Limit    int

	// IncludeConstitutional defaults to true at the call sites;
	// constitutional memories are prepended regardless of scope
	// unless the caller explicitly opts out.
	IncludeConstitutional bool

	// Rerank runs the cross-encoder pass over the top candidates
	Rerank bool
}

// Result is one ranked search hit. Text is populated for HOT results,
// Summary for WARM; COLD results carry neither unless nothing better
// qualified.
type Result struct {
	ID             string   `json:"id"`
	Score          float64  `json:"score"`
	Tier           string   `json:"tier"`
	Sources        []string `json:"sources,omitempty"`
	Scope          string   `json:"scope,omitempty"`
	Text           string   `json:"text,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	Constitutional bool     `json:"constitutional,omitempty"`
}

// Degraded reports whether the engine is running lexical-only
func (e *Engine) Degraded() bool {
	return e.chain == nil || e.chain.IsDegraded()
}

// Search runs the full hybrid pipeline
func (e *Engine) Search(ctx context.Context, opts Options) ([]Result, error) {
	queryText := opts.Query
	if queryText == "" {
		queryText = strings.Join(opts.Concepts, " ")
	}

	limit := opts.Limit
	if limit <= 0 || limit > e.cfg.Limit {
		limit = e.cfg.Limit
	}

	allowed, err := e.allowedSet(opts.Scope)
	if err != nil {
		return nil, err
	}

	lists := e.generateCandidates(ctx, queryText, allowed)
	fusedResults := fuseRRF(lists, e.cfg.RRFK)

	now := time.Now()
	scored := make([]Result, 0, len(fusedResults))
	records := make(map[string]*database.MemoryRecord)

	for _, f := range fusedResults {
		rec, err := e.store.Get(f.id)
		if err != nil {
			continue
		}
		if rec.IsArchived {
			continue
		}

		composite := decay.CompositeScore(rec, now, decay.ScoreInputs{
			PatternAligned: opts.Scope != "" && rec.ScopeTag == opts.Scope,
			CitedRecently:  rec.AccessCount > 0 && now.Sub(rec.LastAccessedAt) <= decay.CitationRecencyWindow,
		})
		tier := decay.ClassifyTier(composite)
		if tier == decay.TierArchived {
			continue
		}

		records[rec.ID] = rec
		scored = append(scored, Result{
			ID:      rec.ID,
			Score:   f.score * composite,
			Tier:    tier,
			Sources: f.sources,
			Scope:   rec.ScopeTag,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].ID < scored[j].ID
		}
		return scored[i].Score > scored[j].Score
	})

	if opts.Rerank && e.cfg.Reranker.Enabled() {
		scored = e.rerank(ctx, queryText, scored, records)
	}

	if opts.Anchor != "" {
		scored = e.filterByAnchor(scored, records, opts.Anchor)
	}

	// Deliberate ranking override: constitutional memories ignore
	// scope filters and fused rank entirely.
	if opts.IncludeConstitutional {
		scored = e.prependConstitutional(scored, records, now)
	}

	if len(scored) > limit {
		scored = scored[:limit]
	}

	results := e.present(scored, records, opts.Anchor)

	// Retrieval strengthens retention: returned memories get the
	// testing-effect bump.
	for _, r := range results {
		if err := e.store.Touch(r.ID); err != nil {
			log.Printf("failed to touch record %s: %v", r.ID, err)
		}
	}

	return results, nil
}

// allowedSet returns the live, unarchived record ids visible to the
// query scope as a lookup set.
func (e *Engine) allowedSet(scope string) (map[string]bool, error) {
	ids, err := e.store.ScopeIDs(scope)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// generateCandidates runs the three independent generators. Provider
// failures degrade to lexical-only rather than failing the query.
func (e *Engine) generateCandidates(ctx context.Context, queryText string, allowed map[string]bool) []rankedList {
	var lists []rankedList

	// Vector generator
	var vectorIDs []string
	if e.chain != nil {
		queryVec, err := e.chain.Embed(ctx, queryText)
		if err != nil {
			if !errors.Is(err, embeddings.ErrUnavailable) {
				log.Printf("vector generator failed: %v", err)
			}
		} else {
			hits, err := e.store.Embeddings().Search(queryVec, e.cfg.CandidateLimit*2)
			if err != nil {
				log.Printf("vector search failed: %v", err)
			} else {
				for _, h := range hits {
					if h.Similarity <= 0 || !allowed[h.RecordID] {
						continue
					}
					vectorIDs = append(vectorIDs, h.RecordID)
					if len(vectorIDs) >= e.cfg.CandidateLimit {
						break
					}
				}
			}
		}
	}
	if len(vectorIDs) > 0 {
		lists = append(lists, rankedList{source: "vector", ids: vectorIDs})
	}

	// Lexical generator
	var lexicalIDs []string
	hits, err := lexical.Search(e.store.DB(), queryText, e.cfg.CandidateLimit*2)
	if err != nil {
		log.Printf("lexical generator failed: %v", err)
	} else {
		for _, h := range hits {
			if !allowed[h.RecordID] {
				continue
			}
			lexicalIDs = append(lexicalIDs, h.RecordID)
			if len(lexicalIDs) >= e.cfg.CandidateLimit {
				break
			}
		}
	}
	if len(lexicalIDs) > 0 {
		lists = append(lists, rankedList{source: "lexical", ids: lexicalIDs})
	}

	// Graph generator: causal neighbors of the top seeds, weighted
	graphIDs := e.graphCandidates(vectorIDs, lexicalIDs, allowed)
	if len(graphIDs) > 0 {
		lists = append(lists, rankedList{source: "graph", ids: graphIDs})
	}

	return lists
}

// graphCandidates collects causal neighbors of the highest-ranked
// vector/lexical candidates, ordered by weighted edge strength.
func (e *Engine) graphCandidates(vectorIDs, lexicalIDs []string, allowed map[string]bool) []string {
	seeds := make([]string, 0, graphSeedCount)
	seen := make(map[string]bool)
	for _, list := range [][]string{vectorIDs, lexicalIDs} {
		for _, id := range list {
			if seen[id] {
				continue
			}
			seen[id] = true
			seeds = append(seeds, id)
			if len(seeds) >= graphSeedCount {
				break
			}
		}
		if len(seeds) >= graphSeedCount {
			break
		}
	}

	weights := make(map[string]float64)
	for _, seed := range seeds {
		edges, err := e.graph.Neighbors(seed)
		if err != nil {
			log.Printf("graph generator failed for %s: %v", seed, err)
			continue
		}
		for _, edge := range edges {
			neighbor := edge.TargetID
			if neighbor == seed {
				neighbor = edge.SourceID
			}
			if seen[neighbor] || !allowed[neighbor] {
				continue
			}
			w := graphWeight * edge.Strength
			if w > weights[neighbor] {
				weights[neighbor] = w
			}
		}
	}

	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if weights[ids[i]] == weights[ids[j]] {
			return ids[i] < ids[j]
		}
		return weights[ids[i]] > weights[ids[j]]
	})

	if len(ids) > e.cfg.CandidateLimit {
		ids = ids[:e.cfg.CandidateLimit]
	}
	return ids
}

// rerank reorders the top-N candidates with the cross-encoder command;
// on failure the original order is kept.
func (e *Engine) rerank(ctx context.Context, query string, scored []Result, records map[string]*database.MemoryRecord) []Result {
	n := e.cfg.RerankTopN
	if n > len(scored) {
		n = len(scored)
	}
	if n < 2 {
		return scored
	}

	docs := make([]string, n)
	for i := 0; i < n; i++ {
		docs[i] = records[scored[i].ID].Text
	}

	scores, err := e.cfg.Reranker.Scores(ctx, query, docs)
	if err != nil {
		log.Printf("rerank failed, keeping fused order: %v", err)
		return scored
	}

	head := make([]Result, n)
	copy(head, scored[:n])
	sort.SliceStable(head, func(i, j int) bool {
		return scores[indexOf(scored, head[i].ID)] > scores[indexOf(scored, head[j].ID)]
	})

	out := make([]Result, 0, len(scored))
	out = append(out, head...)
	out = append(out, scored[n:]...)
	return out
}

func indexOf(results []Result, id string) int {
	for i, r := range results {
		if r.ID == id {
			return i
		}
	}
	return 0
}

// filterByAnchor keeps only records exposing the named anchor
func (e *Engine) filterByAnchor(scored []Result, records map[string]*database.MemoryRecord, anchor string) []Result {
	filtered := scored[:0]
	for _, r := range scored {
		rec := records[r.ID]
		anchors, err := memory.ParseAnchors(rec.Anchors)
		if err != nil {
			continue
		}
		if _, ok := anchors[anchor]; ok {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// prependConstitutional puts every constitutional memory at the front
// of the result list regardless of scope or rank.
func (e *Engine) prependConstitutional(scored []Result, records map[string]*database.MemoryRecord, now time.Time) []Result {
	var constitutional []database.MemoryRecord
	err := e.store.DB().
		Where("importance_tier = ? AND is_archived = ?", database.TierConstitutional, false).
		Order("created_at").Find(&constitutional).Error
	if err != nil {
		log.Printf("failed to load constitutional memories: %v", err)
		return scored
	}
	if len(constitutional) == 0 {
		return scored
	}

	present := make(map[string]bool, len(scored))
	for _, r := range scored {
		present[r.ID] = true
	}

	head := make([]Result, 0, len(constitutional))
	for i := range constitutional {
		rec := &constitutional[i]
		if present[rec.ID] {
			continue
		}
		records[rec.ID] = rec
		composite := decay.CompositeScore(rec, now, decay.ScoreInputs{})
		head = append(head, Result{
			ID:             rec.ID,
			Score:          composite,
			Tier:           decay.ClassifyTier(composite),
			Scope:          rec.ScopeTag,
			Constitutional: true,
		})
	}

	// Already-ranked constitutional hits move to the front too
	tail := make([]Result, 0, len(scored))
	for _, r := range scored {
		rec := records[r.ID]
		if rec != nil && rec.ImportanceTier == database.TierConstitutional {
			r.Constitutional = true
			head = append(head, r)
			continue
		}
		tail = append(tail, r)
	}

	return append(head, tail...)
}

// present fills in text or summary per retention tier: HOT gets full
// text, WARM a summary, COLD is omitted unless nothing else qualified.
func (e *Engine) present(scored []Result, records map[string]*database.MemoryRecord, anchor string) []Result {
	hasWarmOrBetter := false
	for _, r := range scored {
		if r.Tier == decay.TierHot || r.Tier == decay.TierWarm || r.Constitutional {
			hasWarmOrBetter = true
			break
		}
	}

	out := make([]Result, 0, len(scored))
	for _, r := range scored {
		rec := records[r.ID]
		if rec == nil {
			continue
		}

		switch {
		case r.Constitutional || r.Tier == decay.TierHot:
			text, err := memory.AnchorSlice(rec.Anchors, rec.Text, anchor)
			if err != nil {
				text = rec.Text
			}
			r.Text = text
		case r.Tier == decay.TierWarm:
			r.Summary = Summarize(rec)
		default:
			// COLD and DORMANT carry content only when the result
			// list has nothing better.
			if hasWarmOrBetter {
				continue
			}
			r.Summary = Summarize(rec)
		}
		out = append(out, r)
	}
	return out
}

// Summarize returns the stored summary or a truncated head of the text
func Summarize(rec *database.MemoryRecord) string {
	if rec.Summary != "" {
		return rec.Summary
	}
	if len(rec.Text) <= summaryLength {
		return rec.Text
	}
	cut := rec.Text[:summaryLength]
	if idx := strings.LastIndexByte(cut, ' '); idx > summaryLength/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// BestMatch returns the most similar stored record to the vector
// within a scope. Used by the prediction-error gate.
func (e *Engine) BestMatch(vector []float32, scope string) (string, float64, error) {
	ids, err := e.store.ScopeIDs(scope)
	if err != nil {
		return "", 0, err
	}
	hits, err := e.store.Embeddings().SearchWithin(vector, ids, 1)
	if err != nil {
		return "", 0, err
	}
	if len(hits) == 0 {
		return "", 0, nil
	}
	return hits[0].RecordID, hits[0].Similarity, nil
}
