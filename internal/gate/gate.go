// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gate implements the prediction-error write gate: every save
// is compared against what the store already knows, and only content
// that is sufficiently surprising is admitted unconditionally.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/memory"
)

// Similarity thresholds between a candidate save and its best match.
const (
	DuplicateThreshold = 0.95
	HighThreshold      = 0.90
	MediumThreshold    = 0.70
	LowThreshold       = 0.50
)

// Outcome classifies a candidate save
type Outcome string

const (
	// OutcomeDuplicate rejects the save; the existing record is touched
	// instead.
	OutcomeDuplicate Outcome = "DUPLICATE"
	// OutcomeHighMatch holds the save pending an explicit confirm or
	// supersede decision from the caller.
	OutcomeHighMatch Outcome = "HIGH_MATCH"
	// OutcomeMediumMatch admits the save and suggests linking to the
	// related record.
	OutcomeMediumMatch Outcome = "MEDIUM_MATCH"
	// OutcomeLowMatch admits the save with a weak-relation note.
	OutcomeLowMatch Outcome = "LOW_MATCH"
	// OutcomeNew admits the save unconditionally.
	OutcomeNew Outcome = "NEW"
)

// Decision is the gate's verdict on a candidate save. Vector carries
// the embedding computed during evaluation so the caller can reuse it
// for the actual write; it is nil in degraded (lexical-only) mode.
type Decision struct {
	Outcome    Outcome   `json:"outcome"`
	MatchID    string    `json:"match_id,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	Degraded   bool      `json:"degraded,omitempty"`
	Vector     []float32 `json:"-"`
}

// Admitted reports whether the save may proceed without further input
func (d *Decision) Admitted() bool {
	return d.Outcome == OutcomeNew ||
		d.Outcome == OutcomeMediumMatch ||
		d.Outcome == OutcomeLowMatch
}

// Gate evaluates candidate saves against one profile store
type Gate struct {
	store *memory.Store
	chain *embeddings.Chain
}

// NewGate creates a write gate over the store
func NewGate(store *memory.Store, chain *embeddings.Chain) *Gate {
	return &Gate{store: store, chain: chain}
}

// Evaluate classifies a candidate save within a scope. The exact-hash
// check runs first and short-circuits the embedding call; when every
// provider is down the gate degrades to hash-only and admits the save.
func (g *Gate) Evaluate(ctx context.Context, text, scope string) (*Decision, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	hash := embeddings.CalculateContentHash(text)
	matchID, err := g.exactMatch(hash, scope)
	if err != nil {
		return nil, err
	}
	if matchID != "" {
		return &Decision{Outcome: OutcomeDuplicate, MatchID: matchID, Similarity: 1.0}, nil
	}

	if g.chain == nil {
		return &Decision{Outcome: OutcomeNew, Degraded: true}, nil
	}

	vector, err := g.chain.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embeddings.ErrUnavailable) {
			log.Printf("write gate degraded to hash-only: %v", err)
			return &Decision{Outcome: OutcomeNew, Degraded: true}, nil
		}
		return nil, fmt.Errorf("failed to embed candidate: %w", err)
	}

	matchID, similarity, err := g.bestMatch(vector, scope)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		MatchID:    matchID,
		Similarity: similarity,
		Vector:     vector,
	}
	switch {
	case matchID == "" || similarity < LowThreshold:
		decision.Outcome = OutcomeNew
		decision.MatchID = ""
		decision.Similarity = 0
	case similarity >= DuplicateThreshold:
		decision.Outcome = OutcomeDuplicate
	case similarity >= HighThreshold:
		decision.Outcome = OutcomeHighMatch
	case similarity >= MediumThreshold:
		decision.Outcome = OutcomeMediumMatch
	default:
		decision.Outcome = OutcomeLowMatch
	}
	return decision, nil
}

// exactMatch looks up a live record with identical content in the scope
func (g *Gate) exactMatch(hash, scope string) (string, error) {
	g.store.RLock()
	defer g.store.RUnlock()

	q := g.store.DB().Model(&database.MemoryRecord{}).
		Where("content_hash = ? AND is_archived = ?", hash, false)
	if scope != "" {
		q = q.Where("scope_tag = ?", scope)
	}

	var ids []string
	if err := q.Limit(1).Pluck("id", &ids).Error; err != nil {
		return "", fmt.Errorf("failed to check content hash: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// bestMatch finds the nearest stored vector within the scope
func (g *Gate) bestMatch(vector []float32, scope string) (string, float64, error) {
	ids, err := g.store.ScopeIDs(scope)
	if err != nil {
		return "", 0, err
	}
	if len(ids) == 0 {
		return "", 0, nil
	}

	hits, err := g.store.Embeddings().SearchWithin(vector, ids, 1)
	if err != nil {
		return "", 0, fmt.Errorf("failed to search for near matches: %w", err)
	}
	if len(hits) == 0 {
		return "", 0, nil
	}
	return hits[0].RecordID, hits[0].Similarity, nil
}
