// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package session keeps per-session working memory: a small activation
// map over memory records that decays every turn, spreads along causal
// edges, and survives process crashes through write-ahead persistence.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/decay"
	"github.com/engramlabs/engram-mcp/internal/graph"
	"github.com/engramlabs/engram-mcp/internal/lexical"
	"github.com/engramlabs/engram-mcp/internal/memory"
	"gorm.io/gorm"
)

// triggerActivation is the activation assigned to directly matched
// records each turn.
const triggerActivation = 1.0

// coActivation spreads to immediate causal neighbors of a triggered
// record. Single hop only; spreading activation does not cascade.
const coActivation = 0.35

// pruneThreshold drops activations too weak to matter
const pruneThreshold = 0.05

// triggerLimit caps how many lexical matches become triggers per turn
const triggerLimit = 5

// Per-turn retention by importance tier. Tiers not listed retain fully.
var turnRetention = map[string]float64{
	database.TierNormal:    0.80,
	database.TierTemporary: 0.60,
}

// state is the in-memory working set of one session
type state struct {
	mu          sync.Mutex
	sessionID   string
	turn        int
	activations map[string]float64
	sentIDs     map[string]bool
	recovered   bool
	// closed marks a state evicted by Close or Sweep; a turn that was
	// already waiting on mu must re-acquire through the registry
	// instead of resurrecting the evicted session.
	closed bool
}

// Manager owns all live sessions over one profile store
type Manager struct {
	store *memory.Store
	graph *graph.Manager

	mu       sync.Mutex
	sessions map[string]*state
}

// NewManager creates a session manager
func NewManager(store *memory.Store, graphMgr *graph.Manager) *Manager {
	return &Manager{
		store:    store,
		graph:    graphMgr,
		sessions: make(map[string]*state),
	}
}

// ActiveMemory is one activated record in a turn result. Activation
// decides verbosity: full text at HOT levels, summary only at WARM.
// Records whose content already went out earlier in the session carry
// neither.
type ActiveMemory struct {
	RecordID   string  `json:"record_id"`
	Activation float64 `json:"activation"`
	Text       string  `json:"text,omitempty"`
	Summary    string  `json:"summary,omitempty"`
}

// TurnResult is the outcome of one session tick
type TurnResult struct {
	SessionID  string         `json:"session_id"`
	TurnNumber int            `json:"turn_number"`
	Active     []ActiveMemory `json:"active"`
	// Recovered is set once, on the first turn served from a state
	// reloaded after a restart or crash.
	Recovered bool `json:"recovered,omitempty"`
}

// Tick advances a session one turn: decay existing activations by tier
// retention, activate records matching the turn's context, co-activate
// their causal neighbors, prune, persist, and report the working set.
func (m *Manager) Tick(sessionID, contextText string) (*TurnResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	var st *state
	for {
		var err error
		st, err = m.acquire(sessionID)
		if err != nil {
			return nil, err
		}
		st.mu.Lock()
		if !st.closed {
			break
		}
		// Swept or closed while we waited; start over on a fresh state.
		st.mu.Unlock()
	}
	defer st.mu.Unlock()

	// Mark the stored row dirty before mutating so a crash mid-turn is
	// visible on the next load.
	if err := m.markDirty(sessionID); err != nil {
		log.Printf("failed to mark session %s dirty: %v", sessionID, err)
	}

	st.turn++

	m.decay(st)
	triggered := m.activate(st, contextText)
	m.spread(st, triggered)
	m.prune(st)

	result := m.collect(st, triggered)

	if err := m.persist(st); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	result.Recovered = st.recovered
	st.recovered = false
	return result, nil
}

// acquire returns the live state for a session, loading a persisted
// row (crash recovery) or creating a fresh one.
func (m *Manager) acquire(sessionID string) (*state, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.sessions[sessionID]; ok {
		return st, nil
	}

	st := &state{
		sessionID:   sessionID,
		activations: make(map[string]float64),
		sentIDs:     make(map[string]bool),
	}

	var row database.SessionState
	err := m.store.DB().Where("session_id = ?", sessionID).First(&row).Error
	switch {
	case err == nil:
		// A persisted row with no live state means the process
		// restarted; a dirty row means it crashed mid-turn. Either
		// way the working set survives and the caller is told.
		st.turn = row.TurnNumber
		st.recovered = true
		if row.Activations != "" {
			if err := json.Unmarshal([]byte(row.Activations), &st.activations); err != nil {
				return nil, fmt.Errorf("failed to decode session activations: %w", err)
			}
		}
		if row.SentIDs != "" {
			var sent []string
			if err := json.Unmarshal([]byte(row.SentIDs), &sent); err != nil {
				return nil, fmt.Errorf("failed to decode session sent ids: %w", err)
			}
			for _, id := range sent {
				st.sentIDs[id] = true
			}
		}
	case err == gorm.ErrRecordNotFound:
	default:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	m.sessions[sessionID] = st
	return st, nil
}

// decay applies per-tier retention to every activation
func (m *Manager) decay(st *state) {
	for id, activation := range st.activations {
		rec, err := m.store.Get(id)
		if err != nil {
			// Record deleted since last turn; drop it from the set.
			delete(st.activations, id)
			continue
		}
		retention, ok := turnRetention[rec.ImportanceTier]
		if !ok {
			retention = 1.0
		}
		st.activations[id] = activation * retention
	}
}

// activate raises directly matched records to full activation
func (m *Manager) activate(st *state, contextText string) []string {
	if contextText == "" {
		return nil
	}
	hits, err := lexical.Search(m.store.DB(), contextText, triggerLimit)
	if err != nil {
		log.Printf("session trigger search failed: %v", err)
		return nil
	}

	var triggered []string
	for _, h := range hits {
		st.activations[h.RecordID] = triggerActivation
		triggered = append(triggered, h.RecordID)
	}
	return triggered
}

// spread co-activates the immediate causal neighbors of each trigger,
// clamped at full activation.
func (m *Manager) spread(st *state, triggered []string) {
	for _, id := range triggered {
		edges, err := m.graph.Neighbors(id)
		if err != nil {
			log.Printf("session co-activation failed for %s: %v", id, err)
			continue
		}
		for _, edge := range edges {
			neighbor := edge.TargetID
			if neighbor == id {
				neighbor = edge.SourceID
			}
			activation := st.activations[neighbor] + coActivation
			if activation > 1.0 {
				activation = 1.0
			}
			st.activations[neighbor] = activation
		}
	}
}

// prune drops activations below the threshold
func (m *Manager) prune(st *state) {
	for id, activation := range st.activations {
		if activation < pruneThreshold {
			delete(st.activations, id)
		}
	}
}

// collect builds the turn result. Each activation is classified with
// the scoring engine's thresholds: HOT returns full text, WARM a
// summary, anything colder nothing at all. Ids already returned
// earlier in the session are suppressed entirely unless this turn's
// triggers re-requested them, and then carry no content.
func (m *Manager) collect(st *state, triggered []string) *TurnResult {
	result := &TurnResult{
		SessionID:  st.sessionID,
		TurnNumber: st.turn,
		Active:     []ActiveMemory{},
	}

	retriggered := make(map[string]bool, len(triggered))
	for _, id := range triggered {
		retriggered[id] = true
	}

	ids := make([]string, 0, len(st.activations))
	for id := range st.activations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if st.activations[ids[i]] == st.activations[ids[j]] {
			return ids[i] < ids[j]
		}
		return st.activations[ids[i]] > st.activations[ids[j]]
	})

	for _, id := range ids {
		activation := st.activations[id]
		band := decay.ClassifyTier(activation)
		if band != decay.TierHot && band != decay.TierWarm {
			continue
		}
		if st.sentIDs[id] && !retriggered[id] {
			continue
		}

		active := ActiveMemory{RecordID: id, Activation: activation}
		if !st.sentIDs[id] {
			if rec, err := m.store.Get(id); err == nil {
				if band == decay.TierHot {
					active.Text = rec.Text
				} else {
					active.Summary = rec.Summary
				}
			}
			st.sentIDs[id] = true
		}
		result.Active = append(result.Active, active)
	}
	return result
}

// markDirty flips the persisted row's dirty flag ahead of a turn
func (m *Manager) markDirty(sessionID string) error {
	return m.store.DB().Model(&database.SessionState{}).
		Where("session_id = ?", sessionID).
		Update("dirty", true).Error
}

// persist writes the full session state with the dirty flag cleared
func (m *Manager) persist(st *state) error {
	activations, err := json.Marshal(st.activations)
	if err != nil {
		return err
	}
	sent := make([]string, 0, len(st.sentIDs))
	for id := range st.sentIDs {
		sent = append(sent, id)
	}
	sort.Strings(sent)
	sentJSON, err := json.Marshal(sent)
	if err != nil {
		return err
	}

	row := database.SessionState{
		SessionID:      st.sessionID,
		TurnNumber:     st.turn,
		Activations:    string(activations),
		SentIDs:        string(sentJSON),
		LastActivityAt: time.Now(),
		Dirty:          false,
	}
	return m.store.DB().Save(&row).Error
}

// Close ends a session, discarding its working memory
func (m *Manager) Close(sessionID string) error {
	st := m.evict(sessionID)
	if st != nil {
		defer st.mu.Unlock()
	}

	result := m.store.DB().Where("session_id = ?", sessionID).
		Delete(&database.SessionState{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// evict marks a session's live state closed and drops it from the
// registry. The state's mutex is held on return (caller unlocks), so
// no turn is mid-flight while the caller removes the persisted row.
func (m *Manager) evict(sessionID string) *state {
	m.mu.Lock()
	st := m.sessions[sessionID]
	m.mu.Unlock()
	if st == nil {
		return nil
	}

	st.mu.Lock()
	st.closed = true

	m.mu.Lock()
	if m.sessions[sessionID] == st {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	return st
}

// Sweep removes sessions idle longer than the TTL. Returns how many
// were removed. Each session is locked while its row is deleted, and
// the delete re-checks the activity timestamp, so a turn that slipped
// in after the staleness scan keeps its session.
func (m *Manager) Sweep(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)

	var stale []string
	err := m.store.DB().Model(&database.SessionState{}).
		Where("last_activity_at < ?", cutoff).
		Pluck("session_id", &stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find stale sessions: %w", err)
	}

	removed := 0
	for _, id := range stale {
		m.mu.Lock()
		st := m.sessions[id]
		m.mu.Unlock()
		if st != nil {
			st.mu.Lock()
		}

		result := m.store.DB().
			Where("session_id = ? AND last_activity_at < ?", id, cutoff).
			Delete(&database.SessionState{})
		if result.Error != nil {
			if st != nil {
				st.mu.Unlock()
			}
			return removed, fmt.Errorf("failed to sweep session %s: %w", id, result.Error)
		}

		if result.RowsAffected > 0 {
			if st != nil {
				st.closed = true
			}
			m.mu.Lock()
			if st == nil || m.sessions[id] == st {
				delete(m.sessions, id)
			}
			m.mu.Unlock()
			removed++
		}
		if st != nil {
			st.mu.Unlock()
		}
	}
	return removed, nil
}

// Count returns the number of persisted sessions
func (m *Manager) Count() (int64, error) {
	var count int64
	err := m.store.DB().Model(&database.SessionState{}).Count(&count).Error
	return count, err
}
