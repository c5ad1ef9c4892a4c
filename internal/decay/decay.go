// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package decay implements the FSRS-style retrievability model, the
// composite relevance score and the retention tier classification.
// Everything here is a pure function of stored fields plus the clock.
package decay

import (
	"math"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
)

// Retention tiers derived from the composite score. ARCHIVED memories
// stay in the store but are excluded from search output.
const (
	TierHot      = "HOT"
	TierWarm     = "WARM"
	TierCold     = "COLD"
	TierDormant  = "DORMANT"
	TierArchived = "ARCHIVED"
)

// Classification thresholds on the composite score
const (
	hotThreshold     = 0.80
	warmThreshold    = 0.25
	coldThreshold    = 0.05
	dormantThreshold = 0.02
)

// minStability is substituted when a record carries a degenerate
// stability so retrievability stays defined.
const minStability = 0.1

// halfLifeDays maps each memory type to the half-life (days) that
// serves as the natural time unit of its decay curve.
var halfLifeDays = map[string]float64{
	database.TypeWorking:     1,
	database.TypeEpisodic:    14,
	database.TypeContextual:  30,
	database.TypeCausal:      45,
	database.TypeDeclarative: 60,
	database.TypeSemantic:    60,
	database.TypeProcedural:  90,
	// constitutional_critical never decays; handled by IsExempt
}

// tierBoost maps importance tiers to retrieval boost multipliers
var tierBoost = map[string]float64{
	database.TierConstitutional: 3.0,
	database.TierCritical:       2.0,
	database.TierImportant:      1.5,
	database.TierNormal:         1.0,
	database.TierTemporary:      0.5,
	database.TierDeprecated:     0.0,
}

// HalfLifeDays returns the half-life for a memory type. Unknown types
// fall back to the semantic half-life.
func HalfLifeDays(memoryType string) float64 {
	if hl, ok := halfLifeDays[memoryType]; ok {
		return hl
	}
	return halfLifeDays[database.TypeSemantic]
}

// TierBoost returns the retrieval boost multiplier for an importance tier
func TierBoost(tier string) float64 {
	if b, ok := tierBoost[tier]; ok {
		return b
	}
	return 1.0
}

// IsExempt reports whether an importance tier is exempt from time-based
// decay. Only normal and temporary memories decay.
func IsExempt(tier string) bool {
	switch tier {
	case database.TierConstitutional, database.TierCritical,
		database.TierImportant, database.TierDeprecated:
		return true
	}
	return false
}

// Retrievability computes (1 + 0.235*t/S)^-0.5 where t is elapsed time
// in the memory type's natural unit and S is the stability. It is 1.0
// at t=0 and non-increasing in t.
func Retrievability(t, stability float64) float64 {
	if t <= 0 {
		return 1.0
	}
	if stability < minStability {
		stability = minStability
	}
	return math.Pow(1+0.235*t/stability, -0.5)
}

// RetrievabilityAt computes the retrievability of a record at the given
// instant, honoring decay exemption and the type-specific time unit.
func RetrievabilityAt(rec *database.MemoryRecord, now time.Time) float64 {
	if IsExempt(rec.ImportanceTier) {
		return 1.0
	}
	if rec.MemoryType == database.TypeConstitutionalCritical {
		return 1.0
	}

	anchor := rec.LastAccessedAt
	if anchor.IsZero() {
		anchor = rec.CreatedAt
	}
	elapsedDays := now.Sub(anchor).Hours() / 24
	if elapsedDays < 0 {
		elapsedDays = 0
	}

	t := elapsedDays / HalfLifeDays(rec.MemoryType)
	return Retrievability(t, rec.Stability)
}

// usageBoostCap bounds the access-count multiplier
const usageBoostCap = 1.5

// UsageBoost rewards frequently accessed memories, log-scaled and
// capped at 1.5.
func UsageBoost(accessCount int) float64 {
	if accessCount <= 0 {
		return 1.0
	}
	boost := 1.0 + 0.15*math.Log1p(float64(accessCount))
	if boost > usageBoostCap {
		return usageBoostCap
	}
	return boost
}

// ScoreInputs carries the per-query context for composite scoring
type ScoreInputs struct {
	PatternAligned bool // record matches the current task context
	CitedRecently  bool // record was cited within the recency window
}

// CitationRecencyWindow is the window within which a prior access
// earns the citation-recency factor.
const CitationRecencyWindow = 24 * time.Hour

// CompositeScore fuses retrievability with the usage, tier, pattern
// alignment and citation recency factors. Factors are multiplicative
// and individually clamped so no factor can go negative or run away.
func CompositeScore(rec *database.MemoryRecord, now time.Time, in ScoreInputs) float64 {
	score := RetrievabilityAt(rec, now)
	score *= UsageBoost(rec.AccessCount)
	score *= clamp(TierBoost(rec.ImportanceTier), 0, 3.0)

	if in.PatternAligned {
		score *= 1.20
	}
	if in.CitedRecently {
		score *= 1.10
	}

	if score < 0 {
		return 0
	}
	return score
}

// ClassifyTier maps a composite score to a retention tier
func ClassifyTier(score float64) string {
	switch {
	case score >= hotThreshold:
		return TierHot
	case score >= warmThreshold:
		return TierWarm
	case score >= coldThreshold:
		return TierCold
	case score >= dormantThreshold:
		return TierDormant
	default:
		return TierArchived
	}
}

// TestingEffect returns the post-access stability: retrieval
// strengthens retention with a small positive bump that diminishes as
// the review count grows.
func TestingEffect(stability float64, reviewCount int) float64 {
	if stability < minStability {
		stability = minStability
	}
	bump := 0.1 * stability / (1 + 0.2*float64(reviewCount))
	if bump < 0.05 {
		bump = 0.05
	}
	return stability + bump
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
