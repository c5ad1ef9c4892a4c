// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"time"

	"gorm.io/gorm"
)

// MemoryRecord is the unit of stored knowledge. Records are never
// physically removed outside an explicit delete; archival flips
// IsArchived and tier transitions leave the row in place.
type MemoryRecord struct {
	ID          string `gorm:"primaryKey" json:"id"`
	ContentHash string `gorm:"index;not null" json:"content_hash"`
	Text        string `gorm:"type:text;not null" json:"text"`
	Summary     string `gorm:"type:text" json:"summary"`

	ImportanceTier string `gorm:"index;not null;default:normal" json:"importance_tier"`
	MemoryType     string `gorm:"index;not null;default:semantic" json:"memory_type"`

	Stability   float64 `gorm:"default:1.0" json:"stability"`
	Difficulty  float64 `gorm:"default:0.3" json:"difficulty"`
	ReviewCount int     `gorm:"default:0" json:"review_count"`
	AccessCount int     `gorm:"column:access_count;default:0" json:"access_count"`

	LastAccessedAt time.Time `gorm:"column:last_accessed_at" json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	IsArchived bool           `gorm:"index;default:false" json:"is_archived"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	ScopeTag string `gorm:"index" json:"scope_tag"`
	// Anchors is a JSON object of named [start,end) offsets into Text
	// enabling section-level retrieval.
	Anchors string `gorm:"type:text" json:"anchors,omitempty"`
}

// TableName specifies the table name for MemoryRecord
func (MemoryRecord) TableName() string {
	return "memory_records"
}

// CausalEdge is a typed, directed, weighted relationship between two
// memory records. Deleting an endpoint marks the edge orphaned rather
// than dropping it; traversal skips orphaned edges.
type CausalEdge struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SourceID  string    `gorm:"index;not null" json:"source_id"`
	TargetID  string    `gorm:"index;not null" json:"target_id"`
	Relation  string    `gorm:"not null" json:"relation"`
	Strength  float64   `gorm:"default:0.5" json:"strength"`
	Evidence  string    `gorm:"type:text" json:"evidence"`
	Orphaned  bool      `gorm:"index;default:false" json:"orphaned"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for CausalEdge
func (CausalEdge) TableName() string {
	return "causal_edges"
}

// SessionState is the persisted form of a per-session working memory.
// Activations and SentIDs are JSON. Dirty is set while an in-memory
// update has not been flushed; a Dirty row found at load time means the
// previous process crashed mid-turn.
type SessionState struct {
	SessionID      string    `gorm:"primaryKey" json:"session_id"`
	TurnNumber     int       `gorm:"default:0" json:"turn_number"`
	Activations    string    `gorm:"type:text" json:"activations"`
	SentIDs        string    `gorm:"type:text" json:"sent_ids"`
	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
	Dirty          bool      `gorm:"default:false" json:"dirty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for SessionState
func (SessionState) TableName() string {
	return "session_states"
}

// Checkpoint is an immutable named snapshot of the memory store and
// causal graph. The snapshot rows live in CheckpointRecord/CheckpointEdge.
type Checkpoint struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	ItemCount int       `json:"item_count"`
	EdgeCount int       `json:"edge_count"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for Checkpoint
func (Checkpoint) TableName() string {
	return "checkpoints"
}

// CheckpointRecord is one snapshotted memory record. Payload is the
// full JSON-serialized MemoryRecord; Vector is the embedding blob.
type CheckpointRecord struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	CheckpointID string `gorm:"index;not null" json:"checkpoint_id"`
	RecordID     string `gorm:"not null" json:"record_id"`
	Payload      []byte `gorm:"type:blob;not null" json:"-"`
	Vector       []byte `gorm:"type:blob" json:"-"`
}

// TableName specifies the table name for CheckpointRecord
func (CheckpointRecord) TableName() string {
	return "checkpoint_records"
}

// CheckpointEdge is one snapshotted causal edge (JSON payload).
type CheckpointEdge struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	CheckpointID string `gorm:"index;not null" json:"checkpoint_id"`
	Payload      []byte `gorm:"type:blob;not null" json:"-"`
}

// TableName specifies the table name for CheckpointEdge
func (CheckpointEdge) TableName() string {
	return "checkpoint_edges"
}

// LexicalDocument tracks the token length of an indexed record, needed
// for BM25 length normalization.
type LexicalDocument struct {
	RecordID string `gorm:"primaryKey" json:"record_id"`
	Length   int    `gorm:"not null" json:"length"`
}

// TableName specifies the table name for LexicalDocument
func (LexicalDocument) TableName() string {
	return "lexical_documents"
}

// LexicalPosting is one (term, record) entry of the inverted index.
type LexicalPosting struct {
	Term     string `gorm:"primaryKey" json:"term"`
	RecordID string `gorm:"primaryKey" json:"record_id"`
	TF       int    `gorm:"not null" json:"tf"`
}

// TableName specifies the table name for LexicalPosting
func (LexicalPosting) TableName() string {
	return "lexical_postings"
}

// Importance tier constants. The tier never changes except by explicit
// update; it drives the retrieval boost multiplier and decay exemption.
const (
	TierConstitutional = "constitutional"
	TierCritical       = "critical"
	TierImportant      = "important"
	TierNormal         = "normal"
	TierTemporary      = "temporary"
	TierDeprecated     = "deprecated"
)

// ValidImportanceTiers returns all valid importance tiers
func ValidImportanceTiers() []string {
	return []string{
		TierConstitutional,
		TierCritical,
		TierImportant,
		TierNormal,
		TierTemporary,
		TierDeprecated,
	}
}

// IsValidImportanceTier checks if an importance tier is valid
func IsValidImportanceTier(tier string) bool {
	for _, valid := range ValidImportanceTiers() {
		if tier == valid {
			return true
		}
	}
	return false
}

// Memory type constants. The type selects the half-life used by the
// decay engine.
const (
	TypeWorking                = "working"
	TypeEpisodic               = "episodic"
	TypeProcedural             = "procedural"
	TypeSemantic               = "semantic"
	TypeDeclarative            = "declarative"
	TypeContextual             = "contextual"
	TypeCausal                 = "causal"
	TypeConstitutionalCritical = "constitutional_critical"
)

// ValidMemoryTypes returns all valid memory types
func ValidMemoryTypes() []string {
	return []string{
		TypeWorking,
		TypeEpisodic,
		TypeProcedural,
		TypeSemantic,
		TypeDeclarative,
		TypeContextual,
		TypeCausal,
		TypeConstitutionalCritical,
	}
}

// IsValidMemoryType checks if a memory type is valid
func IsValidMemoryType(mType string) bool {
	for _, valid := range ValidMemoryTypes() {
		if mType == valid {
			return true
		}
	}
	return false
}

// Causal relation constants
const (
	RelationCaused      = "caused"
	RelationEnabled     = "enabled"
	RelationSupersedes  = "supersedes"
	RelationContradicts = "contradicts"
	RelationDerivedFrom = "derived_from"
	RelationSupports    = "supports"
)

// ValidRelations returns all valid causal relation types
func ValidRelations() []string {
	return []string{
		RelationCaused,
		RelationEnabled,
		RelationSupersedes,
		RelationContradicts,
		RelationDerivedFrom,
		RelationSupports,
	}
}

// IsValidRelation checks if a causal relation type is valid
func IsValidRelation(relation string) bool {
	for _, valid := range ValidRelations() {
		if relation == valid {
			return true
		}
	}
	return false
}
