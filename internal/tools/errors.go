// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import "github.com/mark3labs/mcp-go/mcp"

// Stable error codes. Codes never change meaning across releases;
// clients key recovery behavior off them.
const (
	CodeQueryRequired        = "query_required"
	CodeTextRequired         = "text_required"
	CodeInvalidArgument      = "invalid_argument"
	CodeInvalidTier          = "invalid_tier"
	CodeInvalidType          = "invalid_type"
	CodeInvalidRelation      = "invalid_relation"
	CodeInvalidAnchors       = "invalid_anchors"
	CodeMemoryNotFound       = "memory_not_found"
	CodeSessionNotFound      = "session_not_found"
	CodeCheckpointNotFound   = "checkpoint_not_found"
	CodeCheckpointNameTaken  = "checkpoint_name_taken"
	CodeEdgeNotFound         = "edge_not_found"
	CodeDuplicateMemory      = "duplicate_memory"
	CodeHighMatchPending     = "high_match_pending"
	CodeDimensionMismatch    = "dimension_mismatch"
	CodeEmbeddingUnavailable = "embedding_unavailable"
	CodeVectorIndexCorrupted = "vector_index_corrupted"
	CodeStorageFailure       = "storage_failure"
)

// hints maps every error code to one recovery hint
var hints = map[string]string{
	CodeQueryRequired:        "Provide a 'query' string or a non-empty 'concepts' array.",
	CodeTextRequired:         "Provide a non-empty 'text' for the memory.",
	CodeInvalidArgument:      "Check the parameter types and values against the tool description.",
	CodeInvalidTier:          "Valid tiers: constitutional, critical, important, normal, temporary, deprecated.",
	CodeInvalidType:          "Valid types: working, episodic, procedural, semantic, declarative, contextual, causal, constitutional_critical.",
	CodeInvalidRelation:      "Valid relations: caused, enabled, supersedes, contradicts, derived_from, supports.",
	CodeInvalidAnchors:       "Anchors must be a JSON object of {name: {start, end}} with 0 <= start < end <= len(text).",
	CodeMemoryNotFound:       "The memory id does not exist or was deleted. Use engram_list or engram_search to find live ids.",
	CodeSessionNotFound:      "The session does not exist or was swept after being idle. Start a new session with engram_session_tick.",
	CodeCheckpointNotFound:   "No checkpoint has that name. Use engram_checkpoint_list to see available checkpoints.",
	CodeCheckpointNameTaken:  "A checkpoint with that name already exists. Pick a new name or delete the old one first.",
	CodeEdgeNotFound:         "No causal edge connects those two memories in that direction.",
	CodeDuplicateMemory:      "This content is already stored; the existing memory was touched instead. Use engram_update to change it.",
	CodeHighMatchPending:     "A very similar memory exists. Re-run with confirm=true to store anyway, or supersedes=<match_id> to replace it.",
	CodeDimensionMismatch:    "The vector length does not match this store's embedding profile. Use the provider the store was created with.",
	CodeEmbeddingUnavailable: "No embedding provider is reachable; operating lexical-only. Vector search resumes when a provider recovers.",
	CodeVectorIndexCorrupted: "Derived indexes disagree with the stored rows. Run engram_index_scan to rebuild them.",
	CodeStorageFailure:       "The storage transaction failed and was rolled back. Check the server log and retry.",
}

// failure builds an error envelope carrying the code, its hint and a
// human-readable detail line.
func failure(code, detail string) *mcp.CallToolResult {
	return respond(&Envelope{
		Summary: detail,
		Hints:   map[string]string{code: hints[code]},
		Meta:    map[string]interface{}{"error_code": code},
	})
}

// HintFor exposes the catalog for tests and for handlers that attach
// hints to otherwise successful envelopes.
func HintFor(code string) string {
	return hints[code]
}
