// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"
	"log"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/gate"
	"github.com/engramlabs/engram-mcp/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewSaveTool creates the engram_save tool definition
func NewSaveTool() mcp.Tool {
	return mcp.NewTool("engram_save",
		mcp.WithDescription("Store a memory. Every save passes the prediction-error gate: near-duplicates are rejected or held for confirmation with the matched memory's id."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The content to remember"),
		),
		mcp.WithString("summary",
			mcp.Description("Short summary returned for medium-retention results"),
		),
		mcp.WithString("scope",
			mcp.Description("Scope tag, e.g. a project or repository name"),
		),
		mcp.WithString("importance_tier",
			mcp.Description("constitutional|critical|important|normal|temporary|deprecated (default normal)"),
		),
		mcp.WithString("memory_type",
			mcp.Description("working|episodic|procedural|semantic|declarative|contextual|causal|constitutional_critical (default semantic)"),
		),
		mcp.WithString("anchors",
			mcp.Description("JSON object of named {start,end} byte ranges into text for section-level retrieval"),
		),
		mcp.WithBoolean("confirm",
			mcp.Description("Store even when a high-similarity match exists"),
		),
		mcp.WithString("supersedes",
			mcp.Description("Id of the memory this one replaces; creates a supersedes edge and archives the old memory"),
		),
	)
}

// SaveHandler handles the engram_save tool
func SaveHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := request.RequireString("text")
		if err != nil || text == "" {
			return failure(CodeTextRequired, "text is required"), nil
		}

		summary := request.GetString("summary", "")
		scope := request.GetString("scope", "")
		tier := request.GetString("importance_tier", database.TierNormal)
		memType := request.GetString("memory_type", database.TypeSemantic)
		anchors := request.GetString("anchors", "")
		confirm := request.GetBool("confirm", false)
		supersedes := request.GetString("supersedes", "")

		if !database.IsValidImportanceTier(tier) {
			return failure(CodeInvalidTier, fmt.Sprintf("invalid importance tier: %s", tier)), nil
		}
		if !database.IsValidMemoryType(memType) {
			return failure(CodeInvalidType, fmt.Sprintf("invalid memory type: %s", memType)), nil
		}
		if anchors != "" {
			if err := memory.ValidateAnchors(anchors, text); err != nil {
				return failure(CodeInvalidAnchors, err.Error()), nil
			}
		}

		decision, err := tc.Gate.Evaluate(c, text, scope)
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("gate evaluation failed: %v", err)), nil
		}
		if decision.Outcome != gate.OutcomeNew {
			log.Printf("write gate: %s (match=%s similarity=%.3f)",
				decision.Outcome, decision.MatchID, decision.Similarity)
		}

		switch decision.Outcome {
		case gate.OutcomeDuplicate:
			// The knowledge is confirmed rather than re-stored.
			if err := tc.Store.Touch(decision.MatchID); err != nil {
				log.Printf("failed to touch duplicate %s: %v", decision.MatchID, err)
			}
			return respond(&Envelope{
				Summary: fmt.Sprintf("Already stored as %s; the existing memory was reinforced instead.", decision.MatchID),
				Data: map[string]interface{}{
					"outcome":    decision.Outcome,
					"match_id":   decision.MatchID,
					"similarity": decision.Similarity,
				},
				Hints: map[string]string{CodeDuplicateMemory: hints[CodeDuplicateMemory]},
				Meta:  map[string]interface{}{"error_code": CodeDuplicateMemory},
			}), nil

		case gate.OutcomeHighMatch:
			if !confirm && supersedes == "" {
				return respond(&Envelope{
					Summary: fmt.Sprintf("Very similar to %s (%.2f); not stored.", decision.MatchID, decision.Similarity),
					Data: map[string]interface{}{
						"outcome":    decision.Outcome,
						"match_id":   decision.MatchID,
						"similarity": decision.Similarity,
					},
					Hints: map[string]string{CodeHighMatchPending: hints[CodeHighMatchPending]},
					Meta:  map[string]interface{}{"error_code": CodeHighMatchPending},
				}), nil
			}
		}

		rec := &database.MemoryRecord{
			ID:             tc.Store.NewID(),
			Text:           text,
			Summary:        summary,
			ImportanceTier: tier,
			MemoryType:     memType,
			ScopeTag:       scope,
			Anchors:        anchors,
		}
		if err := tc.Store.Put(rec, decision.Vector); err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("failed to store memory: %v", err)), nil
		}

		env := &Envelope{
			Summary: fmt.Sprintf("Stored memory %s (%s).", rec.ID, decision.Outcome),
			Data: map[string]interface{}{
				"id":      rec.ID,
				"outcome": decision.Outcome,
			},
		}
		if decision.MatchID != "" {
			env.Data.(map[string]interface{})["match_id"] = decision.MatchID
			env.Data.(map[string]interface{})["similarity"] = decision.Similarity
		}
		if decision.Degraded {
			env.Meta = map[string]interface{}{"degraded": true}
			env.Hints = map[string]string{CodeEmbeddingUnavailable: hints[CodeEmbeddingUnavailable]}
		}

		if supersedes != "" {
			if err := supersede(tc, rec.ID, supersedes); err != nil {
				env.Summary += fmt.Sprintf(" Warning: failed to supersede %s: %v.", supersedes, err)
			} else {
				env.Data.(map[string]interface{})["supersedes"] = supersedes
			}
		}

		return respond(env), nil
	}
}

// supersede links the new memory over the old one and archives the old
func supersede(tc *ToolContext, newID, oldID string) error {
	if _, err := tc.Graph.Link(newID, oldID, database.RelationSupersedes, 1.0, ""); err != nil {
		return err
	}
	return tc.Store.Archive(oldID)
}
