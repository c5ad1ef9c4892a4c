// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewUpdateTool creates the engram_update tool definition
func NewUpdateTool() mcp.Tool {
	return mcp.NewTool("engram_update",
		mcp.WithDescription("Update a memory's text or metadata. Text changes re-index and re-embed the memory."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory id"),
		),
		mcp.WithString("text",
			mcp.Description("Replacement content"),
		),
		mcp.WithString("summary",
			mcp.Description("Replacement summary"),
		),
		mcp.WithString("importance_tier",
			mcp.Description("New importance tier"),
		),
		mcp.WithString("memory_type",
			mcp.Description("New memory type"),
		),
		mcp.WithString("scope",
			mcp.Description("New scope tag"),
		),
		mcp.WithString("anchors",
			mcp.Description("Replacement anchors JSON"),
		),
	)
}

// UpdateHandler handles the engram_update tool
func UpdateHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil || id == "" {
			return failure(CodeInvalidArgument, "id is required"), nil
		}

		patch := memory.Patch{}
		textChanged := false
		if v := request.GetString("text", ""); v != "" {
			patch.Text = &v
			textChanged = true
		}
		if v, ok := stringArg(request, "summary"); ok {
			patch.Summary = &v
		}
		if v := request.GetString("importance_tier", ""); v != "" {
			patch.ImportanceTier = &v
		}
		if v := request.GetString("memory_type", ""); v != "" {
			patch.MemoryType = &v
		}
		if v, ok := stringArg(request, "scope"); ok {
			patch.ScopeTag = &v
		}
		if v, ok := stringArg(request, "anchors"); ok {
			patch.Anchors = &v
		}

		rec, err := tc.Store.UpdateMetadata(id, patch)
		if err != nil {
			switch {
			case errors.Is(err, memory.ErrNotFound):
				return failure(CodeMemoryNotFound, fmt.Sprintf("memory not found: %s", id)), nil
			case strings.Contains(err.Error(), "importance tier"):
				return failure(CodeInvalidTier, err.Error()), nil
			case strings.Contains(err.Error(), "memory type"):
				return failure(CodeInvalidType, err.Error()), nil
			case strings.Contains(err.Error(), "anchor"):
				return failure(CodeInvalidAnchors, err.Error()), nil
			default:
				return failure(CodeStorageFailure, fmt.Sprintf("update failed: %v", err)), nil
			}
		}

		env := &Envelope{
			Summary: fmt.Sprintf("Updated memory %s.", rec.ID),
			Data:    map[string]interface{}{"id": rec.ID},
		}

		if textChanged && tc.Chain != nil {
			vector, err := tc.Chain.Embed(c, rec.Text)
			if err != nil {
				if errors.Is(err, embeddings.ErrUnavailable) {
					env.Meta = map[string]interface{}{"degraded": true}
					env.Hints = map[string]string{CodeEmbeddingUnavailable: hints[CodeEmbeddingUnavailable]}
				} else {
					log.Printf("failed to re-embed %s: %v", rec.ID, err)
				}
			} else if err := tc.Store.Put(rec, vector); err != nil {
				return failure(CodeStorageFailure, fmt.Sprintf("failed to store new vector: %v", err)), nil
			}
		}

		return respond(env), nil
	}
}

// stringArg reads an optional string argument, distinguishing "absent"
// from "present but empty" so callers can clear fields.
func stringArg(request mcp.CallToolRequest, name string) (string, bool) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", false
	}
	raw, ok := args[name]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}
