// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/engramlabs/engram-mcp/internal/decay"
	"github.com/engramlabs/engram-mcp/internal/search"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewListTool creates the engram_list tool definition
func NewListTool() mcp.Tool {
	return mcp.NewTool("engram_list",
		mcp.WithDescription("List stored memories, newest first, with their current retention tier."),
		mcp.WithString("scope",
			mcp.Description("Restrict to one scope tag"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries (default 50)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Pagination offset"),
		),
	)
}

// listEntry is one row of the listing
type listEntry struct {
	ID             string  `json:"id"`
	Summary        string  `json:"summary"`
	ImportanceTier string  `json:"importance_tier"`
	MemoryType     string  `json:"memory_type"`
	Scope          string  `json:"scope,omitempty"`
	Score          float64 `json:"score"`
	Tier           string  `json:"tier"`
	Archived       bool    `json:"archived,omitempty"`
}

// ListHandler handles the engram_list tool
func ListHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scope := request.GetString("scope", "")
		limit := request.GetInt("limit", 50)
		offset := request.GetInt("offset", 0)

		records, err := tc.Store.Scan(scope, limit, offset)
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("failed to list memories: %v", err)), nil
		}

		now := time.Now()
		entries := make([]listEntry, 0, len(records))
		for i := range records {
			rec := &records[i]
			score := decay.CompositeScore(rec, now, decay.ScoreInputs{})
			entries = append(entries, listEntry{
				ID:             rec.ID,
				Summary:        search.Summarize(rec),
				ImportanceTier: rec.ImportanceTier,
				MemoryType:     rec.MemoryType,
				Scope:          rec.ScopeTag,
				Score:          score,
				Tier:           decay.ClassifyTier(score),
				Archived:       rec.IsArchived,
			})
		}

		return success(
			fmt.Sprintf("Listed %d memories.", len(entries)),
			map[string]interface{}{"memories": entries, "offset": offset},
		), nil
	}
}
