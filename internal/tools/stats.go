// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewStatsTool creates the engram_stats tool definition
func NewStatsTool() mcp.Tool {
	return mcp.NewTool("engram_stats",
		mcp.WithDescription("Store, graph and session statistics for this embedding profile."),
	)
}

// StatsHandler handles the engram_stats tool
func StatsHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		storeStats, err := tc.Store.ComputeStats()
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("failed to compute store stats: %v", err)), nil
		}
		graphStats, err := tc.Graph.ComputeStats()
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("failed to compute graph stats: %v", err)), nil
		}
		sessions, err := tc.Sessions.Count()
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("failed to count sessions: %v", err)), nil
		}
		checkpoints, err := tc.Checkpoints.List()
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("failed to list checkpoints: %v", err)), nil
		}

		profile := tc.Store.Embeddings().Profile()
		data := map[string]interface{}{
			"store":       storeStats,
			"graph":       graphStats,
			"sessions":    sessions,
			"checkpoints": len(checkpoints),
			"profile": map[string]interface{}{
				"provider":   profile.Provider,
				"model":      profile.Name,
				"dimensions": profile.Dimensions,
			},
		}

		meta := map[string]interface{}{}
		if tc.Degraded() {
			meta["degraded"] = true
		}

		return successMeta(
			fmt.Sprintf("%d memories, %d edges, %d sessions, %d checkpoints.",
				storeStats.Records, graphStats.Edges, sessions, len(checkpoints)),
			data, meta,
		), nil
	}
}
