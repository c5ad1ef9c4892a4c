// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewCausalLinkTool creates the engram_causal_link tool definition
func NewCausalLinkTool() mcp.Tool {
	return mcp.NewTool("engram_causal_link",
		mcp.WithDescription("Create a typed, weighted causal edge between two memories."),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Cause-side memory id"),
		),
		mcp.WithString("target_id",
			mcp.Required(),
			mcp.Description("Effect-side memory id"),
		),
		mcp.WithString("relation",
			mcp.Required(),
			mcp.Description("caused|enabled|supersedes|contradicts|derived_from|supports"),
		),
		mcp.WithNumber("strength",
			mcp.Description("Edge weight in [0,1] (default 0.5)"),
		),
		mcp.WithString("evidence",
			mcp.Description("Free-text justification for the edge"),
		),
	)
}

// CausalLinkHandler handles the engram_causal_link tool
func CausalLinkHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sourceID, err := request.RequireString("source_id")
		if err != nil || sourceID == "" {
			return failure(CodeInvalidArgument, "source_id is required"), nil
		}
		targetID, err := request.RequireString("target_id")
		if err != nil || targetID == "" {
			return failure(CodeInvalidArgument, "target_id is required"), nil
		}
		relation, err := request.RequireString("relation")
		if err != nil || relation == "" {
			return failure(CodeInvalidArgument, "relation is required"), nil
		}
		strength := request.GetFloat("strength", 0.5)
		evidence := request.GetString("evidence", "")

		edge, err := tc.Graph.Link(sourceID, targetID, relation, strength, evidence)
		if err != nil {
			switch {
			case strings.Contains(err.Error(), "invalid relation"):
				return failure(CodeInvalidRelation, err.Error()), nil
			case strings.Contains(err.Error(), "not found"):
				return failure(CodeMemoryNotFound, err.Error()), nil
			case strings.Contains(err.Error(), "strength"), strings.Contains(err.Error(), "itself"):
				return failure(CodeInvalidArgument, err.Error()), nil
			default:
				return failure(CodeStorageFailure, fmt.Sprintf("link failed: %v", err)), nil
			}
		}

		return success(
			fmt.Sprintf("Linked %s -[%s %.2f]-> %s.", sourceID, relation, strength, targetID),
			edge,
		), nil
	}
}

// NewCausalUnlinkTool creates the engram_causal_unlink tool definition
func NewCausalUnlinkTool() mcp.Tool {
	return mcp.NewTool("engram_causal_unlink",
		mcp.WithDescription("Remove the causal edge(s) between two memories."),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Cause-side memory id"),
		),
		mcp.WithString("target_id",
			mcp.Required(),
			mcp.Description("Effect-side memory id"),
		),
	)
}

// CausalUnlinkHandler handles the engram_causal_unlink tool
func CausalUnlinkHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sourceID, err := request.RequireString("source_id")
		if err != nil || sourceID == "" {
			return failure(CodeInvalidArgument, "source_id is required"), nil
		}
		targetID, err := request.RequireString("target_id")
		if err != nil || targetID == "" {
			return failure(CodeInvalidArgument, "target_id is required"), nil
		}

		if err := tc.Graph.Unlink(sourceID, targetID); err != nil {
			if strings.Contains(err.Error(), "not found") {
				return failure(CodeEdgeNotFound,
					fmt.Sprintf("no edge from %s to %s", sourceID, targetID)), nil
			}
			return failure(CodeStorageFailure, fmt.Sprintf("unlink failed: %v", err)), nil
		}

		return success(
			fmt.Sprintf("Unlinked %s from %s.", sourceID, targetID),
			map[string]interface{}{"source_id": sourceID, "target_id": targetID},
		), nil
	}
}

// NewCausalStatsTool creates the engram_causal_stats tool definition
func NewCausalStatsTool() mcp.Tool {
	return mcp.NewTool("engram_causal_stats",
		mcp.WithDescription("Causal graph statistics: edge counts by relation and orphan count."),
	)
}

// CausalStatsHandler handles the engram_causal_stats tool
func CausalStatsHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := tc.Graph.ComputeStats()
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("failed to compute graph stats: %v", err)), nil
		}
		return success(
			fmt.Sprintf("%d edges (%d orphaned).", stats.Edges, stats.Orphaned),
			stats,
		), nil
	}
}

// NewCausalWhyTool creates the engram_causal_why tool definition
func NewCausalWhyTool() mcp.Tool {
	return mcp.NewTool("engram_causal_why",
		mcp.WithDescription("Explain why a memory exists: the chain of caused/enabled/derived_from edges leading to it, strongest first, bounded depth."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory id to explain"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Traversal depth bound (default and cap: 10)"),
		),
	)
}

// CausalWhyHandler handles the engram_causal_why tool
func CausalWhyHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil || id == "" {
			return failure(CodeInvalidArgument, "id is required"), nil
		}
		if _, err := tc.Store.Get(id); err != nil {
			return failure(CodeMemoryNotFound, fmt.Sprintf("memory not found: %s", id)), nil
		}

		maxDepth := request.GetInt("max_depth", 0)
		chain, err := tc.Graph.Why(id, maxDepth)
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("lineage query failed: %v", err)), nil
		}

		return success(
			fmt.Sprintf("%d lineage steps behind %s.", len(chain), id),
			map[string]interface{}{"id": id, "chain": chain},
		), nil
	}
}
