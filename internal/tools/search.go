// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/engramlabs/engram-mcp/internal/search"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewSearchTool creates the engram_search tool definition
func NewSearchTool() mcp.Tool {
	return mcp.NewTool("engram_search",
		mcp.WithDescription("Hybrid search over stored memories: vector similarity, keyword match and causal neighborhood, fused and weighted by retention. Constitutional memories always lead the results."),
		mcp.WithString("query",
			mcp.Description("Free-text query"),
		),
		mcp.WithArray("concepts",
			mcp.Description("Concept terms used instead of (or alongside) the query"),
		),
		mcp.WithString("scope",
			mcp.Description("Restrict results to one scope tag"),
		),
		mcp.WithString("anchor",
			mcp.Description("Return only memories exposing this named anchor, sliced to the anchored section"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default and cap: 10)"),
		),
		mcp.WithBoolean("rerank",
			mcp.Description("Run the cross-encoder rerank pass over the top candidates"),
		),
		mcp.WithBoolean("include_constitutional",
			mcp.Description("Prepend constitutional memories regardless of scope (default true)"),
		),
	)
}

// SearchHandler handles the engram_search tool
func SearchHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := request.GetString("query", "")
		concepts := request.GetStringSlice("concepts", []string{})
		if query == "" && len(concepts) == 0 {
			return failure(CodeQueryRequired, "a query or concepts are required"), nil
		}

		opts := search.Options{
			Query:                 query,
			Concepts:              concepts,
			Scope:                 request.GetString("scope", ""),
			Anchor:                request.GetString("anchor", ""),
			Limit:                 request.GetInt("limit", 0),
			IncludeConstitutional: request.GetBool("include_constitutional", true),
			Rerank:                request.GetBool("rerank", false),
		}

		results, err := tc.Engine.Search(c, opts)
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("search failed: %v", err)), nil
		}

		env := &Envelope{
			Summary: fmt.Sprintf("Found %d memories.", len(results)),
			Data:    map[string]interface{}{"results": results},
		}
		if tc.Degraded() {
			env.Summary = fmt.Sprintf("Found %d memories (lexical-only; no embedding provider reachable).", len(results))
			env.Meta = map[string]interface{}{"degraded": true}
			env.Hints = map[string]string{CodeEmbeddingUnavailable: hints[CodeEmbeddingUnavailable]}
		}
		return respond(env), nil
	}
}
