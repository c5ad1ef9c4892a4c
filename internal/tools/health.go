// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewHealthTool creates the engram_health tool definition
func NewHealthTool() mcp.Tool {
	return mcp.NewTool("engram_health",
		mcp.WithDescription("Liveness of the store and the embedding provider chain."),
	)
}

// HealthHandler handles the engram_health tool
func HealthHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data := map[string]interface{}{
			"uptime_seconds": int(time.Since(tc.StartedAt).Seconds()),
		}

		dbHealthy := database.Ping(tc.Store.DB()) == nil
		data["database"] = dbHealthy

		providerHealthy := false
		if tc.Chain != nil {
			providerHealthy = tc.Chain.Healthy(c) == nil
		}
		data["embedding_provider"] = providerHealthy

		env := &Envelope{Data: data}
		switch {
		case !dbHealthy:
			env.Summary = "Store database is unreachable."
			env.Hints = map[string]string{CodeStorageFailure: hints[CodeStorageFailure]}
			env.Meta = map[string]interface{}{"error_code": CodeStorageFailure}
		case !providerHealthy:
			env.Summary = "Store healthy; embedding provider unreachable (lexical-only mode)."
			env.Meta = map[string]interface{}{"degraded": true}
			env.Hints = map[string]string{CodeEmbeddingUnavailable: hints[CodeEmbeddingUnavailable]}
		default:
			env.Summary = "Healthy."
		}
		return respond(env), nil
	}
}
