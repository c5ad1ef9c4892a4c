// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tools defines the MCP tool surface. Every handler returns
// one JSON response envelope; domain outcomes (conflicts, not-found,
// degraded mode) travel inside the envelope with a stable error code,
// never as protocol errors.
package tools

import (
	"encoding/json"
	"time"

	"github.com/engramlabs/engram-mcp/internal/archive"
	"github.com/engramlabs/engram-mcp/internal/checkpoint"
	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/gate"
	"github.com/engramlabs/engram-mcp/internal/graph"
	"github.com/engramlabs/engram-mcp/internal/memory"
	"github.com/engramlabs/engram-mcp/internal/rebuild"
	"github.com/engramlabs/engram-mcp/internal/search"
	"github.com/engramlabs/engram-mcp/internal/session"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolContext holds the shared dependencies for all tool handlers,
// all bound to one embedding-profile store.
type ToolContext struct {
	Store       *memory.Store
	Graph       *graph.Manager
	Chain       *embeddings.Chain
	Engine      *search.Engine
	Gate        *gate.Gate
	Sessions    *session.Manager
	Checkpoints *checkpoint.Manager
	Scanner     *rebuild.Scanner

	// Archive is the optional markdown mirror; nil disables it
	Archive *archive.Archive

	StartedAt time.Time
}

// Degraded reports whether the context is running lexical-only
func (tc *ToolContext) Degraded() bool {
	return tc.Chain == nil || tc.Chain.IsDegraded()
}

// Envelope is the uniform tool response: a one-line human summary, the
// structured payload, recovery hints keyed by error code, and metadata
// (degraded mode, error code, timings).
type Envelope struct {
	Summary string                 `json:"summary"`
	Data    interface{}            `json:"data,omitempty"`
	Hints   map[string]string      `json:"hints,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// respond serializes an envelope into a tool result
func respond(env *Envelope) *mcp.CallToolResult {
	data, err := json.Marshal(env)
	if err != nil {
		return mcp.NewToolResultError("failed to encode response: " + err.Error())
	}
	return mcp.NewToolResultText(string(data))
}

// success builds a plain successful envelope
func success(summary string, data interface{}) *mcp.CallToolResult {
	return respond(&Envelope{Summary: summary, Data: data})
}

// successMeta builds a successful envelope with metadata attached
func successMeta(summary string, data interface{}, meta map[string]interface{}) *mcp.CallToolResult {
	return respond(&Envelope{Summary: summary, Data: data, Meta: meta})
}
