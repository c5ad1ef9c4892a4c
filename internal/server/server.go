// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package server assembles the MCP server: it registers every tool
// against one shared ToolContext and serves over stdio or HTTP.
package server

import (
	"fmt"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/engramlabs/engram-mcp/internal/tools"
)

// MCPServer wraps the mcp-go server with the tool context
type MCPServer struct {
	mcpServer *mcpserver.MCPServer
	toolCtx   *tools.ToolContext
}

// NewMCPServer creates the server and registers all tools
func NewMCPServer(version string, toolCtx *tools.ToolContext) *MCPServer {
	mcpServer := mcpserver.NewMCPServer(
		"Engram",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	srv := &MCPServer{mcpServer: mcpServer, toolCtx: toolCtx}
	srv.registerTools()
	return srv
}

func (s *MCPServer) registerTools() {
	tc := s.toolCtx

	// Memory lifecycle
	s.mcpServer.AddTool(tools.NewSaveTool(), tools.SaveHandler(tc))
	s.mcpServer.AddTool(tools.NewSearchTool(), tools.SearchHandler(tc))
	s.mcpServer.AddTool(tools.NewListTool(), tools.ListHandler(tc))
	s.mcpServer.AddTool(tools.NewUpdateTool(), tools.UpdateHandler(tc))
	s.mcpServer.AddTool(tools.NewDeleteTool(), tools.DeleteHandler(tc))

	// Diagnostics
	s.mcpServer.AddTool(tools.NewStatsTool(), tools.StatsHandler(tc))
	s.mcpServer.AddTool(tools.NewValidateTool(), tools.ValidateHandler(tc))
	s.mcpServer.AddTool(tools.NewIndexScanTool(), tools.IndexScanHandler(tc))
	s.mcpServer.AddTool(tools.NewHealthTool(), tools.HealthHandler(tc))

	// Checkpoints
	s.mcpServer.AddTool(tools.NewCheckpointCreateTool(), tools.CheckpointCreateHandler(tc))
	s.mcpServer.AddTool(tools.NewCheckpointListTool(), tools.CheckpointListHandler(tc))
	s.mcpServer.AddTool(tools.NewCheckpointRestoreTool(), tools.CheckpointRestoreHandler(tc))
	s.mcpServer.AddTool(tools.NewCheckpointDeleteTool(), tools.CheckpointDeleteHandler(tc))

	// Causal graph
	s.mcpServer.AddTool(tools.NewCausalLinkTool(), tools.CausalLinkHandler(tc))
	s.mcpServer.AddTool(tools.NewCausalUnlinkTool(), tools.CausalUnlinkHandler(tc))
	s.mcpServer.AddTool(tools.NewCausalStatsTool(), tools.CausalStatsHandler(tc))
	s.mcpServer.AddTool(tools.NewCausalWhyTool(), tools.CausalWhyHandler(tc))

	// Session working memory
	s.mcpServer.AddTool(tools.NewSessionTickTool(), tools.SessionTickHandler(tc))
}

// ServeStdio runs the server over stdio. stdout carries only JSON-RPC;
// all logging goes to stderr.
func (s *MCPServer) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

// ServeHTTP runs the server over streamable HTTP with a plain
// liveness endpoint alongside the MCP one.
func (s *MCPServer) ServeHTTP(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(s.mcpServer))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	return http.ListenAndServe(addr, mux)
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
