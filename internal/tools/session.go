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

// NewSessionTickTool creates the engram_session_tick tool definition
func NewSessionTickTool() mcp.Tool {
	return mcp.NewTool("engram_session_tick",
		mcp.WithDescription("Advance a session's working memory one turn: existing activations decay, memories matching the turn context activate fully and spread to their causal neighbors. Content already sent this session is referenced by id only. Pass close=true to end the session."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Stable session identifier"),
		),
		mcp.WithString("context",
			mcp.Description("The turn's context text used to trigger activations"),
		),
		mcp.WithBoolean("close",
			mcp.Description("End the session and discard its working memory"),
		),
	)
}

// SessionTickHandler handles the engram_session_tick tool
func SessionTickHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil || sessionID == "" {
			return failure(CodeInvalidArgument, "session_id is required"), nil
		}

		if request.GetBool("close", false) {
			if err := tc.Sessions.Close(sessionID); err != nil {
				if strings.Contains(err.Error(), "not found") {
					return failure(CodeSessionNotFound, fmt.Sprintf("session not found: %s", sessionID)), nil
				}
				return failure(CodeStorageFailure, fmt.Sprintf("failed to close session: %v", err)), nil
			}
			return success(
				fmt.Sprintf("Closed session %s.", sessionID),
				map[string]interface{}{"session_id": sessionID, "closed": true},
			), nil
		}

		result, err := tc.Sessions.Tick(sessionID, request.GetString("context", ""))
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("session turn failed: %v", err)), nil
		}

		env := &Envelope{
			Summary: fmt.Sprintf("Turn %d: %d memories active.", result.TurnNumber, len(result.Active)),
			Data:    result,
		}
		if result.Recovered {
			env.Summary += " Session state recovered from a previous run."
			env.Meta = map[string]interface{}{"recovered": true}
		}
		return respond(env), nil
	}
}
