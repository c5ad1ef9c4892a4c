// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/engramlabs/engram-mcp/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewValidateTool creates the engram_validate tool definition
func NewValidateTool() mcp.Tool {
	return mcp.NewTool("engram_validate",
		mcp.WithDescription("Record feedback on a memory. Confirming it strengthens retention (testing effect); flagging it as outdated halves its stability so it decays out faster."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The memory to validate"),
		),
		mcp.WithString("feedback",
			mcp.Required(),
			mcp.Description("Either 'confirmed' or 'outdated'"),
		),
	)
}

// ValidateHandler handles the engram_validate tool
func ValidateHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil || id == "" {
			return failure(CodeInvalidArgument, "id is required"), nil
		}
		feedback := request.GetString("feedback", "")

		switch feedback {
		case "confirmed":
			if err := tc.Store.Touch(id); err != nil {
				if errors.Is(err, memory.ErrNotFound) {
					return failure(CodeMemoryNotFound, fmt.Sprintf("memory not found: %s", id)), nil
				}
				return failure(CodeStorageFailure, fmt.Sprintf("failed to apply feedback: %v", err)), nil
			}
			rec, err := tc.Store.Get(id)
			if err != nil {
				return failure(CodeStorageFailure, fmt.Sprintf("failed to reload memory: %v", err)), nil
			}
			return success(
				fmt.Sprintf("Confirmed memory %s; stability is now %.2f.", id, rec.Stability),
				map[string]interface{}{
					"id":           id,
					"feedback":     feedback,
					"stability":    rec.Stability,
					"review_count": rec.ReviewCount,
				},
			), nil

		case "outdated":
			rec, err := tc.Store.Weaken(id)
			if err != nil {
				if errors.Is(err, memory.ErrNotFound) {
					return failure(CodeMemoryNotFound, fmt.Sprintf("memory not found: %s", id)), nil
				}
				return failure(CodeStorageFailure, fmt.Sprintf("failed to apply feedback: %v", err)), nil
			}
			return success(
				fmt.Sprintf("Marked memory %s outdated; stability reduced to %.2f.", id, rec.Stability),
				map[string]interface{}{
					"id":           id,
					"feedback":     feedback,
					"stability":    rec.Stability,
					"review_count": rec.ReviewCount,
				},
			), nil

		default:
			return failure(CodeInvalidArgument,
				fmt.Sprintf("feedback must be 'confirmed' or 'outdated', got %q", feedback)), nil
		}
	}
}
