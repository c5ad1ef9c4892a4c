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

// NewDeleteTool creates the engram_delete tool definition
func NewDeleteTool() mcp.Tool {
	return mcp.NewTool("engram_delete",
		mcp.WithDescription("Delete a memory by id, or every memory in a scope. Deletion is soft: the row survives for audit and checkpoint history, and causal edges touching it become orphaned."),
		mcp.WithString("id",
			mcp.Description("Memory id to delete"),
		),
		mcp.WithString("scope",
			mcp.Description("Delete every memory with this scope tag instead"),
		),
	)
}

// DeleteHandler handles the engram_delete tool
func DeleteHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("id", "")
		scope := request.GetString("scope", "")

		switch {
		case id != "" && scope != "":
			return failure(CodeInvalidArgument, "provide either id or scope, not both"), nil

		case id != "":
			if err := tc.Store.Delete(id); err != nil {
				if errors.Is(err, memory.ErrNotFound) {
					return failure(CodeMemoryNotFound, fmt.Sprintf("memory not found: %s", id)), nil
				}
				return failure(CodeStorageFailure, fmt.Sprintf("delete failed: %v", err)), nil
			}
			return success(
				fmt.Sprintf("Deleted memory %s.", id),
				map[string]interface{}{"id": id, "deleted": 1},
			), nil

		case scope != "":
			count, err := tc.Store.DeleteScope(scope)
			if err != nil {
				return failure(CodeStorageFailure, fmt.Sprintf("scope delete failed: %v", err)), nil
			}
			return success(
				fmt.Sprintf("Deleted %d memories in scope %q.", count, scope),
				map[string]interface{}{"scope": scope, "deleted": count},
			), nil

		default:
			return failure(CodeInvalidArgument, "an id or a scope is required"), nil
		}
	}
}
