// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/engramlabs/engram-mcp/internal/checkpoint"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewCheckpointCreateTool creates the engram_checkpoint_create tool definition
func NewCheckpointCreateTool() mcp.Tool {
	return mcp.NewTool("engram_checkpoint_create",
		mcp.WithDescription("Snapshot every memory, vector and causal edge under a name. Old checkpoints past the retention bound are evicted oldest-first."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Unique checkpoint name"),
		),
	)
}

// CheckpointCreateHandler handles the engram_checkpoint_create tool
func CheckpointCreateHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil || name == "" {
			return failure(CodeInvalidArgument, "a checkpoint name is required"), nil
		}

		cp, err := tc.Checkpoints.Create(name)
		if err != nil {
			if errors.Is(err, checkpoint.ErrNameTaken) {
				return failure(CodeCheckpointNameTaken, fmt.Sprintf("checkpoint %q already exists", name)), nil
			}
			return failure(CodeStorageFailure, fmt.Sprintf("checkpoint failed: %v", err)), nil
		}

		if tc.Archive != nil {
			if err := tc.Archive.CommitCheckpoint(tc.Store.DB(), name); err != nil {
				log.Printf("archive commit for checkpoint %q failed: %v", name, err)
			}
		}

		return success(
			fmt.Sprintf("Checkpoint %q created: %d memories, %d edges.", cp.Name, cp.ItemCount, cp.EdgeCount),
			cp,
		), nil
	}
}

// NewCheckpointListTool creates the engram_checkpoint_list tool definition
func NewCheckpointListTool() mcp.Tool {
	return mcp.NewTool("engram_checkpoint_list",
		mcp.WithDescription("List checkpoints, newest first."),
	)
}

// CheckpointListHandler handles the engram_checkpoint_list tool
func CheckpointListHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		checkpoints, err := tc.Checkpoints.List()
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("failed to list checkpoints: %v", err)), nil
		}
		return success(
			fmt.Sprintf("%d checkpoints.", len(checkpoints)),
			map[string]interface{}{"checkpoints": checkpoints},
		), nil
	}
}

// NewCheckpointRestoreTool creates the engram_checkpoint_restore tool definition
func NewCheckpointRestoreTool() mcp.Tool {
	return mcp.NewTool("engram_checkpoint_restore",
		mcp.WithDescription("Replace the entire store with a checkpoint's snapshot. All-or-nothing: on any failure the live store is untouched."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Checkpoint name to restore"),
		),
	)
}

// CheckpointRestoreHandler handles the engram_checkpoint_restore tool
func CheckpointRestoreHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil || name == "" {
			return failure(CodeInvalidArgument, "a checkpoint name is required"), nil
		}

		cp, err := tc.Checkpoints.Restore(name)
		if err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				return failure(CodeCheckpointNotFound, fmt.Sprintf("checkpoint not found: %s", name)), nil
			}
			return failure(CodeStorageFailure, fmt.Sprintf("restore failed, store unchanged: %v", err)), nil
		}

		return success(
			fmt.Sprintf("Restored checkpoint %q: %d memories, %d edges.", cp.Name, cp.ItemCount, cp.EdgeCount),
			cp,
		), nil
	}
}

// NewCheckpointDeleteTool creates the engram_checkpoint_delete tool definition
func NewCheckpointDeleteTool() mcp.Tool {
	return mcp.NewTool("engram_checkpoint_delete",
		mcp.WithDescription("Delete a checkpoint and its snapshot."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Checkpoint name to delete"),
		),
	)
}

// CheckpointDeleteHandler handles the engram_checkpoint_delete tool
func CheckpointDeleteHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil || name == "" {
			return failure(CodeInvalidArgument, "a checkpoint name is required"), nil
		}

		if err := tc.Checkpoints.Delete(name); err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				return failure(CodeCheckpointNotFound, fmt.Sprintf("checkpoint not found: %s", name)), nil
			}
			return failure(CodeStorageFailure, fmt.Sprintf("delete failed: %v", err)), nil
		}

		return success(
			fmt.Sprintf("Deleted checkpoint %q.", name),
			map[string]interface{}{"name": name},
		), nil
	}
}
