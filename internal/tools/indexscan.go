// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewIndexScanTool creates the engram_index_scan tool definition
func NewIndexScanTool() mcp.Tool {
	return mcp.NewTool("engram_index_scan",
		mcp.WithDescription("Rebuild the derived indexes from the stored memories: missing keyword postings are reindexed and stale vectors re-embedded. Pass dry_run=true to only report inconsistencies."),
		mcp.WithBoolean("dry_run",
			mcp.Description("Report index inconsistencies without repairing them"),
		),
	)
}

// IndexScanHandler handles the engram_index_scan tool
func IndexScanHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dryRun := request.GetBool("dry_run", false)

		report, err := tc.Scanner.Scan(c, !dryRun)
		if err != nil {
			return failure(CodeStorageFailure, fmt.Sprintf("index scan failed: %v", err)), nil
		}

		env := &Envelope{Data: report}
		switch {
		case dryRun && report.Clean():
			env.Summary = fmt.Sprintf("All %d memories consistent with their indexes.", report.RecordsChecked)
		case dryRun:
			env.Summary = fmt.Sprintf("Checked %d memories: %d missing keyword entries, %d stale vectors.",
				report.RecordsChecked, report.MissingLexical, report.StaleVectors)
			env.Hints = map[string]string{CodeVectorIndexCorrupted: hints[CodeVectorIndexCorrupted]}
			env.Meta = map[string]interface{}{"error_code": CodeVectorIndexCorrupted}
		default:
			env.Summary = fmt.Sprintf("Scanned %d memories, repaired %d.", report.RecordsChecked, report.Repaired)
		}
		if report.Degraded {
			env.Summary += " Vector repairs pending: no embedding provider reachable."
			env.Meta = map[string]interface{}{"degraded": true}
			env.Hints = map[string]string{CodeEmbeddingUnavailable: hints[CodeEmbeddingUnavailable]}
		}
		return respond(env), nil
	}
}
