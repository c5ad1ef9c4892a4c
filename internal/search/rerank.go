// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// lengthPenaltyThreshold is the character count past which reranked
// documents are penalized.
const lengthPenaltyThreshold = 100

// Reranker scores query/document pairs with an external cross-encoder
// command. The command reads {"query": ..., "documents": [{"text": ...}]}
// on stdin and writes a JSON array of scores on stdout.
type Reranker struct {
	command []string
	timeout time.Duration
}

// NewReranker creates a reranker around the given command line. An
// empty command disables reranking.
func NewReranker(command []string, timeout time.Duration) *Reranker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reranker{command: command, timeout: timeout}
}

// Enabled reports whether a rerank command is configured
func (r *Reranker) Enabled() bool {
	return r != nil && len(r.command) > 0
}

type rerankRequest struct {
	Query     string      `json:"query"`
	Documents []rerankDoc `json:"documents"`
}

type rerankDoc struct {
	Text string `json:"text"`
}

// Scores runs the cross-encoder over the documents and returns one
// relevance score per document, with the length penalty applied.
func (r *Reranker) Scores(ctx context.Context, query string, docs []string) ([]float64, error) {
	if !r.Enabled() {
		return nil, fmt.Errorf("reranker not configured")
	}
	if len(docs) == 0 {
		return []float64{}, nil
	}

	req := rerankRequest{Query: query}
	for _, d := range docs {
		req.Documents = append(req.Documents, rerankDoc{Text: d})
	}
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, r.command[0], r.command[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rerank command failed: %w", err)
	}

	var scores []float64
	if err := json.Unmarshal(stdout.Bytes(), &scores); err != nil {
		return nil, fmt.Errorf("failed to parse rerank output: %w", err)
	}
	if len(scores) != len(docs) {
		return nil, fmt.Errorf("rerank returned %d scores for %d documents", len(scores), len(docs))
	}

	for i, d := range docs {
		scores[i] *= lengthPenalty(len(d))
	}
	return scores, nil
}

// lengthPenalty dampens very long documents past the threshold
func lengthPenalty(length int) float64 {
	if length <= lengthPenaltyThreshold {
		return 1.0
	}
	return 1.0 / (1.0 + 0.001*float64(length-lengthPenaltyThreshold))
}
