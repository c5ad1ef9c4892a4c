// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package graph

import (
	"github.com/engramlabs/engram-mcp/internal/database"
)

// MaxTraversalDepth caps all traversals
const MaxTraversalDepth = 10

// Direction selects which edges a traversal follows
type Direction string

const (
	DirectionOut  Direction = "out"  // follow source -> target
	DirectionIn   Direction = "in"   // follow target -> source
	DirectionBoth Direction = "both"
)

// Node is one visited record in a traversal
type Node struct {
	RecordID string `json:"record_id"`
	Depth    int    `json:"depth"`
}

// Edge annotates one traversed edge with its relation and strength
type Edge struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Relation string  `json:"relation"`
	Strength float64 `json:"strength"`
	Depth    int     `json:"depth"`
}

// Traversal is the ordered result of a breadth-first walk
type Traversal struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Traverse performs a breadth-first, depth-limited walk from a record.
// The visited set guarantees termination on cycles and that no node is
// emitted twice; each distinct edge is emitted at most once.
func (m *Manager) Traverse(startID string, direction Direction, maxDepth int) (*Traversal, error) {
	if maxDepth <= 0 || maxDepth > MaxTraversalDepth {
		maxDepth = MaxTraversalDepth
	}

	result := &Traversal{
		Nodes: []Node{{RecordID: startID, Depth: 0}},
		Edges: []Edge{},
	}

	visited := map[string]bool{startID: true}
	seenEdges := map[uint]bool{}

	type queueItem struct {
		recordID string
		depth    int
	}
	queue := []queueItem{{startID, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}

		edges, err := m.edgesFor(current.recordID, direction)
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			neighborID := edge.TargetID
			if edge.TargetID == current.recordID {
				neighborID = edge.SourceID
			}

			if !seenEdges[edge.ID] {
				seenEdges[edge.ID] = true
				result.Edges = append(result.Edges, Edge{
					SourceID: edge.SourceID,
					TargetID: edge.TargetID,
					Relation: edge.Relation,
					Strength: edge.Strength,
					Depth:    current.depth + 1,
				})
			}

			if !visited[neighborID] {
				visited[neighborID] = true
				result.Nodes = append(result.Nodes, Node{
					RecordID: neighborID,
					Depth:    current.depth + 1,
				})
				queue = append(queue, queueItem{neighborID, current.depth + 1})
			}
		}
	}

	return result, nil
}

func (m *Manager) edgesFor(recordID string, direction Direction) ([]database.CausalEdge, error) {
	switch direction {
	case DirectionOut:
		return m.Outgoing(recordID)
	case DirectionIn:
		return m.Incoming(recordID)
	default:
		return m.Neighbors(recordID)
	}
}

// lineage relations explain why a memory exists
var lineageRelations = []string{
	database.RelationCaused,
	database.RelationEnabled,
	database.RelationDerivedFrom,
}

// WhyStep is one hop of a lineage chain, read as
// "<RecordID> <Relation>-ed <the previous step>".
type WhyStep struct {
	RecordID string  `json:"record_id"`
	Relation string  `json:"relation"`
	Strength float64 `json:"strength"`
	Evidence string  `json:"evidence,omitempty"`
	Depth    int     `json:"depth"`
}

// Why answers "why does this memory exist" by walking caused/enabled/
// derived_from edges backward from the record, breadth-first and
// depth-limited like Traverse.
func (m *Manager) Why(recordID string, maxDepth int) ([]WhyStep, error) {
	if maxDepth <= 0 || maxDepth > MaxTraversalDepth {
		maxDepth = MaxTraversalDepth
	}

	var chain []WhyStep
	visited := map[string]bool{recordID: true}

	type queueItem struct {
		recordID string
		depth    int
	}
	queue := []queueItem{{recordID, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}

		var edges []database.CausalEdge
		err := m.db.Where("target_id = ? AND orphaned = ? AND relation IN ?",
			current.recordID, false, lineageRelations).
			Order("strength DESC, id").Find(&edges).Error
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			if visited[edge.SourceID] {
				continue
			}
			visited[edge.SourceID] = true

			chain = append(chain, WhyStep{
				RecordID: edge.SourceID,
				Relation: edge.Relation,
				Strength: edge.Strength,
				Evidence: edge.Evidence,
				Depth:    current.depth + 1,
			})
			queue = append(queue, queueItem{edge.SourceID, current.depth + 1})
		}
	}

	return chain, nil
}
