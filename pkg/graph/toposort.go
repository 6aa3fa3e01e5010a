// Package graph validates workflow graphs and computes execution order.
package graph

import (
	"errors"
	"fmt"

	"github.com/studio233/flowcore/pkg/models"
)

var (
	// ErrCycle indicates the graph is not a DAG.
	ErrCycle = errors.New("workflow graph contains a cycle or disconnected references")

	// ErrUnknownNode indicates an edge references a node id that is not
	// present in the node set.
	ErrUnknownNode = errors.New("edge references unknown node")

	// ErrDuplicateNode indicates two nodes share the same id.
	ErrDuplicateNode = errors.New("duplicate node id")
)

// IsInvalidGraph reports whether the error is a graph validation
// failure the caller can fix (as opposed to an infrastructure error).
func IsInvalidGraph(err error) bool {
	return errors.Is(err, ErrCycle) || errors.Is(err, ErrUnknownNode) || errors.Is(err, ErrDuplicateNode)
}

// Order returns every node id exactly once such that for every edge the
// source appears before the target (Kahn's algorithm). Ties among
// zero-in-degree candidates break by original node-array position, so
// the result is deterministic for a given input. A cyclic graph or an
// edge referencing a node outside the node set fails validation; no
// partial ordering is ever returned.
func Order(nodes []*models.Node, edges []*models.Edge) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	adjacency := make(map[string][]string, len(nodes))

	for _, node := range nodes {
		if _, ok := inDegree[node.ID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, node.ID)
		}

		inDegree[node.ID] = 0
	}

	for _, edge := range edges {
		if _, ok := inDegree[edge.Source]; !ok {
			return nil, fmt.Errorf("edge %s->%s: source: %w", edge.Source, edge.Target, ErrUnknownNode)
		}

		if _, ok := inDegree[edge.Target]; !ok {
			return nil, fmt.Errorf("edge %s->%s: target: %w", edge.Source, edge.Target, ErrUnknownNode)
		}

		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		// Self-loops count too, so a node depending on itself never seeds
		// the queue and is reported as a cycle.
		inDegree[edge.Target]++
	}

	queue := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if inDegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	result := make([]string, 0, len(nodes))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, neighbor := range adjacency[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(nodes) {
		return nil, ErrCycle
	}

	return result, nil
}

// ValidateReferences checks that every edge endpoint names a node in
// the node set. Used at definition-save time so malformed graphs fail
// before they ever reach a run.
func ValidateReferences(nodes []*models.Node, edges []*models.Edge) error {
	known := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		known[node.ID] = struct{}{}
	}

	for _, edge := range edges {
		if _, ok := known[edge.Source]; !ok {
			return fmt.Errorf("edge %s->%s: source: %w", edge.Source, edge.Target, ErrUnknownNode)
		}

		if _, ok := known[edge.Target]; !ok {
			return fmt.Errorf("edge %s->%s: target: %w", edge.Source, edge.Target, ErrUnknownNode)
		}
	}

	return nil
}
