package workflow

import (
	"fmt"
	"sort"
)

// dependencyGraph is the step DAG used to order execution and detect cycles.
type dependencyGraph struct {
	nodes    map[string]bool
	edges    map[string][]string // node -> dependents
	inDegree map[string]int
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{
		nodes:    make(map[string]bool),
		edges:    make(map[string][]string),
		inDegree: make(map[string]int),
	}
}

func (g *dependencyGraph) addNode(id string) {
	if !g.nodes[id] {
		g.nodes[id] = true
		g.inDegree[id] = 0
	}
}

// addEdge records that source must complete before target.
func (g *dependencyGraph) addEdge(sourceID, targetID string) error {
	if !g.nodes[sourceID] {
		return fmt.Errorf("step %s depends on unknown step %s", targetID, sourceID)
	}
	if !g.nodes[targetID] {
		return fmt.Errorf("unknown step %s", targetID)
	}

	for _, dependent := range g.edges[sourceID] {
		if dependent == targetID {
			return nil
		}
	}

	g.edges[sourceID] = append(g.edges[sourceID], targetID)
	g.inDegree[targetID]++
	return nil
}

// topologicalOrder returns the steps in dependency order. Ties are broken
// alphabetically for determinism. A cycle returns the offending node.
func (g *dependencyGraph) topologicalOrder() ([]string, string) {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, degree := range g.inDegree {
		inDegree[id] = degree
	}

	order := make([]string, 0, len(g.nodes))
	processed := make(map[string]bool)

	for len(order) < len(g.nodes) {
		ready := make([]string, 0)
		for id := range g.nodes {
			if !processed[id] && inDegree[id] == 0 {
				ready = append(ready, id)
			}
		}

		if len(ready) == 0 {
			// Remaining nodes all have incoming edges: a cycle.
			remaining := make([]string, 0)
			for id := range g.nodes {
				if !processed[id] {
					remaining = append(remaining, id)
				}
			}
			sort.Strings(remaining)
			return nil, remaining[0]
		}

		sort.Strings(ready)
		for _, id := range ready {
			processed[id] = true
			order = append(order, id)
			for _, dependent := range g.edges[id] {
				inDegree[dependent]--
			}
		}
	}

	return order, ""
}
