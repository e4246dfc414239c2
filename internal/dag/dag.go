// SPDX-License-Identifier: MPL-2.0

// Package dag provides topological ordering and cycle detection over the
// package build closure. Nodes are opaque string keys; an edge from A to B
// means A must be processed before B, so adding an edge from each
// dependency to its importer yields a dependency-first order.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing
	// topological ordering.
	CycleError struct {
		// Cycle lists one cycle in edge direction, closed by repeating its
		// first node: [a b c a] means a->b, b->c and c->a.
		Cycle []string
	}

	// Graph is a directed graph with deterministic iteration: nodes and each
	// node's edges keep their insertion order.
	Graph struct {
		adjacency map[string][]string
		nodes     []string
		nodeSet   map[string]bool
		edgeSet   map[[2]string]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		nodeSet:   make(map[string]bool),
		edgeSet:   make(map[[2]string]bool),
	}
}

// AddNode adds a node to the graph. If the node already exists, this is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge adds a directed edge from -> to, meaning "from" must come before
// "to". Both nodes are implicitly added. Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	e := [2]string{from, to}
	if g.edgeSet[e] {
		return
	}
	g.edgeSet[e] = true
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Has reports whether name is a node.
func (g *Graph) Has(name string) bool {
	return g.nodeSet[name]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Successors returns the nodes name has edges to, in insertion order.
func (g *Graph) Successors(name string) []string {
	return slices.Clone(g.adjacency[name])
}

// TopologicalSort returns an order in which every node follows all of its
// predecessors, using Kahn's algorithm. Nodes that become ready together
// keep their insertion order. A cycle yields a *CycleError naming one cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	preds := make(map[string][]string, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node] = 0
	}
	for _, node := range g.nodes {
		for _, next := range g.adjacency[node] {
			inDegree[next]++
			preds[next] = append(preds[next], node)
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, next := range g.adjacency[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, &CycleError{Cycle: g.cycle(inDegree, preds)}
	}
	return result, nil
}

// cycle extracts one cycle from the nodes Kahn's algorithm could not
// release. Each of them still has an unreleased predecessor, so walking
// predecessors from any of them must revisit a node.
func (g *Graph) cycle(inDegree map[string]int, preds map[string][]string) []string {
	var start string
	for _, node := range g.nodes {
		if inDegree[node] > 0 {
			start = node
			break
		}
	}

	seen := map[string]int{}
	var walk []string
	for node := start; ; {
		if at, ok := seen[node]; ok {
			loop := append(slices.Clone(walk[at:]), node)
			slices.Reverse(loop)
			return loop
		}
		seen[node] = len(walk)
		walk = append(walk, node)
		for _, p := range preds[node] {
			if inDegree[p] > 0 {
				node = p
				break
			}
		}
	}
}
