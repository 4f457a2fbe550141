// Package graph builds the static dependency graph over registered facts
// and provides cycle enumeration, topological ordering, and DOT export.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Node is one registered fact. Kind and DataType only feed the DOT label.
type Node struct {
	ID       string
	Kind     string
	DataType string
}

// Graph is a directed graph with one node per fact id and one edge
// fact -> dependency for every declared dependency, flat or structured.
// Edge presence ignores runtime conditions: the graph is a static upper
// bound over possible dependencies.
type Graph struct {
	nodes map[string]Node
	edges map[string][]string // fact id -> dependency ids, declaration order
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		edges: make(map[string][]string),
	}
}

// AddNode registers a fact node. Re-adding an id overwrites its label.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID] = n
	if _, ok := g.edges[n.ID]; !ok {
		g.edges[n.ID] = nil
	}
}

// AddEdge records that fact depends on dep. Duplicate edges collapse.
func (g *Graph) AddEdge(fact, dep string) {
	for _, existing := range g.edges[fact] {
		if existing == dep {
			return
		}
	}
	g.edges[fact] = append(g.edges[fact], dep)
	if _, ok := g.nodes[dep]; !ok {
		g.nodes[dep] = Node{ID: dep}
	}
}

// Dependencies returns the direct dependencies of a fact in declaration order.
func (g *Graph) Dependencies(fact string) []string {
	return g.edges[fact]
}

// NodeIDs returns all fact ids in sorted order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DetectCycles enumerates every simple cycle in the graph so diagnostics
// can name the offending fact chain, not just report existence. Cycles are
// returned rotated to start at their smallest id, deduplicated.
func (g *Graph) DetectCycles() [][]string {
	var cycles [][]string
	seen := make(map[string]bool)

	var path []string
	onPath := make(map[string]int)

	var dfs func(node string)
	dfs = func(node string) {
		if idx, ok := onPath[node]; ok {
			cycle := canonicalCycle(path[idx:])
			key := strings.Join(cycle, "\x00")
			if !seen[key] {
				seen[key] = true
				cycles = append(cycles, cycle)
			}
			return
		}
		onPath[node] = len(path)
		path = append(path, node)
		for _, dep := range g.edges[node] {
			dfs(dep)
		}
		path = path[:len(path)-1]
		delete(onPath, node)
	}

	for _, id := range g.NodeIDs() {
		dfs(id)
	}
	return cycles
}

// TopoOrder returns a dependency-first ordering: if A requires B, B
// precedes A. Fails if the graph has a cycle.
func (g *Graph) TopoOrder() ([]string, error) {
	// Kahn's algorithm over reversed edges (dependency -> dependent).
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = 0
	}
	for fact, deps := range g.edges {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], fact)
			indegree[fact]++
		}
	}

	var queue []string
	for _, id := range g.NodeIDs() {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, eris.Errorf("graph: cycle detected, only %d of %d facts orderable", len(order), len(g.nodes))
	}
	return order, nil
}

// DOT renders the graph as a Graphviz digraph: nodes carry kind/data_type
// labels, edges point dependency -> dependent.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph FactTaxonomy {\n")
	b.WriteString("  rankdir=\"LR\";\n")
	b.WriteString("  node [shape=box];\n")
	for _, id := range g.NodeIDs() {
		n := g.nodes[id]
		label := id
		if n.Kind != "" || n.DataType != "" {
			label = fmt.Sprintf("%s\\n(%s, %s)", id, n.Kind, n.DataType)
		}
		fmt.Fprintf(&b, "  %q [label=%q];\n", id, label)
	}
	for _, id := range g.NodeIDs() {
		for _, dep := range g.edges[id] {
			fmt.Fprintf(&b, "  %q -> %q;\n", dep, id)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// canonicalCycle rotates a cycle so it starts at its smallest id.
func canonicalCycle(cycle []string) []string {
	out := make([]string, len(cycle))
	copy(out, cycle)
	min := 0
	for i, id := range out {
		if id < out[min] {
			min = i
		}
	}
	return append(out[min:], out[:min]...)
}
