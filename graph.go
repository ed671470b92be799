package veld

import (
	"fmt"
	"slices"
)

// GraphNode is one node of the dependency graph, keyed by component name.
type GraphNode struct {
	Name         string
	Type         string
	Scope        ScopeID
	Primary      bool
	Dependencies []string
}

// GraphEdge is a directed edge between two graph nodes. Relationship
// describes how the dependency is satisfied (constructor, field, method).
type GraphEdge struct {
	From         string
	To           string
	Relationship string
}

// DependencyGraph holds the component dependency graph. It is built once
// during container refresh, single-threaded, and is read-only afterward,
// so no locking is performed. Nodes are kept in a flat table keyed by
// stable string names; cycles are ordinary data rather than memory-graph
// cycles.
//
// The graph is a diagnostics and visualization utility. Instance
// construction order is handled independently by on-demand scope
// resolution and never consults the topological sort.
type DependencyGraph struct {
	nodes     map[string]*GraphNode
	insertion []string
	edges     []GraphEdge
	outgoing  map[string][]string
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]*GraphNode),
		outgoing: make(map[string][]string),
	}
}

// AddNode adds a node for the given descriptor. Adding the same name
// twice is an error.
func (g *DependencyGraph) AddNode(desc *ComponentDescriptor) error {
	if _, exists := g.nodes[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrGraphNodeExists, desc.Name)
	}

	deps := make([]string, 0, len(desc.Dependencies))
	for _, ref := range desc.Dependencies {
		deps = append(deps, ref.Target)
	}

	g.nodes[desc.Name] = &GraphNode{
		Name:         desc.Name,
		Type:         desc.TypeName(),
		Scope:        desc.scopeOrDefault(),
		Primary:      desc.Primary,
		Dependencies: deps,
	}
	g.insertion = append(g.insertion, desc.Name)
	return nil
}

// AddEdge records a directed edge from one node to another. Both
// endpoints must already exist; a dangling edge is a missing-dependency
// error. Self-edges are permitted and are reported by DetectCycle.
func (g *DependencyGraph) AddEdge(from, to, relationship string) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: edge source %q not registered", ErrMissingDependency, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: %q depends on %q", ErrMissingDependency, from, to)
	}

	g.edges = append(g.edges, GraphEdge{From: from, To: to, Relationship: relationship})
	g.outgoing[from] = append(g.outgoing[from], to)
	return nil
}

// Node returns the node registered under name, if any.
func (g *DependencyGraph) Node(name string) (*GraphNode, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns all node names in insertion order.
func (g *DependencyGraph) Nodes() []string {
	return slices.Clone(g.insertion)
}

// Edges returns a copy of all registered edges.
func (g *DependencyGraph) Edges() []GraphEdge {
	return slices.Clone(g.edges)
}

// NodeCount returns the number of nodes in the graph.
func (g *DependencyGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *DependencyGraph) EdgeCount() int {
	return len(g.edges)
}

// Roots returns the nodes with no outgoing edges, in insertion order.
func (g *DependencyGraph) Roots() []string {
	var roots []string
	for _, name := range g.insertion {
		if len(g.outgoing[name]) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// Leaves returns the nodes that are not the target of any edge, in
// insertion order.
func (g *DependencyGraph) Leaves() []string {
	targeted := make(map[string]bool, len(g.edges))
	for _, e := range g.edges {
		targeted[e.To] = true
	}

	var leaves []string
	for _, name := range g.insertion {
		if !targeted[name] {
			leaves = append(leaves, name)
		}
	}
	return leaves
}

// DetectCycle searches the graph depth-first, visiting nodes in
// insertion order, and returns the first cycle found as the path from
// the revisited node back to itself (inclusive). A self-edge yields the
// two-element path [A A]. The second return is false when the graph is
// acyclic.
func (g *DependencyGraph) DetectCycle() ([]string, bool) {
	visited := make(map[string]bool, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		visited[name] = true
		onStack[name] = true
		stack = append(stack, name)

		for _, next := range g.outgoing[name] {
			if onStack[next] {
				start := slices.Index(stack, next)
				cycle = append(slices.Clone(stack[start:]), next)
				return true
			}
			if !visited[next] && visit(next) {
				return true
			}
		}

		onStack[name] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, name := range g.insertion {
		if !visited[name] && visit(name) {
			return cycle, true
		}
	}
	return nil, false
}

// TopologicalOrder returns all node names ordered so that every edge's
// source precedes its target. The order is deterministic: among
// unconstrained nodes, insertion order wins. A cyclic graph fails with
// a CircularDependencyError carrying the first cycle found.
func (g *DependencyGraph) TopologicalOrder() ([]string, error) {
	if path, found := g.DetectCycle(); found {
		return nil, &CircularDependencyError{Path: path}
	}

	// Kahn's algorithm over in-degrees of edge targets.
	indegree := make(map[string]int, len(g.nodes))
	for _, name := range g.insertion {
		indegree[name] = 0
	}
	for _, e := range g.edges {
		indegree[e.To]++
	}

	var ready []string
	for _, name := range g.insertion {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, next := range g.outgoing[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order, nil
}
