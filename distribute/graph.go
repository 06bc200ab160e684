package distribute

import "sort"

// Graph tracks declared dependencies between agents: an edge from dependency
// to dependent means the dependent wants the dependency's output first.
type Graph struct {
	// edges[dependency] = set of dependents
	edges map[string]map[string]bool
	nodes map[string]bool
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		edges: make(map[string]map[string]bool),
		nodes: make(map[string]bool),
	}
}

// AddDependency declares that dependent needs dependency's output first.
func (g *Graph) AddDependency(dependent, dependency string) {
	if dependent == "" || dependency == "" || dependent == dependency {
		return
	}
	g.nodes[dependent] = true
	g.nodes[dependency] = true
	if g.edges[dependency] == nil {
		g.edges[dependency] = make(map[string]bool)
	}
	g.edges[dependency][dependent] = true
}

// RemoveAgent drops an agent and every edge touching it.
func (g *Graph) RemoveAgent(name string) {
	delete(g.nodes, name)
	delete(g.edges, name)
	for _, dependents := range g.edges {
		delete(dependents, name)
	}
}

// Order computes a topological execution order with Kahn's algorithm.
// Agents caught in a cycle never reach zero in-degree; they are returned
// separately as stuck, never as a fatal error.
func (g *Graph) Order() (order []string, stuck []string) {
	inDegree := make(map[string]int, len(g.nodes))
	for node := range g.nodes {
		inDegree[node] = 0
	}
	for _, dependents := range g.edges {
		for dep := range dependents {
			inDegree[dep]++
		}
	}

	// Ready agents sorted by name for deterministic output.
	var ready []string
	for node, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, node)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		var unlocked []string
		for dependent := range g.edges[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(order) < len(g.nodes) {
		emitted := make(map[string]bool, len(order))
		for _, node := range order {
			emitted[node] = true
		}
		for node := range g.nodes {
			if !emitted[node] {
				stuck = append(stuck, node)
			}
		}
		sort.Strings(stuck)
	}
	return order, stuck
}
