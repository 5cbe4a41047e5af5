// Package dag builds dependency graphs over string-identified nodes
// and computes a deterministic topological ordering.
package dag

import (
	"fmt"
	"sort"
)

// Graph is a directed acyclic dependency graph. Edges run from a
// dependency to its dependents, so the topological order lists
// prerequisites first.
type Graph struct {
	nodes    map[string]struct{}
	children map[string][]string
	parents  map[string][]string
	order    []string
}

// Build constructs a graph from a map of node id to the ids it depends
// on. Dependencies that are not themselves keys of the map are
// ignored. Ties in the topological order break lexicographically.
func Build(nodes map[string][]string) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]struct{}, len(nodes)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}

	for id := range nodes {
		g.nodes[id] = struct{}{}
	}
	for id, deps := range nodes {
		for _, dep := range deps {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			g.children[dep] = append(g.children[dep], id)
			g.parents[id] = append(g.parents[id], dep)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.parents[id])
	}
	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, c := range g.children[node] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
		sort.Strings(queue)
	}
	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("cycle detected in dependency graph")
	}
	return order, nil
}

// Order returns node ids with every dependency before its dependents.
func (g *Graph) Order() []string { return g.order }

// Children returns the ids that directly depend on id.
func (g *Graph) Children(id string) []string { return g.children[id] }

// Parents returns the ids that id directly depends on.
func (g *Graph) Parents(id string) []string { return g.parents[id] }

// Roots returns the ids with no dependencies, sorted.
func (g *Graph) Roots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}
