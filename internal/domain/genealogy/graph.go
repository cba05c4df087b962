// Package genealogy models the parent/child lineage of barcode nodes as a DAG held in an
// arena keyed by node id. All walks are iterative.
package genealogy

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCycle is returned when the edges loaded into a graph are not acyclic
	ErrCycle = errors.New("genealogy cycle detected")

	// ErrDepthExceeded is returned when a walk needs more levels than allowed
	ErrDepthExceeded = errors.New("genealogy depth limit exceeded")

	// ErrUnknownNode is returned when a walk starts from a node the loader cannot find
	ErrUnknownNode = errors.New("unknown genealogy node")
)

// Graph is an arena of nodes addressed by id with explicit parent edges
type Graph struct {
	parents map[int64][]int64
	depth   map[int64]int
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		parents: make(map[int64][]int64),
		depth:   make(map[int64]int),
	}
}

// AddNode registers a node and its parent edges, replacing any previous edges
func (g *Graph) AddNode(id int64, parents []int64) {
	g.parents[id] = append([]int64{}, parents...)
}

// Has reports whether the node is in the arena
func (g *Graph) Has(id int64) bool {
	_, ok := g.parents[id]
	return ok
}

// Parents returns the parent ids of a node
func (g *Graph) Parents(id int64) []int64 {
	return append([]int64{}, g.parents[id]...)
}

// Len returns the number of nodes in the arena
func (g *Graph) Len() int {
	return len(g.parents)
}

// Depth returns the shortest distance from the walk's start node, as recorded by Collect
func (g *Graph) Depth(id int64) int {
	return g.depth[id]
}

// WouldCycle reports whether adding child with the given parents would make the child its own
// ancestor. Only edges already in the arena are considered.
func (g *Graph) WouldCycle(child int64, parents []int64) bool {
	visited := make(map[int64]bool)
	stack := append([]int64{}, parents...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == child {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, g.parents[id]...)
	}
	return false
}

// ParentLoader returns the parent ids of each requested node. Ids missing from the result are
// treated as unknown.
type ParentLoader func(ctx context.Context, ids []int64) (map[int64][]int64, error)

// Collect loads the start node and all of its ancestors breadth first, one level per loader
// call, and fails once more than maxDepth parent levels would be needed.
func Collect(ctx context.Context, start int64, maxDepth int, load ParentLoader) (*Graph, error) {
	g := New()
	level := []int64{start}
	g.depth[start] = 0

	for depth := 0; len(level) > 0; depth++ {
		if depth > maxDepth {
			return nil, fmt.Errorf("%w: node %d has ancestors beyond %d levels", ErrDepthExceeded, start, maxDepth)
		}

		loaded, err := load(ctx, level)
		if err != nil {
			return nil, fmt.Errorf("load genealogy level %d: %w", depth, err)
		}

		var next []int64
		for _, id := range level {
			parents, ok := loaded[id]
			if !ok {
				return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
			}
			g.AddNode(id, parents)
			for _, p := range parents {
				if _, seen := g.depth[p]; seen {
					continue
				}
				g.depth[p] = depth + 1
				next = append(next, p)
			}
		}
		level = next
	}

	return g, nil
}

// Lineage returns every node in the arena ordered root to leaf. Nodes become eligible once all
// their parents are emitted; ties are broken by ascending id.
func (g *Graph) Lineage() ([]int64, error) {
	pending := make(map[int64]int, len(g.parents))
	children := make(map[int64][]int64, len(g.parents))
	for id, parents := range g.parents {
		count := 0
		for _, p := range parents {
			if _, known := g.parents[p]; !known {
				continue
			}
			count++
			children[p] = append(children[p], id)
		}
		pending[id] = count
	}

	var ready []int64
	for id, count := range pending {
		if count == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	order := make([]int64, 0, len(g.parents))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := false
		for _, c := range children[id] {
			pending[c]--
			if pending[c] == 0 {
				ready = append(ready, c)
				released = true
			}
		}
		if released {
			sortIDs(ready)
		}
	}

	if len(order) != len(g.parents) {
		return nil, ErrCycle
	}
	return order, nil
}

// Roots returns the nodes with no parents in ascending id order
func (g *Graph) Roots() []int64 {
	var roots []int64
	for id, parents := range g.parents {
		if len(parents) == 0 {
			roots = append(roots, id)
		}
	}
	sortIDs(roots)
	return roots
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
