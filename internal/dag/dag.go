package dag

import (
	"fmt"

	"github.com/specialistvlad/deploygrid/internal/target"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[target.Identity]*node),
	}
}

// AddNode adds a target to the graph. If a node with the same identity
// already exists, the function does nothing.
func (g *Graph) AddNode(t *target.Target) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	id := t.ID()
	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		target:     t,
		deps:       make(map[target.Identity]EdgeKind),
		dependents: make(map[target.Identity]EdgeKind),
	}
	g.order = append(g.order, id)
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` waits for `fromID`. Self edges are accepted so
// the checker can report them as cycles. Adding an existing edge again is a
// no-op; the first kind wins.
func (g *Graph) AddEdge(fromID, toID target.Identity, kind EdgeKind) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	if _, exists := toNode.deps[fromID]; exists {
		return nil
	}

	toNode.deps[fromID] = kind
	toNode.depsOrder = append(toNode.depsOrder, fromID)
	fromNode.dependents[toID] = kind
	fromNode.dependentsOrder = append(fromNode.dependentsOrder, toID)

	return nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Nodes returns every identity in insertion order.
func (g *Graph) Nodes() []target.Identity {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return append([]target.Identity(nil), g.order...)
}

// Target returns the target stored under the given identity.
func (g *Graph) Target(id target.Identity) (*target.Target, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.target, true
}

// Targets returns every target in insertion order.
func (g *Graph) Targets() []*target.Target {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	out := make([]*target.Target, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].target)
	}
	return out
}

// Dependencies returns the identities the given node waits for, in the
// order the edges were added.
func (g *Graph) Dependencies(id target.Identity) ([]target.Identity, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return append([]target.Identity(nil), n.depsOrder...), nil
}

// Dependents returns the identities that wait for the given node.
func (g *Graph) Dependents(id target.Identity) ([]target.Identity, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return append([]target.Identity(nil), n.dependentsOrder...), nil
}

// EdgeKind returns the kind of the edge from -> to, if there is one.
func (g *Graph) EdgeKind(from, to target.Identity) (EdgeKind, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[to]
	if !ok {
		return 0, false
	}
	kind, ok := n.deps[from]
	return kind, ok
}
