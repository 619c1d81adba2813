package dag

import (
	"github.com/specialistvlad/deploygrid/internal/target"
)

// CheckDuplicates verifies that no two specs share a (contract, network)
// identity.
func CheckDuplicates(specs []target.Spec) error {
	seen := make(map[target.Identity]string, len(specs))
	for _, s := range specs {
		where := location(s)
		if first, ok := seen[s.Identity]; ok {
			return &DuplicateTargetError{Identity: s.Identity, First: first, Second: where}
		}
		seen[s.Identity] = where
	}
	return nil
}

func location(s target.Spec) string {
	switch {
	case s.Path != "" && s.Source != "":
		return s.Path + " (" + s.Source + ")"
	case s.Path != "":
		return s.Path
	default:
		return s.Identity.String()
	}
}

// Check proves the graph is acyclic and returns a topological order in which
// every target appears after all targets it waits for. The order is
// deterministic for a given graph. On a cycle it returns a
// *CyclicDependencyError with the shortest cycle through the first back edge
// found.
func (g *Graph) Check() ([]target.Identity, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search with three colours:
	// white: not visited yet.
	// grey: currently on the recursion stack.
	// black: fully visited, all dependencies already emitted.
	const (
		white = iota
		grey
		black
	)
	colour := make(map[target.Identity]int, len(g.nodes))
	order := make([]target.Identity, 0, len(g.nodes))

	var visit func(n *node) *target.Identity
	visit = func(n *node) *target.Identity {
		colour[n.id] = grey
		for _, depID := range n.depsOrder {
			switch colour[depID] {
			case grey:
				// Back edge: depID is on the stack, so it closes a cycle.
				back := depID
				return &back
			case white:
				if hit := visit(g.nodes[depID]); hit != nil {
					return hit
				}
			}
		}
		colour[n.id] = black
		order = append(order, n.id)
		return nil
	}

	for _, id := range g.order {
		if colour[id] != white {
			continue
		}
		if hit := visit(g.nodes[id]); hit != nil {
			return nil, &CyclicDependencyError{Cycle: g.shortestCycle(*hit)}
		}
	}
	return order, nil
}

// shortestCycle finds the shortest path that leaves start along dependency
// edges and returns to it. Callers hold the read lock.
func (g *Graph) shortestCycle(start target.Identity) []target.Identity {
	parent := map[target.Identity]target.Identity{}
	queue := []target.Identity{start}
	visited := map[target.Identity]bool{start: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.nodes[cur].depsOrder {
			if dep == start {
				cycle := []target.Identity{cur}
				for cur != start {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				// Walked backwards from the last hop; flip to start-first.
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			parent[dep] = cur
			queue = append(queue, dep)
		}
	}
	return []target.Identity{start}
}

// Check is the package-level form of Graph.Check.
func Check(g *Graph) ([]target.Identity, error) {
	return g.Check()
}
