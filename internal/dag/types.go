package dag

import (
	"sync"

	"github.com/specialistvlad/deploygrid/internal/target"
)

// EdgeKind tells why one target waits for another.
type EdgeKind int

const (
	// DependsOn edges come from a target's dependsOn list.
	DependsOn EdgeKind = iota
	// Link edges come from a target's links list. The upstream result is
	// handed to the dependent as link data.
	Link
)

func (k EdgeKind) String() string {
	if k == Link {
		return "links"
	}
	return "dependsOn"
}

// Graph is a collection of targets and their dependencies, representing a
// DAG once Check has accepted it. All operations on the graph are
// concurrency-safe.
type Graph struct {
	// mutex protects the nodes map during concurrent access.
	mutex sync.RWMutex
	// nodes stores all nodes in the graph, keyed by target identity.
	nodes map[target.Identity]*node
	// order keeps node insertion order so traversals are deterministic.
	order []target.Identity
}

// node represents a single vertex in the graph. It is un-exported to
// enforce interaction with the graph via the public API (using identities),
// not by direct struct manipulation.
type node struct {
	id     target.Identity
	target *target.Target
	// deps holds the nodes this node waits for, keyed to the edge kind.
	deps      map[target.Identity]EdgeKind
	depsOrder []target.Identity
	// dependents holds the nodes waiting for this node.
	dependents      map[target.Identity]EdgeKind
	dependentsOrder []target.Identity
}
