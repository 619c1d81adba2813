// Package dag turns normalized deployment targets into a dependency graph.
// Build resolves dependsOn and links references into edges keyed by target
// identity; Check proves the result is acyclic and yields the topological
// order the scheduler uses as its initial hint.
package dag
