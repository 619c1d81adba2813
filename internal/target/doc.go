// Package target defines the resolved, internal model of a deployment: the
// (contract, network) identity, the typed options a user may pass, the
// process script that drives a deployment, and the immutable Target value
// consumed by the graph builder and the scheduler.
//
// Targets are value objects. They are created fresh on every invocation of
// the tool and never mutated once built; execution state lives in the
// scheduler and the state store, never on the Target itself.
package target
