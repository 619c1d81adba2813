// Package scheduler executes a checked dependency graph of deployment
// targets.
//
// # How It Works
//
// A single owner goroutine holds every piece of mutable run state: the
// per-target state machine, the Ready queue and the running counter. Worker
// goroutines only execute targets and report outcomes back over a channel,
// so no locks guard scheduling decisions.
//
// Each target moves through
//
//	Pending -> Ready -> Running -> Completed | Failed
//
// and a target whose upstream failed becomes Blocked without ever running.
// Targets whose execution record is already in the state store under the same
// effective hash are restored as Completed (replayed) before any work starts.
//
// # Per-Target Protocol
//
//  1. before hooks of the target's process script, once per script per run
//  2. for each pipeline step: beforeEach hooks, the step (retried up to
//     MaxAttempts), afterEach hooks
//  3. the completion predicate
//  4. the execution record is written to the store
//  5. only then are dependents unblocked
//
// When every target sharing a process script is Completed and the script was
// used in this run, its after hooks run once.
//
// # Failure Policy
//
// A failed target blocks all transitive dependents. After the first failure
// no new targets are admitted unless ContinueOnFailure is set; targets
// already running are allowed to finish. Any state store error is fatal.
package scheduler
