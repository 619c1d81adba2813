// Package inmemorystore provides a thread-safe, in-memory implementation
// of the state.Store interface. It is suitable for dry runs, tests, or any
// scenario where execution records do not need to outlive the process.
package inmemorystore
