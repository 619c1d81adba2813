// Package state defines the durable store of execution records that makes
// deployment runs idempotent.
//
// # Why the State Store Exists
//
// Deploying a contract has external side effects that cannot be repeated
// safely. The store remembers, per target identity, whether the target was
// completed and under which effective content hash. A re-run with an
// unchanged declaration reads every target back as completed and performs no
// work; a changed spec yields a different hash and the stale record is
// invalidated before the target runs again.
//
// # Contract
//
//   - **Get** returns the record for an identity, or ok=false when absent.
//   - **Put** atomically overwrites the record and is durable before it
//     returns. The scheduler only unblocks dependents after Put succeeded.
//   - **Invalidate** removes the record. Removing an absent record is not an
//     error.
//
// Every identity is written by exactly one scheduler worker per run, so
// backends need no cross-writer coordination beyond atomic single-key
// writes. Any backend failure is reported as a *StoreIOError and aborts the
// run.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/deploygrid/internal/target"
)

// Record is the persisted outcome of one target.
type Record struct {
	Identity    target.Identity `json:"identity"`
	Hash        string          `json:"hash"`
	Completed   bool            `json:"completed"`
	CompletedAt time.Time       `json:"completedAt"`
	// Result is the opaque payload returned by the target's last step.
	Result json.RawMessage `json:"result,omitempty"`
	RunID  string          `json:"runId,omitempty"`
}

// Store persists execution records keyed by target identity.
type Store interface {
	Get(ctx context.Context, id target.Identity) (Record, bool, error)
	Put(ctx context.Context, rec Record) error
	Invalidate(ctx context.Context, id target.Identity) error
	Close() error
}

// StoreIOError wraps any failure of the underlying storage. It is fatal for
// the whole run because completion bookkeeping can no longer be trusted.
type StoreIOError struct {
	Op       string
	Identity target.Identity
	Err      error
}

func (e *StoreIOError) Error() string {
	if e.Identity == (target.Identity{}) {
		return fmt.Sprintf("state store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("state store %s %s failed: %v", e.Op, e.Identity, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

// Wrap returns err as a *StoreIOError, or nil when err is nil. Errors that
// already are store errors are returned unchanged.
func Wrap(op string, id target.Identity, err error) error {
	if err == nil {
		return nil
	}
	var sio *StoreIOError
	if errors.As(err, &sio) {
		return err
	}
	return &StoreIOError{Op: op, Identity: id, Err: err}
}

// Key renders the identity as the storage key used by key/value backends.
func Key(id target.Identity) string {
	return id.String()
}

// Encode serializes a record for backends that store opaque bytes.
func Encode(rec Record) ([]byte, error) {
	return json.Marshal(rec)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding execution record: %w", err)
	}
	return rec, nil
}
