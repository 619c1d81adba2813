package inmemorystore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/target"
)

// Store is an in-memory implementation of state.Store using sync.Map for
// fine-grained concurrent access without global lock contention.
//
// Each scheduler worker writes only its own identity, so contention on a
// single key never happens in practice; sync.Map handles the remaining
// concurrent reads of dependency records.
type Store struct {
	records sync.Map // Key: target.Identity, Value: state.Record
}

// New creates a new, empty in-memory state store.
func New() *Store {
	return &Store{}
}

// Get retrieves the execution record of a target.
func (s *Store) Get(ctx context.Context, id target.Identity) (state.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return state.Record{}, false, state.Wrap("get", id, err)
	}
	v, ok := s.records.Load(id)
	if !ok {
		return state.Record{}, false, nil
	}
	return clone(v.(state.Record)), true, nil
}

// Put records the outcome of a target, replacing any previous record.
func (s *Store) Put(ctx context.Context, rec state.Record) error {
	if err := ctx.Err(); err != nil {
		return state.Wrap("put", rec.Identity, err)
	}
	s.records.Store(rec.Identity, clone(rec))
	return nil
}

// Invalidate forgets the record of a target.
func (s *Store) Invalidate(ctx context.Context, id target.Identity) error {
	if err := ctx.Err(); err != nil {
		return state.Wrap("invalidate", id, err)
	}
	s.records.Delete(id)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Len returns the number of stored records.
func (s *Store) Len() int {
	n := 0
	s.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// clone copies the result payload so callers cannot mutate stored bytes.
func clone(rec state.Record) state.Record {
	if rec.Result != nil {
		rec.Result = append(json.RawMessage(nil), rec.Result...)
	}
	return rec
}
