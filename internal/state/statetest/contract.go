// Package statetest holds the behavioural checks every state.Store backend
// must pass.
package statetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunContract exercises get/put/invalidate semantics against a fresh store
// produced by newStore for each subtest.
func RunContract(t *testing.T, newStore func(t *testing.T) state.Store) {
	t.Helper()
	ctx := context.Background()
	token := target.Identity{Contract: "Token", Network: "mainnet"}

	t.Run("get of absent record", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		rec := state.Record{
			Identity:    token,
			Hash:        "h1",
			Completed:   true,
			CompletedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Result:      json.RawMessage(`{"address":"0xabc"}`),
			RunID:       "run-1",
		}
		require.NoError(t, s.Put(ctx, rec))

		got, ok, err := s.Get(ctx, token)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rec.Identity, got.Identity)
		assert.Equal(t, "h1", got.Hash)
		assert.True(t, got.Completed)
		assert.True(t, rec.CompletedAt.Equal(got.CompletedAt))
		assert.JSONEq(t, `{"address":"0xabc"}`, string(got.Result))
		assert.Equal(t, "run-1", got.RunID)
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, state.Record{Identity: token, Hash: "h1", Completed: true}))
		require.NoError(t, s.Put(ctx, state.Record{Identity: token, Hash: "h2", Completed: true}))

		got, ok, err := s.Get(ctx, token)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "h2", got.Hash)
	})

	t.Run("records are keyed by full identity", func(t *testing.T) {
		s := newStore(t)
		other := target.Identity{Contract: "Token", Network: "testnet"}
		require.NoError(t, s.Put(ctx, state.Record{Identity: token, Hash: "main"}))
		require.NoError(t, s.Put(ctx, state.Record{Identity: other, Hash: "test"}))

		got, _, err := s.Get(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, "test", got.Hash)
	})

	t.Run("invalidate removes the record", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, state.Record{Identity: token, Hash: "h1", Completed: true}))
		require.NoError(t, s.Invalidate(ctx, token))

		_, ok, err := s.Get(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Invalidate(ctx, token), "invalidating an absent record is not an error")
	})

	t.Run("concurrent writers on distinct identities", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := target.Identity{Contract: fmt.Sprintf("C%d", i), Network: "mainnet"}
				assert.NoError(t, s.Put(ctx, state.Record{Identity: id, Hash: fmt.Sprint(i), Completed: true}))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 16; i++ {
			id := target.Identity{Contract: fmt.Sprintf("C%d", i), Network: "mainnet"}
			got, ok, err := s.Get(ctx, id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprint(i), got.Hash)
		}
	})
}
