package badgerstore

import (
	"context"
	"testing"

	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/state/statetest"
	"github.com/specialistvlad/deploygrid/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	statetest.RunContract(t, func(t *testing.T) state.Store {
		s, err := Open(Config{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	var sio *state.StoreIOError
	require.ErrorAs(t, err, &sio)
	assert.ErrorContains(t, err, "path is required")
}

func TestPersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	id := target.Identity{Contract: "Token", Network: "mainnet"}

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, state.Record{Identity: id, Hash: "h1", Completed: true}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	rec, ok, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h1", rec.Hash)
}
