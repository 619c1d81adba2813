package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/state/statetest"
	"github.com/specialistvlad/deploygrid/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a live server, e.g. DEPLOYGRID_TEST_REDIS=redis://localhost:6379/15.
func redisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DEPLOYGRID_TEST_REDIS")
	if url == "" {
		t.Skip("DEPLOYGRID_TEST_REDIS not set")
	}
	return url
}

func TestStoreContract(t *testing.T) {
	url := redisURL(t)
	statetest.RunContract(t, func(t *testing.T) state.Store {
		s, err := Open(context.Background(), url)
		require.NoError(t, err)
		s.prefix = "deploygrid:test:" + t.Name() + ":"
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := s.client.Keys(ctx, s.prefix+"*").Result()
			if len(keys) > 0 {
				s.client.Del(ctx, keys...)
			}
			_ = s.Close()
		})
		return s
	})
}

func TestOpenBadURL(t *testing.T) {
	_, err := Open(context.Background(), "not-a-url")
	var sio *state.StoreIOError
	assert.ErrorAs(t, err, &sio)
}

func TestKeyLayout(t *testing.T) {
	s := New(nil, "")
	assert.Equal(t, "deploygrid:record:mainnet:Token", s.key(target.Identity{Contract: "Token", Network: "mainnet"}))
}
