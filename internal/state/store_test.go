package state

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/specialistvlad/deploygrid/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	id := target.Identity{Contract: "Token", Network: "mainnet"}
	assert.NoError(t, Wrap("get", id, nil))

	base := errors.New("disk full")
	err := Wrap("put", id, base)
	var sio *StoreIOError
	require.ErrorAs(t, err, &sio)
	assert.Equal(t, "put", sio.Op)
	assert.ErrorIs(t, err, base)
	assert.EqualError(t, err, "state store put mainnet:Token failed: disk full")

	assert.Same(t, err, Wrap("get", id, err), "already wrapped errors pass through")
}

func TestEncodeDecode(t *testing.T) {
	rec := Record{
		Identity:    target.Identity{Contract: "Token", Network: "mainnet"},
		Hash:        "abc",
		Completed:   true,
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Result:      json.RawMessage(`{"address":"0x1"}`),
		RunID:       "run-1",
	}
	data, err := Encode(rec)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, rec.Identity, got.Identity)
	assert.True(t, rec.CompletedAt.Equal(got.CompletedAt))
	assert.JSONEq(t, string(rec.Result), string(got.Result))

	_, err = Decode([]byte("{"))
	assert.ErrorContains(t, err, "decoding execution record")
}
