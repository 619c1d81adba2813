// Package redisstore persists execution records in Redis, one hash per
// target identity. Put is a single HSET, so the overwrite is atomic;
// durability follows the server's persistence settings (appendfsync always
// is recommended when Redis is the system of record).
package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/target"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "deploygrid:record:"

// Store implements state.Store on Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps an existing client. The store takes ownership of it.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Open connects using a redis:// URL and verifies the server answers.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, state.Wrap("open", target.Identity{}, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, state.Wrap("open", target.Identity{}, err)
	}
	return New(client, DefaultPrefix), nil
}

func (s *Store) key(id target.Identity) string {
	return s.prefix + state.Key(id)
}

// Get implements state.Store.
func (s *Store) Get(ctx context.Context, id target.Identity) (state.Record, bool, error) {
	data, err := s.client.HGet(ctx, s.key(id), "record").Bytes()
	if errors.Is(err, redis.Nil) {
		return state.Record{}, false, nil
	}
	if err != nil {
		return state.Record{}, false, state.Wrap("get", id, err)
	}
	rec, err := state.Decode(data)
	if err != nil {
		return state.Record{}, false, state.Wrap("get", id, err)
	}
	return rec, true, nil
}

// Put implements state.Store. The hash and completed fields duplicate the
// record for operators inspecting keys by hand.
func (s *Store) Put(ctx context.Context, rec state.Record) error {
	data, err := state.Encode(rec)
	if err != nil {
		return state.Wrap("put", rec.Identity, err)
	}
	err = s.client.HSet(ctx, s.key(rec.Identity),
		"record", data,
		"hash", rec.Hash,
		"completed", rec.Completed,
	).Err()
	return state.Wrap("put", rec.Identity, err)
}

// Invalidate implements state.Store.
func (s *Store) Invalidate(ctx context.Context, id target.Identity) error {
	return state.Wrap("invalidate", id, s.client.Del(ctx, s.key(id)).Err())
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
