// Package badgerstore persists execution records in an embedded Badger
// key/value database. Each record is one key, so a Put is a single atomic
// transaction; SyncWrites makes it durable before returning.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/target"
)

const keyPrefix = "record/"

// Config configures the Badger database.
type Config struct {
	// Path is the data directory. Required unless InMemory is set.
	Path     string
	InMemory bool
	// Logger receives Badger's internal messages; nil silences them.
	Logger *slog.Logger
}

// Store implements state.Store on Badger.
type Store struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, state.Wrap("open", target.Identity{}, errors.New("path is required for persistent database"))
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, state.Wrap("open", target.Identity{}, fmt.Errorf("create database directory %s: %w", cfg.Path, err))
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, state.Wrap("open", target.Identity{}, fmt.Errorf("open badger database: %w", err))
	}
	return &Store{db: db}, nil
}

func key(id target.Identity) []byte {
	return []byte(keyPrefix + state.Key(id))
}

// Get implements state.Store.
func (s *Store) Get(ctx context.Context, id target.Identity) (state.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return state.Record{}, false, state.Wrap("get", id, err)
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
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

// Put implements state.Store.
func (s *Store) Put(ctx context.Context, rec state.Record) error {
	if err := ctx.Err(); err != nil {
		return state.Wrap("put", rec.Identity, err)
	}
	data, err := state.Encode(rec)
	if err != nil {
		return state.Wrap("put", rec.Identity, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.Identity), data)
	})
	return state.Wrap("put", rec.Identity, err)
}

// Invalidate implements state.Store.
func (s *Store) Invalidate(ctx context.Context, id target.Identity) error {
	if err := ctx.Err(); err != nil {
		return state.Wrap("invalidate", id, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
	return state.Wrap("invalidate", id, err)
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
