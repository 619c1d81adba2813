// Package sqlstore persists execution records in a SQL database. SQLite is
// the default backend for local runs; Postgres serves teams sharing one
// state across machines.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/target"
)

const (
	selectQuery = `SELECT hash, completed, completed_at, result, run_id FROM execution_records WHERE network = ? AND contract = ?`
	upsertQuery = `INSERT INTO execution_records (network, contract, hash, completed, completed_at, result, run_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (network, contract) DO UPDATE SET
	hash = excluded.hash,
	completed = excluded.completed,
	completed_at = excluded.completed_at,
	result = excluded.result,
	run_id = excluded.run_id`
	deleteQuery = `DELETE FROM execution_records WHERE network = ? AND contract = ?`
)

// Store implements state.Store on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database described by dsn and prepares the schema.
// For SQLite, dsn is a file path whose parent directory is created on
// demand; ":memory:" gives a throwaway database.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if dialect.Name == SQLite.Name && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, state.Wrap("open", target.Identity{}, fmt.Errorf("creating state directory: %w", err))
			}
		}
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, state.Wrap("open", target.Identity{}, err)
	}
	if dialect.Name == SQLite.Name {
		// SQLite allows a single writer; serialize through one connection.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range dialect.pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, state.Wrap("open", target.Identity{}, fmt.Errorf("%s: %w", pragma, err))
		}
	}

	s, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool and creates the records table if it
// does not exist yet. The store takes ownership of db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if _, err := db.ExecContext(ctx, dialect.schema); err != nil {
		return nil, state.Wrap("migrate", target.Identity{}, err)
	}
	return s, nil
}

// Get implements state.Store.
func (s *Store) Get(ctx context.Context, id target.Identity) (state.Record, bool, error) {
	var (
		rec         = state.Record{Identity: id}
		completedAt sql.NullString
		result      sql.NullString
		runID       sql.NullString
	)
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectQuery), id.Network, id.Contract)
	err := row.Scan(&rec.Hash, &rec.Completed, &completedAt, &result, &runID)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Record{}, false, nil
	}
	if err != nil {
		return state.Record{}, false, state.Wrap("get", id, err)
	}

	if completedAt.Valid && completedAt.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return state.Record{}, false, state.Wrap("get", id, fmt.Errorf("parsing completed_at: %w", err))
		}
		rec.CompletedAt = ts
	}
	if result.Valid && result.String != "" {
		rec.Result = json.RawMessage(result.String)
	}
	rec.RunID = runID.String
	return rec, true, nil
}

// Put implements state.Store. The upsert is a single statement, so the
// overwrite is atomic; SQLite runs with synchronous=FULL so the commit is
// on disk before Put returns.
func (s *Store) Put(ctx context.Context, rec state.Record) error {
	var completedAt sql.NullString
	if !rec.CompletedAt.IsZero() {
		completedAt = sql.NullString{String: rec.CompletedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	var result sql.NullString
	if len(rec.Result) > 0 {
		result = sql.NullString{String: string(rec.Result), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(upsertQuery),
		rec.Identity.Network, rec.Identity.Contract, rec.Hash, rec.Completed, completedAt, result, rec.RunID,
	)
	return state.Wrap("put", rec.Identity, err)
}

// Invalidate implements state.Store.
func (s *Store) Invalidate(ctx context.Context, id target.Identity) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(deleteQuery), id.Network, id.Contract)
	return state.Wrap("invalidate", id, err)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
