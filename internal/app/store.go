package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/specialistvlad/deploygrid/internal/badgerstore"
	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/inmemorystore"
	"github.com/specialistvlad/deploygrid/internal/redisstore"
	"github.com/specialistvlad/deploygrid/internal/sqlstore"
	"github.com/specialistvlad/deploygrid/internal/state"
)

// OpenStore opens the state store backend selected by the URL scheme:
//
//	memory://                   process-local, lost on exit
//	sqlite://path/to/state.db   local file (default)
//	postgres://user@host/db     shared database
//	badger://path/to/dir        embedded key/value store
//	redis://host:port/db        shared key/value server
func OpenStore(ctx context.Context, rawURL string) (state.Store, error) {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, fmt.Errorf("state URL %q has no scheme", rawURL)
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Opening state store.", "backend", scheme)

	switch scheme {
	case "memory":
		logger.Warn("Using in-memory state store, execution records will not survive this process.")
		return inmemorystore.New(), nil
	case "sqlite":
		if rest == "" {
			return nil, fmt.Errorf("state URL %q has no database path", rawURL)
		}
		return sqlstore.Open(ctx, sqlstore.SQLite, rest)
	case "postgres", "postgresql":
		return sqlstore.Open(ctx, sqlstore.Postgres, rawURL)
	case "badger":
		if rest == "" {
			return nil, fmt.Errorf("state URL %q has no directory", rawURL)
		}
		return badgerstore.Open(badgerstore.Config{Path: rest, Logger: logger.With("component", "badger")})
	case "redis", "rediss":
		if _, err := url.Parse(rawURL); err != nil {
			return nil, fmt.Errorf("invalid state URL: %w", err)
		}
		return redisstore.Open(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported state backend %q", scheme)
	}
}
