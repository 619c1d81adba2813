package sqlstore

import (
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name string
	// Driver is the database/sql driver name.
	Driver string
	// schema creates the records table.
	schema string
	// pragmas run once after the connection is opened.
	pragmas []string
	// numbered placeholders ($1, $2) instead of '?'.
	numbered bool
}

var (
	// SQLite stores records in a local file through modernc.org/sqlite.
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS execution_records (
	network TEXT NOT NULL,
	contract TEXT NOT NULL,
	hash TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	completed_at TEXT,
	result TEXT,
	run_id TEXT,
	PRIMARY KEY (network, contract)
)`,
		pragmas: []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=FULL",
			"PRAGMA busy_timeout=5000",
		},
	}

	// Postgres stores records in a shared database through lib/pq.
	Postgres = Dialect{
		Name:   "postgres",
		Driver: "postgres",
		schema: `CREATE TABLE IF NOT EXISTS execution_records (
	network TEXT NOT NULL,
	contract TEXT NOT NULL,
	hash TEXT NOT NULL,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	completed_at TEXT,
	result TEXT,
	run_id TEXT,
	PRIMARY KEY (network, contract)
)`,
		numbered: true,
	}
)

// rebind rewrites '?' placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
