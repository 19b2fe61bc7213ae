package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cms_migrator/internal/sqlsplit"
)

// ErrUnsupportedEngine is returned by Lookup for an unknown engine name.
var ErrUnsupportedEngine = errors.New("unsupported database engine")

// Dialect captures everything that differs between the supported engines.
// The set of implementations is closed: Postgres, MySQL and SQLite.
type Dialect interface {
	// Name is the canonical engine name, also used as the overlay
	// directory name inside a migrations root.
	Name() string
	DriverName() string
	// PrepareDSN validates dsn and applies settings the engine relies on.
	PrepareDSN(dsn string) (string, error)
	QuoteIdent(name string) string
	// Placeholder returns the bind parameter marker for the n-th (1-based) argument.
	Placeholder(n int) string
	LedgerDDL(table string) string
	// LedgerExistsQuery takes the unquoted table name as its single argument
	// and returns a row count.
	LedgerExistsQuery() string
	// TransactionalDDL reports whether schema changes roll back with the
	// surrounding transaction.
	TransactionalDDL() bool
	IsUniqueViolation(err error) bool
	SplitOptions() []sqlsplit.Option

	sealed()
}

// Lookup resolves an engine name from configuration into its dialect.
func Lookup(engine string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedEngine, engine)
	}
}

// Open connects to the database described by dsn. The pool is capped at a
// single connection: a migration run owns its connection exclusively.
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	prepared, err := d.PrepareDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), prepared)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", d.Name(), err)
	}
	return db, nil
}

func quoteWith(name string, quote string) string {
	return quote + strings.ReplaceAll(name, quote, quote+quote) + quote
}
