// Package ledger keeps the durable, append-only record of applied migrations.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cms_migrator/internal/db"
)

// DefaultTable is the ledger table name used when none is configured.
const DefaultTable = "schema_migrations"

// ErrDuplicateEntry means a migration name was already recorded. Seeing it
// during a run indicates another operator applied the same migration
// concurrently.
var ErrDuplicateEntry = errors.New("migration already recorded in ledger")

// Entry is one applied migration.
type Entry struct {
	Name      string    `json:"name" yaml:"name"`
	Checksum  string    `json:"checksum" yaml:"checksum"`
	AppliedAt time.Time `json:"applied_at" yaml:"applied_at"`
}

// State is the ledger content at the start of a run. A ledger table that does
// not exist yet is reported as Present == false with no entries.
type State struct {
	Present bool
	Entries map[string]Entry
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn is what the ledger needs from the run's connection.
type Conn interface {
	Execer
	Querier
}

// Ledger reads and writes the ledger table. One instance is built per run.
type Ledger struct {
	conn    Conn
	dialect db.Dialect
	table   string
	now     func() time.Time
}

func New(conn Conn, dialect db.Dialect, table string) *Ledger {
	if table == "" {
		table = DefaultTable
	}
	return &Ledger{
		conn:    conn,
		dialect: dialect,
		table:   table,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) Table() string { return l.table }

// EnsureExists creates the ledger table if it is missing. It mutates the
// schema and must only be called once the safety gate has been passed.
func (l *Ledger) EnsureExists(ctx context.Context) error {
	if _, err := l.conn.ExecContext(ctx, l.dialect.LedgerDDL(l.table)); err != nil {
		return fmt.Errorf("create ledger table %s: %w", l.table, err)
	}
	return nil
}

// Exists reports whether the ledger table is present.
func (l *Ledger) Exists(ctx context.Context) (bool, error) {
	var n int
	if err := l.conn.QueryRowContext(ctx, l.dialect.LedgerExistsQuery(), l.table).Scan(&n); err != nil {
		return false, fmt.Errorf("check ledger table %s: %w", l.table, err)
	}
	return n > 0, nil
}

// FetchApplied returns every recorded migration keyed by name.
func (l *Ledger) FetchApplied(ctx context.Context) (State, error) {
	state := State{Entries: map[string]Entry{}}

	present, err := l.Exists(ctx)
	if err != nil {
		return state, err
	}
	if !present {
		return state, nil
	}
	state.Present = true

	query := fmt.Sprintf(`SELECT name, checksum, applied_at FROM %s ORDER BY name`, l.dialect.QuoteIdent(l.table))
	rows, err := l.conn.QueryContext(ctx, query)
	if err != nil {
		return state, fmt.Errorf("read ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Checksum, &e.AppliedAt); err != nil {
			return state, fmt.Errorf("scan ledger entry: %w", err)
		}
		state.Entries[e.Name] = e
	}
	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("read ledger: %w", err)
	}
	return state, nil
}

// Record appends an entry for name. tx is the transaction the migration's
// statements ran in, so the entry commits or rolls back with them.
func (l *Ledger) Record(ctx context.Context, tx Conn, name, checksum string) (Entry, error) {
	table := l.dialect.QuoteIdent(l.table)

	var n int
	check := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE name = %s`, table, l.dialect.Placeholder(1))
	if err := tx.QueryRowContext(ctx, check, name).Scan(&n); err != nil {
		return Entry{}, fmt.Errorf("check ledger for %s: %w", name, err)
	}
	if n > 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}

	entry := Entry{Name: name, Checksum: checksum, AppliedAt: l.now()}
	insert := fmt.Sprintf(`INSERT INTO %s (name, checksum, applied_at) VALUES (%s, %s, %s)`,
		table, l.dialect.Placeholder(1), l.dialect.Placeholder(2), l.dialect.Placeholder(3))
	if _, err := tx.ExecContext(ctx, insert, entry.Name, entry.Checksum, entry.AppliedAt); err != nil {
		if l.dialect.IsUniqueViolation(err) {
			return Entry{}, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
		}
		return Entry{}, fmt.Errorf("record %s in ledger: %w", name, err)
	}
	return entry, nil
}
