package db

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"cms_migrator/internal/sqlsplit"
)

type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite" }

func (SQLite) PrepareDSN(dsn string) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", errors.New("sqlite dsn must name a database file")
	}
	return dsn, nil
}

func (SQLite) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (SQLite) Placeholder(int) string { return "?" }

func (s SQLite) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`, s.QuoteIdent(table))
}

func (SQLite) LedgerExistsQuery() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func (SQLite) TransactionalDDL() bool { return true }

func (SQLite) IsUniqueViolation(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	switch sqErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT:
		return true
	}
	return false
}

func (SQLite) SplitOptions() []sqlsplit.Option { return nil }

func (SQLite) sealed() {}
