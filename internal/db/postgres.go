package db

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cms_migrator/internal/sqlsplit"
)

const pgUniqueViolation = "23505"

type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

func (Postgres) PrepareDSN(dsn string) (string, error) {
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("invalid postgres dsn: %w", err)
	}
	return dsn, nil
}

func (Postgres) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (p Postgres) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name varchar(255) PRIMARY KEY,
	checksum char(64) NOT NULL,
	applied_at timestamptz NOT NULL
)`, p.QuoteIdent(table))
}

func (Postgres) LedgerExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = $1`
}

func (Postgres) TransactionalDDL() bool { return true }

func (Postgres) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (Postgres) SplitOptions() []sqlsplit.Option { return nil }

func (Postgres) sealed() {}
