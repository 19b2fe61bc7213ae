package db

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"cms_migrator/internal/sqlsplit"
)

const mysqlDuplicateEntry = 1062

type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

// PrepareDSN validates the dsn early to provide actionable errors and turns on
// parseTime so applied_at scans into time.Time.
func (MySQL) PrepareDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func (MySQL) QuoteIdent(name string) string { return quoteWith(name, "`") }

func (MySQL) Placeholder(int) string { return "?" }

func (m MySQL) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name varchar(255) NOT NULL PRIMARY KEY,
	checksum char(64) NOT NULL,
	applied_at datetime(6) NOT NULL
) ENGINE=InnoDB`, m.QuoteIdent(table))
}

func (MySQL) LedgerExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_name = ?`
}

// TransactionalDDL is false: MySQL commits implicitly around DDL.
func (MySQL) TransactionalDDL() bool { return false }

func (MySQL) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func (MySQL) SplitOptions() []sqlsplit.Option {
	return []sqlsplit.Option{sqlsplit.WithHashComments(), sqlsplit.WithBackslashEscapes()}
}

func (MySQL) sealed() {}
