package migrate

import (
	"errors"
	"fmt"
)

// ErrGateClosed is returned when a run would change the schema but the
// operator has not enabled schema changes.
var ErrGateClosed = errors.New("schema changes are not allowed")

// DriftError reports an applied migration whose file changed afterwards.
type DriftError struct {
	Name     string
	Recorded string
	Current  string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("migration %s has been modified after it was applied (recorded checksum %s, current %s)",
		e.Name, shortSum(e.Recorded), shortSum(e.Current))
}

// ExecutionError reports the migration and statement that failed. Statement
// is the 1-based position of the failing statement, or 0 when the failure
// happened outside a statement (transaction handling, ledger write).
type ExecutionError struct {
	Migration string
	Statement int
	Line      int
	SQL       string
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Statement == 0 {
		return fmt.Sprintf("migration %s: %v", e.Migration, e.Err)
	}
	return fmt.Sprintf("migration %s: statement %d (line %d): %v", e.Migration, e.Statement, e.Line, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
