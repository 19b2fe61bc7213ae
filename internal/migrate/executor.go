package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"cms_migrator/internal/audit"
	"cms_migrator/internal/db"
	"cms_migrator/internal/ledger"
	"cms_migrator/internal/source"
	"cms_migrator/internal/sqlsplit"
)

// Conn is the connection a run executes on. *sql.DB and *sql.Conn satisfy it.
type Conn interface {
	ledger.Conn
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Outcome describes what happened to one planned migration.
type Outcome struct {
	Name       string               `json:"name" yaml:"name"`
	Checksum   string               `json:"checksum" yaml:"checksum"`
	Statements []sqlsplit.Statement `json:"statements" yaml:"statements"`
	DryRun     bool                 `json:"dry_run" yaml:"dry_run"`
	AppliedAt  time.Time            `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
	Duration   time.Duration        `json:"duration_ns,omitempty" yaml:"duration,omitempty"`
}

type Executor struct {
	conn    Conn
	ledger  *ledger.Ledger
	dialect db.Dialect
	logger  *slog.Logger
	trail   *audit.Trail
}

// NewExecutor builds an executor. conn and l may be nil when only dry runs
// are performed.
func NewExecutor(conn Conn, l *ledger.Ledger, d db.Dialect, logger *slog.Logger, trail *audit.Trail) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{conn: conn, ledger: l, dialect: d, logger: logger, trail: trail}
}

// Execute runs the pending migrations of plan in order and stops at the first
// failure. Migrations applied before the failure stay committed and recorded.
// The returned outcomes cover every migration that was attempted, the failed
// one last. With dryRun set nothing touches the database.
func (e *Executor) Execute(ctx context.Context, plan *Plan, dryRun bool) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(plan.Pending))
	for _, m := range plan.Pending {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		if dryRun {
			outcomes = append(outcomes, Outcome{
				Name:       m.Name,
				Checksum:   m.Checksum,
				Statements: e.split(m),
				DryRun:     true,
			})
			continue
		}

		out, err := e.apply(ctx, m)
		outcomes = append(outcomes, out)
		if err != nil {
			e.logger.Error("migration failed", "name", m.Name, "error", err)
			e.trail.LogEvent(ctx, audit.Event{
				Action:    audit.ActionMigrationFailed,
				Migration: m.Name,
				Payload:   map[string]any{"error": err.Error()},
			})
			return outcomes, err
		}
		e.logger.Info("migration applied",
			"name", m.Name,
			"statements", len(out.Statements),
			"duration_ms", out.Duration.Milliseconds(),
		)
		e.trail.LogEvent(ctx, audit.Event{
			Action:    audit.ActionMigrationApplied,
			Migration: m.Name,
			Payload:   map[string]any{"checksum": m.Checksum, "statements": len(out.Statements)},
		})
	}
	return outcomes, nil
}

func (e *Executor) split(m source.Migration) []sqlsplit.Statement {
	return sqlsplit.Split(m.Content, e.dialect.SplitOptions()...)
}

func (e *Executor) apply(ctx context.Context, m source.Migration) (Outcome, error) {
	stmts := e.split(m)
	out := Outcome{Name: m.Name, Checksum: m.Checksum, Statements: stmts}
	start := time.Now()

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return out, &ExecutionError{Migration: m.Name, Err: fmt.Errorf("begin transaction: %w", err)}
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
			_ = tx.Rollback()
			return out, &ExecutionError{Migration: m.Name, Statement: stmt.Pos, Line: stmt.Line, SQL: stmt.SQL, Err: err}
		}
	}

	entry, err := e.ledger.Record(ctx, tx, m.Name, m.Checksum)
	if err != nil {
		_ = tx.Rollback()
		return out, &ExecutionError{Migration: m.Name, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return out, &ExecutionError{Migration: m.Name, Err: fmt.Errorf("commit: %w", err)}
	}

	out.AppliedAt = entry.AppliedAt
	out.Duration = time.Since(start)
	return out, nil
}
