package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"cms_migrator/internal/audit"
	"cms_migrator/internal/db"
	"cms_migrator/internal/ledger"
	"cms_migrator/internal/source"
)

// Phase is the state of a run.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseGateCheck      Phase = "gate_check"
	PhaseAborted        Phase = "aborted"
	PhasePlanning       Phase = "planning"
	PhaseStatusReported Phase = "status_reported"
	PhaseApplying       Phase = "applying"
	PhaseFailed         Phase = "failed"
	PhaseDone           Phase = "done"
)

// Opener connects to the target database. The run closes the returned handle.
type Opener func(ctx context.Context) (*sql.DB, error)

type Options struct {
	Dialect db.Dialect
	// Roots are migration search roots, highest priority first.
	Roots       []string
	LedgerTable string
	AllowDrift  bool
	Gate        Gate
	Fs          afero.Fs
	Logger      *slog.Logger
}

// Report summarizes a run for the operator.
type Report struct {
	RunID            string    `json:"run_id" yaml:"run_id"`
	Mode             string    `json:"mode" yaml:"mode"`
	Engine           string    `json:"engine" yaml:"engine"`
	TransactionalDDL bool      `json:"transactional_ddl" yaml:"transactional_ddl"`
	LedgerTable      string    `json:"ledger_table" yaml:"ledger_table"`
	Phase            Phase     `json:"phase" yaml:"phase"`
	Plan             *Plan     `json:"plan,omitempty" yaml:"plan,omitempty"`
	Outcomes         []Outcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
	FailedMigration  string    `json:"failed_migration,omitempty" yaml:"failed_migration,omitempty"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt        time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt       time.Time `json:"finished_at" yaml:"finished_at"`
}

// Runner drives one invocation: gate check, planning, then status, dry run
// or apply.
type Runner struct {
	opts    Options
	open    Opener
	locator *source.Locator
	logger  *slog.Logger
}

func NewRunner(opts Options, open Opener) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LedgerTable == "" {
		opts.LedgerTable = ledger.DefaultTable
	}
	return &Runner{
		opts:    opts,
		open:    open,
		locator: source.NewLocator(opts.Fs, opts.Logger),
		logger:  opts.Logger,
	}
}

// Run executes mode. The returned report is never nil and reflects how far
// the run got, also when an error is returned.
func (r *Runner) Run(ctx context.Context, mode Mode) (*Report, error) {
	trail := audit.NewTrail(r.logger)
	logger := r.logger.With("run_id", trail.RunID().String(), "mode", mode.String())
	report := &Report{
		RunID:            trail.RunID().String(),
		Mode:             mode.String(),
		Engine:           r.opts.Dialect.Name(),
		TransactionalDDL: r.opts.Dialect.TransactionalDDL(),
		LedgerTable:      r.opts.LedgerTable,
		Phase:            PhaseIdle,
		StartedAt:        time.Now().UTC(),
	}
	finish := func(phase Phase, err error) (*Report, error) {
		r.enter(logger, report, phase)
		report.FinishedAt = time.Now().UTC()
		payload := map[string]any{"phase": string(phase), "outcomes": len(report.Outcomes)}
		if err != nil {
			report.Error = err.Error()
			payload["error"] = err.Error()
		}
		trail.LogEvent(ctx, audit.Event{Action: audit.ActionRunFinished, Payload: payload})
		return report, err
	}

	trail.LogEvent(ctx, audit.Event{
		Action:  audit.ActionRunStarted,
		Payload: map[string]any{"mode": mode.String(), "engine": r.opts.Dialect.Name()},
	})

	r.enter(logger, report, PhaseGateCheck)
	if err := r.opts.Gate.Allow(mode); err != nil {
		trail.LogEvent(ctx, audit.Event{Action: audit.ActionGateClosed})
		return finish(PhaseAborted, err)
	}

	database, err := r.open(ctx)
	if err != nil {
		return finish(PhaseAborted, fmt.Errorf("open database: %w", err))
	}
	defer database.Close()

	conn, err := database.Conn(ctx)
	if err != nil {
		return finish(PhaseAborted, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	r.enter(logger, report, PhasePlanning)
	lg := ledger.New(conn, r.opts.Dialect, r.opts.LedgerTable)
	if mode.Mutates() {
		if err := lg.EnsureExists(ctx); err != nil {
			return finish(PhaseAborted, err)
		}
	}
	plan, err := r.plan(ctx, lg, logger, trail)
	if err != nil {
		return finish(PhaseAborted, err)
	}
	report.Plan = plan

	if mode == ModeStatus {
		return finish(PhaseStatusReported, nil)
	}
	if plan.Empty() {
		logger.Info("nothing to do", "discovered", plan.Discovered)
		return finish(PhaseDone, nil)
	}

	if mode.Mutates() {
		if !r.opts.Dialect.TransactionalDDL() {
			logger.Warn("engine commits schema changes implicitly, a failed migration may leave partial changes behind",
				"engine", r.opts.Dialect.Name())
		}
		r.enter(logger, report, PhaseApplying)
	}

	exec := NewExecutor(conn, lg, r.opts.Dialect, logger, trail)
	outcomes, err := exec.Execute(ctx, plan, mode == ModeDryRun)
	report.Outcomes = outcomes
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			report.FailedMigration = execErr.Migration
		}
		return finish(PhaseFailed, err)
	}
	return finish(PhaseDone, nil)
}

// Inspect plans against an existing connection without changing anything.
// It backs read-only surfaces such as the status server.
func (r *Runner) Inspect(ctx context.Context, conn ledger.Conn) (*Plan, error) {
	lg := ledger.New(conn, r.opts.Dialect, r.opts.LedgerTable)
	return r.plan(ctx, lg, r.logger, nil)
}

func (r *Runner) plan(ctx context.Context, lg *ledger.Ledger, logger *slog.Logger, trail *audit.Trail) (*Plan, error) {
	migrations, err := r.locator.LoadAll(r.opts.Roots, r.opts.Dialect.Name())
	if err != nil {
		return nil, err
	}
	state, err := lg.FetchApplied(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := NewPlanner(r.opts.AllowDrift, logger).Plan(migrations, state)
	if err != nil {
		return nil, err
	}
	for _, d := range plan.Drifted {
		trail.LogEvent(ctx, audit.Event{
			Action:    audit.ActionDriftOverridden,
			Migration: d.Name,
			Payload:   map[string]any{"recorded_checksum": d.Recorded, "current_checksum": d.Current},
		})
	}
	logger.Debug("plan ready",
		"discovered", plan.Discovered,
		"applied", len(plan.Applied),
		"pending", len(plan.Pending),
		"ledger_present", plan.LedgerPresent,
	)
	return plan, nil
}

func (r *Runner) enter(logger *slog.Logger, report *Report, phase Phase) {
	logger.Debug("run phase", "from", string(report.Phase), "to", string(phase))
	report.Phase = phase
}
