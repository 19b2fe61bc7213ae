package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type Action string

const (
	ActionRunStarted       Action = "run_started"
	ActionGateClosed       Action = "gate_closed"
	ActionDriftOverridden  Action = "drift_overridden"
	ActionMigrationApplied Action = "migration_applied"
	ActionMigrationFailed  Action = "migration_failed"
	ActionRunFinished      Action = "run_finished"
)

type Event struct {
	Action    Action
	Migration string
	Payload   map[string]any
}

// Trail writes the audit events of one run. Every event carries the run id
// so a deploy log can be filtered down to a single invocation.
type Trail struct {
	runID  uuid.UUID
	logger *slog.Logger
}

func NewTrail(logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{runID: uuid.New(), logger: logger}
}

func (t *Trail) RunID() uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return t.runID
}

// LogEvent is a no-op on a nil Trail.
func (t *Trail) LogEvent(ctx context.Context, event Event) {
	if t == nil {
		return
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	attrs := []slog.Attr{
		slog.String("run_id", t.runID.String()),
		slog.String("action", string(event.Action)),
	}
	if event.Migration != "" {
		attrs = append(attrs, slog.String("migration", event.Migration))
	}
	attrs = append(attrs, slog.Any("payload", payload))
	t.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}
