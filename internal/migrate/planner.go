package migrate

import (
	"log/slog"
	"sort"

	"cms_migrator/internal/ledger"
	"cms_migrator/internal/source"
)

// Drift is an applied migration whose current checksum differs from the
// recorded one.
type Drift struct {
	Name     string `json:"name" yaml:"name"`
	Recorded string `json:"recorded_checksum" yaml:"recorded_checksum"`
	Current  string `json:"current_checksum" yaml:"current_checksum"`
}

// Plan is the outcome of comparing discovered files against the ledger.
type Plan struct {
	LedgerPresent bool `json:"ledger_present" yaml:"ledger_present"`
	Discovered    int  `json:"discovered" yaml:"discovered"`
	// Applied lists ledger entries that match a file on disk, drifted ones included.
	Applied []ledger.Entry `json:"applied" yaml:"applied"`
	// Pending is in execution order.
	Pending []source.Migration `json:"pending" yaml:"pending"`
	Drifted []Drift            `json:"drifted,omitempty" yaml:"drifted,omitempty"`
	// Missing lists ledger entries whose file no longer exists.
	Missing []ledger.Entry `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// PendingNames returns the names of the pending migrations in order.
func (p *Plan) PendingNames() []string {
	out := make([]string, 0, len(p.Pending))
	for _, m := range p.Pending {
		out = append(out, m.Name)
	}
	return out
}

// Empty reports whether there is nothing to apply.
func (p *Plan) Empty() bool { return len(p.Pending) == 0 }

type Planner struct {
	allowDrift bool
	logger     *slog.Logger
}

// NewPlanner builds a planner. With allowDrift set, a modified applied
// migration is logged as a warning instead of aborting the run. It is never
// re-applied.
func NewPlanner(allowDrift bool, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{allowDrift: allowDrift, logger: logger}
}

// Plan classifies files, which must already be in ascending name order, as
// applied, drifted or pending. It returns a *DriftError on the first drifted
// migration unless drift is allowed.
func (p *Planner) Plan(files []source.Migration, state ledger.State) (*Plan, error) {
	plan := &Plan{LedgerPresent: state.Present, Discovered: len(files)}
	onDisk := make(map[string]struct{}, len(files))
	var latest string
	for name := range state.Entries {
		if name > latest {
			latest = name
		}
	}

	for _, f := range files {
		onDisk[f.Name] = struct{}{}
		entry, ok := state.Entries[f.Name]
		if !ok {
			if f.Name < latest {
				p.logger.Warn("pending migration sorts before an applied one", "name", f.Name, "latest_applied", latest)
			}
			plan.Pending = append(plan.Pending, f)
			continue
		}
		if entry.Checksum != f.Checksum {
			if !p.allowDrift {
				return nil, &DriftError{Name: f.Name, Recorded: entry.Checksum, Current: f.Checksum}
			}
			p.logger.Warn("applied migration has been modified, continuing because drift is allowed",
				"name", f.Name,
				"recorded_checksum", entry.Checksum,
				"current_checksum", f.Checksum,
			)
			plan.Drifted = append(plan.Drifted, Drift{Name: f.Name, Recorded: entry.Checksum, Current: f.Checksum})
		}
		plan.Applied = append(plan.Applied, entry)
	}

	for name, entry := range state.Entries {
		if _, ok := onDisk[name]; !ok {
			plan.Missing = append(plan.Missing, entry)
		}
	}
	sort.Slice(plan.Missing, func(i, j int) bool { return plan.Missing[i].Name < plan.Missing[j].Name })
	for _, m := range plan.Missing {
		p.logger.Warn("applied migration not found on disk", "name", m.Name)
	}

	return plan, nil
}
