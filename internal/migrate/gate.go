package migrate

import "fmt"

// Mode selects what a run does.
type Mode int

const (
	ModeApply Mode = iota
	ModeDryRun
	ModeStatus
)

func (m Mode) String() string {
	switch m {
	case ModeApply:
		return "apply"
	case ModeDryRun:
		return "dry-run"
	case ModeStatus:
		return "status"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Mutates reports whether the mode may change the schema or the ledger.
func (m Mode) Mutates() bool { return m == ModeApply }

// Gate is the operator switch that must be open before anything is written.
type Gate struct {
	open bool
}

func NewGate(open bool) Gate { return Gate{open: open} }

func (g Gate) Open() bool { return g.open }

// Allow returns an error wrapping ErrGateClosed when mode mutates and the
// gate is closed. Read-only modes always pass.
func (g Gate) Allow(mode Mode) error {
	if !mode.Mutates() || g.open {
		return nil
	}
	return fmt.Errorf("%w: %s requires the safety gate to be open", ErrGateClosed, mode)
}
