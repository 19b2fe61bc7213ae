// Package report renders run reports for the terminal or for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"cms_migrator/internal/migrate"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (text, json, yaml)", s)
	}
}

var (
	success = color.New(color.FgGreen).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
	failure = color.New(color.FgRed, color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
)

type Printer struct {
	w      io.Writer
	format Format
}

func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format}
}

func (p *Printer) Print(r *migrate.Report) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return p.text(r)
	}
}

func (p *Printer) text(r *migrate.Report) error {
	fmt.Fprintf(p.w, "cmsmigrate %s on %s %s\n", r.Mode, r.Engine, faint("(run "+r.RunID+")"))

	if r.Plan != nil {
		p.planSummary(r)
	}

	switch r.Mode {
	case migrate.ModeStatus.String():
		if r.Plan != nil {
			if err := p.statusTable(r.Plan); err != nil {
				return err
			}
		}
	case migrate.ModeDryRun.String():
		p.dryRun(r.Outcomes)
	default:
		p.applied(r)
	}

	if r.Error != "" {
		fmt.Fprintf(p.w, "%s %s\n", failure(string(r.Phase)+":"), r.Error)
	}
	return nil
}

func (p *Printer) planSummary(r *migrate.Report) {
	plan := r.Plan
	if !plan.LedgerPresent {
		fmt.Fprintf(p.w, "%s\n", warning(fmt.Sprintf("ledger table %s does not exist yet (fresh install)", r.LedgerTable)))
	}
	if plan.Discovered == 0 {
		fmt.Fprintln(p.w, "no migration files found, nothing to do")
		return
	}
	fmt.Fprintf(p.w, "discovered %d, applied %d, pending %d\n", plan.Discovered, len(plan.Applied), len(plan.Pending))
	for _, d := range plan.Drifted {
		fmt.Fprintf(p.w, "%s %s was modified after it was applied\n", warning("drift:"), d.Name)
	}
	for _, m := range plan.Missing {
		fmt.Fprintf(p.w, "%s %s is recorded but its file is gone\n", warning("missing:"), m.Name)
	}
	if !r.TransactionalDDL && len(plan.Pending) > 0 && r.Mode != migrate.ModeStatus.String() {
		fmt.Fprintf(p.w, "%s\n", warning(r.Engine+" commits schema changes implicitly; rollback of a failed migration is best effort"))
	}
}

type row struct {
	name, state, checksum, appliedAt string
}

func (p *Printer) statusTable(plan *migrate.Plan) error {
	drifted := make(map[string]bool, len(plan.Drifted))
	for _, d := range plan.Drifted {
		drifted[d.Name] = true
	}

	var rows []row
	for _, e := range plan.Applied {
		state := "applied"
		if drifted[e.Name] {
			state = "drifted"
		}
		rows = append(rows, row{e.Name, state, short(e.Checksum), e.AppliedAt.Format(time.RFC3339)})
	}
	for _, e := range plan.Missing {
		rows = append(rows, row{e.Name, "missing", short(e.Checksum), e.AppliedAt.Format(time.RFC3339)})
	}
	for _, m := range plan.Pending {
		rows = append(rows, row{m.Name, "pending", short(m.Checksum), ""})
	}
	if len(rows) == 0 {
		return nil
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	data := pterm.TableData{{"Migration", "State", "Checksum", "Applied at"}}
	for _, r := range rows {
		data = append(data, []string{r.name, r.state, r.checksum, r.appliedAt})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(p.w, table)
	return nil
}

func (p *Printer) dryRun(outcomes []migrate.Outcome) {
	for _, o := range outcomes {
		fmt.Fprintf(p.w, "\n== %s (%d statements)\n", o.Name, len(o.Statements))
		for _, s := range o.Statements {
			fmt.Fprintf(p.w, "%s\n%s;\n", faint(fmt.Sprintf("-- statement %d, line %d", s.Pos, s.Line)), s.SQL)
		}
	}
}

func (p *Printer) applied(r *migrate.Report) {
	for _, o := range r.Outcomes {
		if o.Name == r.FailedMigration {
			fmt.Fprintf(p.w, "%s %s\n", failure("FAILED"), o.Name)
			continue
		}
		fmt.Fprintf(p.w, "%s %s (%d statements, %s)\n", success("applied"), o.Name, len(o.Statements), o.Duration.Round(time.Millisecond))
	}
	if r.Phase == migrate.PhaseDone && len(r.Outcomes) == 0 && r.Plan != nil && r.Plan.Discovered > 0 {
		fmt.Fprintln(p.w, "database is up to date")
	}
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
