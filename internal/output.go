package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/starford/obsidian2bookstack/internal/engine"
	"github.com/starford/obsidian2bookstack/internal/ledger"
)

func (a *application) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *application) printReport(rep *engine.Report) error {
	if a.json {
		return a.writeJSON(rep)
	}
	writeReport(a.out, rep)
	return nil
}

func (a *application) printPlan(plan *engine.Plan, rep *engine.Report) error {
	if a.json {
		out := struct {
			Report     *engine.Report `json:"report"`
			Operations []string       `json:"operations"`
		}{Report: rep, Operations: []string{}}
		if plan != nil {
			for _, op := range plan.Ops {
				if op.Kind != engine.Skip {
					out.Operations = append(out.Operations, op.Kind.String()+" "+op.Label())
				}
			}
		}
		return a.writeJSON(out)
	}

	if plan != nil {
		if !plan.Changes() {
			fmt.Fprintln(a.out, "no changes")
		}
		if _, err := plan.WriteTo(a.out); err != nil {
			return err
		}
		if n := plan.Counts()[engine.Skip]; n > 0 {
			fmt.Fprintf(a.out, "unchanged: %d\n", n)
		}
	}
	writeWarnings(a.out, rep.Warnings)
	if rep.Fatal != "" {
		fmt.Fprintf(a.out, "fatal %s: %s\n", rep.FatalKind, rep.Fatal)
	}
	return nil
}

func (a *application) printHistory(store ledger.Store) error {
	runs, total, err := store.ListRuns(a.limit, 0)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if a.json {
		if runs == nil {
			runs = []ledger.Run{}
		}
		return a.writeJSON(map[string]any{"runs": runs, "total": total})
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tMODE\tSTATE\tEXIT\tCREATED\tUPDATED\tSKIPPED\tFAILED\tCANCELLED")
	for _, r := range runs {
		mode := "sync"
		if r.DryRun {
			mode = "plan"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), mode, r.State, r.ExitCode,
			r.Created, r.Updated, r.Skipped, r.Failed, r.Cancelled)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d of %d runs\n", len(runs), total)
	return nil
}

func writeReport(w io.Writer, rep *engine.Report) {
	c := rep.Counts()
	fmt.Fprintf(w, "run %s %s in %s: created %d, updated %d, skipped %d, failed %d, cancelled %d\n",
		rep.RunID, rep.State, rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond),
		c[engine.ActionCreated], c[engine.ActionUpdated], c[engine.ActionSkipped],
		c[engine.ActionFailed], c[engine.ActionCancelled])

	for _, n := range rep.Nodes {
		if n.ErrorKind == "" && n.Action != engine.ActionCancelled {
			continue
		}
		fmt.Fprintf(w, "  %-9s %-10s %s", n.Action, n.Level, n.Path)
		if n.ErrorKind != "" {
			fmt.Fprintf(w, ": %s: %s", n.ErrorKind, n.Error)
		}
		fmt.Fprintln(w)
	}
	writeWarnings(w, rep.Warnings)
	if rep.Fatal != "" {
		fmt.Fprintf(w, "fatal %s: %s\n", rep.FatalKind, rep.Fatal)
	}
}

func writeWarnings(w io.Writer, warnings []engine.Warning) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "warning %s: %s\n", warn.Kind, warn.Message)
	}
}
