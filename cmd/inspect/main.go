package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/diffuservo/internal/logging"
	"github.com/danielpatrickdp/diffuservo/internal/session"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to diffuservo.db")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show single run detail")
	decisions := flag.Bool("decisions", false, "include the decision log in run detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/diffuservo.db [--last N] [--run id [--decisions]] [--json]")
		os.Exit(2)
	}

	store, err := session.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *runID != "" {
		err = runDetailMode(store, *runID, *decisions, *jsonOut)
	} else {
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runListMode(store *session.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}
	if jsonOut {
		return printJSON(runs)
	}

	fmt.Printf("%-10s  %-10s  %-15s  %-10s  %6s  %4s  %-20s  %s\n",
		"Run", "Status", "Outcome", "Tier", "Best", "@", "Time", "Theme")
	fmt.Printf("%-10s+-%-10s+-%-15s+-%-10s+-%6s+-%4s+-%-20s+-%s\n",
		"----------", "----------", "---------------", "----------", "------", "----", "--------------------", "-----")
	for _, r := range runs {
		fmt.Printf("%-10s  %-10s  %-15s  %-10s  %6.3f  %4d  %-20s  %s\n",
			shortID(r.ID), r.Status, orDash(string(r.Outcome)), r.InitialTier,
			r.BestScore, r.BestIteration, r.CreatedAt.Format("2006-01-02T15:04:05Z"), r.Theme)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Run        session.Run             `json:"run"`
	Iterations []session.Iteration     `json:"iterations"`
	Decisions  []logging.DecisionEntry `json:"decisions,omitempty"`
}

func runDetailMode(store *session.Store, runID string, withDecisions, jsonOut bool) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	its, err := store.ListIterations(runID)
	if err != nil {
		return err
	}
	out := detailOutput{Run: run, Iterations: its}
	if withDecisions {
		if out.Decisions, err = store.ListDecisions(runID); err != nil {
			return err
		}
	}
	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Theme:    %s\n", run.Theme)
	fmt.Printf("Status:   %s\n", run.Status)
	fmt.Printf("Outcome:  %s\n", orDash(string(run.Outcome)))
	fmt.Printf("Best:     %.3f at iteration %d\n", run.BestScore, run.BestIteration)
	if run.BestArtifact != "" {
		fmt.Printf("Artifact: %s\n", run.BestArtifact)
	}
	if run.Error != "" {
		fmt.Printf("Error:    %s\n", run.Error)
	}

	fmt.Printf("\n%-5s  %-10s  %-10s  %6s  %5s  %5s  %-9s  %s\n",
		"Iter", "State", "Tier", "Final", "Steps", "CFG", "HR", "Skip")
	for _, it := range its {
		final := "—"
		if it.Sample != nil {
			final = fmt.Sprintf("%.3f", it.Sample.Final)
		}
		hr := "off"
		if it.Params.HREnabled {
			hr = fmt.Sprintf("%.1fx/%d", it.Params.HRScale, it.Params.HRSteps)
		}
		fmt.Printf("%-5d  %-10s  %-10s  %6s  %5d  %5.1f  %-9s  %s\n",
			it.Index, it.State, it.Tier, final, it.Params.Steps, it.Params.Cfg, hr, it.SkipReason)
	}

	if withDecisions {
		fmt.Printf("\nDecisions:\n")
		for _, d := range out.Decisions {
			fmt.Printf("  %3d  %-10s  %-16s  %s\n", d.Iteration, d.TriggerType, d.Decision, d.Reason)
		}
	}
	return nil
}

// #endregion detail-mode

// #region helpers

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// #endregion helpers
