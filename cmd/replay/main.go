package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/diffuservo/internal/replay"
	"github.com/danielpatrickdp/diffuservo/internal/session"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to diffuservo.db (DB mode)")
	runID := flag.String("run", "", "run ID to replay (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	exportPath := flag.String("export", "", "write the run as a fixture to this path instead of replaying (DB mode)")
	flag.Parse()

	dbMode := *dbPath != "" && *runID != ""
	if dbMode == (*fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/diffuservo.db --run <id> [--export fixture.json]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath)
	} else {
		exitCode = runDBMode(*dbPath, *runID, *exportPath)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region modes

func runFixtureMode(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	return printComparison(f, replay.Replay(context.Background(), f))
}

func runDBMode(dbPath, runID, exportPath string) int {
	store, err := session.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()

	run, err := store.GetRun(runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get run: %v\n", err)
		return 2
	}
	iterations, err := store.ListIterations(runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list iterations: %v\n", err)
		return 2
	}
	if len(iterations) == 0 {
		fmt.Fprintf(os.Stderr, "run %s has no iterations\n", runID)
		return 2
	}

	f := replay.FromSession(run, iterations)
	if exportPath != "" {
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal fixture: %v\n", err)
			return 1
		}
		if err := os.WriteFile(exportPath, append(data, '\n'), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write fixture: %v\n", err)
			return 1
		}
		fmt.Printf("Exported %d iterations of run %s to %s\n", len(iterations), runID, exportPath)
		return 0
	}
	return printComparison(f, replay.Replay(context.Background(), f))
}

// #endregion modes

// #region output

// printComparison prints the per-iteration tiers and the expectation check.
// Returns 1 when the replay diverges from the fixture.
func printComparison(f *replay.Fixture, res replay.Result) int {
	fmt.Printf("%s\n\n", f.Description)
	fmt.Printf("%-6s| %-10s| %-10s| %-10s| %s\n", "Iter", "State", "Tier", "Final", "Skip")
	fmt.Printf("%-6s+%-11s+%-11s+%-11s+%s\n", "------", "-----------", "-----------", "-----------", "------")
	for _, it := range res.Iterations {
		final := "-"
		if it.Sample != nil {
			final = fmt.Sprintf("%.3f", it.Sample.Final)
		}
		fmt.Printf("%-6d| %-10s| %-10s| %-10s| %s\n", it.Index, it.State, it.Tier, final, it.SkipReason)
	}

	s := replay.Summarize(res)
	fmt.Printf("\nOutcome: %s  best=%.3f@%d  state=%s\n",
		res.Report.Outcome, res.Report.Best.Score, res.Report.Best.Iteration, res.Report.FinalState)
	fmt.Printf("Decisions: %d transitions, %d adjusts, %d rollbacks, %d tier changes\n",
		s.Transitions, s.Adjusts, s.Rollbacks, s.TierChanges)

	diffs := f.Check(res)
	if len(diffs) == 0 {
		fmt.Println("\nSummary: replay matches")
		return 0
	}
	fmt.Printf("\nSummary: %d divergences\n", len(diffs))
	for _, d := range diffs {
		fmt.Printf("  DIFF %s\n", d)
	}
	return 1
}

// #endregion output
