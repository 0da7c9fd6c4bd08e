package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/orchestrator"
	"github.com/danielpatrickdp/diffuservo/internal/server"
)

// --- Command flags ---
var (
	theme       string
	lockTier    string
	seed        uint64
	themesFile  string
	concurrency int
	addr        string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the loop for one theme and print the report",
		RunE:  runRun,
	}
	batchCmd = &cobra.Command{
		Use:   "batch",
		Short: "Run every theme in a file, a few at a time",
		RunE:  runBatch,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API, metrics and background runs",
		RunE:  runServe,
	}
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stored runs older than the retention window",
		RunE:  runCleanup,
	}
)

func registerCommands() {
	runCmd.Flags().StringVarP(&theme, "theme", "t", "", "theme to generate")
	runCmd.Flags().StringVar(&lockTier, "lock-tier", "", "pin the tier (FAST, REALISTIC, STYLIZED)")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "seed for prompt lenses and render seeds (0 = random)")
	_ = runCmd.MarkFlagRequired("theme")

	batchCmd.Flags().StringVarP(&themesFile, "themes-file", "f", "", "file with one theme per line")
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent runs (default from config)")
	batchCmd.Flags().StringVar(&lockTier, "lock-tier", "", "pin the tier for every run")
	batchCmd.Flags().Uint64Var(&seed, "seed", 0, "seed for prompt lenses and render seeds (0 = random)")
	_ = batchCmd.MarkFlagRequired("themes-file")

	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")

	rootCmd.AddCommand(runCmd, batchCmd, serveCmd, cleanupCmd)
}

// #region run

func runRun(cmd *cobra.Command, args []string) error {
	lock, err := parseLock(lockTier)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()
	a.seed = seed

	ctx, stop := signalContext()
	defer stop()

	o, err := a.factory(lock)(theme)
	if err != nil {
		return err
	}
	rep, runErr := o.Run(ctx)
	if err := printJSON(rep); err != nil {
		return err
	}
	return runErr
}

// #endregion run

// #region batch

func runBatch(cmd *cobra.Command, args []string) error {
	lock, err := parseLock(lockTier)
	if err != nil {
		return err
	}
	themes, err := readThemes(themesFile)
	if err != nil {
		return err
	}
	if len(themes) == 0 {
		return fmt.Errorf("no themes in %s", themesFile)
	}
	limit := cfg.Batch.Concurrency
	if concurrency > 0 {
		limit = concurrency
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()
	a.seed = seed

	ctx, stop := signalContext()
	defer stop()

	log.Printf("[ORCH] batch: %d themes, concurrency %d", len(themes), limit)
	results, err := orchestrator.RunBatch(ctx, themes, a.factory(lock), limit)

	fmt.Printf("%-40s  %-15s  %6s  %4s  %s\n", "Theme", "Outcome", "Best", "Iter", "Error")
	failed := 0
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			failed++
			errText = r.Err.Error()
		}
		fmt.Printf("%-40s  %-15s  %6.3f  %4d  %s\n",
			truncate(r.Theme, 40), r.Report.Outcome, r.Report.Best.Score, r.Report.Iterations, errText)
	}
	fmt.Printf("\nSummary: %d themes, %d failed\n", len(results), failed)
	return err
}

// readThemes returns the non-empty lines of path. Lines starting with #
// are comments.
func readThemes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open themes file: %w", err)
	}
	defer f.Close()

	var themes []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		themes = append(themes, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read themes file: %w", err)
	}
	return themes, nil
}

// #endregion batch

// #region serve

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	listen := cfg.Server.Addr
	if addr != "" {
		listen = addr
	}

	ctx, stop := signalContext()
	defer stop()

	pool := orchestrator.NewPool(ctx, a.factory(""))
	srv := server.New(a.store, pool, a.prober, a.registry)
	err = srv.ListenAndServe(ctx, listen)

	log.Printf("[SERVER] waiting for %d live runs", pool.Live())
	pool.Wait()
	return err
}

// #endregion serve

// #region cleanup

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	age := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
	n, err := a.store.CleanupOlderThan(age)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Printf("Deleted %d runs older than %d days\n", n, cfg.Store.RetentionDays)
	return nil
}

// #endregion cleanup

// #region helpers

func parseLock(s string) (control.Tier, error) {
	if s == "" {
		return "", nil
	}
	t, ok := control.ParseTier(s)
	if !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// #endregion helpers
