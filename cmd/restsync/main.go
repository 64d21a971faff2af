package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/johndauphine/restsync/internal/checkpoint"
	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/exitcodes"
	"github.com/johndauphine/restsync/internal/logging"
	"github.com/johndauphine/restsync/internal/orchestrator"
	"github.com/johndauphine/restsync/internal/progress"
	"github.com/johndauphine/restsync/internal/schedule"
	"github.com/johndauphine/restsync/internal/tui"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "restsync",
		Usage:   "Incremental REST API to database sync",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				// No command provided, launch the dashboard
				return startTUI(c)
			}
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Sync all resources, or one with --resource",
				Action: runSync,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "resource",
						Aliases: []string{"r"},
						Usage:   "Sync only the named resource",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel workers",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Emit JSON progress updates on stderr",
					},
					&cli.StringFlag{
						Name:  "state-file",
						Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show per-resource cursors and last run outcomes",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
					&cli.BoolFlag{
						Name:  "counts",
						Usage: "Include target row counts (connects to the target)",
					},
					&cli.StringFlag{
						Name:  "state-file",
						Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
					},
				},
			},
			{
				Name:  "history",
				Usage: "List recent sync runs, or view details of a specific run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of runs to list",
					},
					&cli.StringFlag{
						Name:  "state-file",
						Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
					},
				},
				Action: showHistory,
			},
			{
				Name:   "cursors",
				Usage:  "List committed cursors",
				Action: showCursors,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "state-file",
						Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
					},
				},
			},
			{
				Name:      "reset-cursor",
				Usage:     "Clear a resource's cursor so the next sync backfills",
				ArgsUsage: "<resource>",
				Action:    resetCursor,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "state-file",
						Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
					},
				},
			},
			{
				Name:      "show",
				Usage:     "Print sample rows from a resource's target table",
				ArgsUsage: "<resource>",
				Action:    showRows,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 10,
						Usage: "Maximum number of rows to print",
					},
					&cli.StringFlag{
						Name:  "state-file",
						Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
					},
				},
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration with secrets redacted",
				Action: showConfig,
			},
			{
				Name:      "auth",
				Usage:     "Store an API token for an auth profile",
				ArgsUsage: "<profile>",
				Action:    saveToken,
				Subcommands: []*cli.Command{
					{
						Name:      "delete",
						Usage:     "Delete a stored token",
						ArgsUsage: "<profile>",
						Action:    deleteToken,
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run syncs on a cron schedule until interrupted",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "schedule",
						Usage: "Cron expression (overrides sync.schedule)",
					},
					&cli.BoolFlag{
						Name:  "immediate",
						Usage: "Run one sync at startup before waiting for ticks",
					},
					&cli.StringFlag{
						Name:  "state-file",
						Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

func startTUI(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	opts, err := storeOptions(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	return tui.Run(ctx, cfg, orch)
}

func runSync(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("workers") {
		cfg.Sync.Workers = c.Int("workers")
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts, err := storeOptions(c)
	if err != nil {
		return err
	}
	jsonOut := c.Bool("output-json") || c.String("output-file") != ""
	if c.Bool("progress") {
		opts.Reporter = progress.NewJSONReporter(os.Stderr, time.Second)
	} else if !jsonOut {
		opts.Tracker = progress.New()
	}

	orch, err := orchestrator.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	var report *orchestrator.RunReport
	var runErr error
	if name := c.String("resource"); name != "" {
		report, runErr = orch.SyncResource(ctx, name)
	} else {
		report, runErr = orch.SyncAll(ctx)
	}

	if jsonOut && report != nil {
		if err := outputJSON(c, report); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}

	return runErr
}

func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts, err := storeOptions(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	statuses, err := orch.Status()
	if err != nil {
		return err
	}

	var counts map[string]int64
	if c.Bool("counts") {
		counts, err = orch.RowCounts(ctx)
		if err != nil {
			return err
		}
	}

	if c.Bool("json") {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%-20s %-28s %-9s %12s  %s\n", "Resource", "Cursor", "Outcome", "Rows", "Last Run")
	for _, st := range statuses {
		cursor := st.Cursor
		if cursor == "" {
			cursor = "(backfill pending)"
		}
		outcome := st.LastOutcome
		if outcome == "" {
			outcome = "never"
		}
		lastRun := ""
		if st.LastRunAt != nil {
			lastRun = st.LastRunAt.Local().Format("2006-01-02 15:04:05")
		}
		rows := st.RowsWritten
		if counts != nil {
			rows = counts[st.Resource]
		}
		fmt.Printf("%-20s %-28s %-9s %12d  %s\n", st.Resource, cursor, outcome, rows, lastRun)
		if st.LastError != "" {
			fmt.Printf("    error: %s\n", st.LastError)
		}
	}
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts, err := storeOptions(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	if runID := c.String("run"); runID != "" {
		return showRunDetails(orch, runID)
	}

	runs, err := orch.History(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-26s %-16s %-8s %10s %10s  %s\n", "Run ID", "Resource", "Outcome", "Seen", "Written", "Started")
	for _, run := range runs {
		fmt.Printf("%-26s %-16s %-8s %10d %10d  %s\n",
			run.ID, run.Resource, run.Outcome,
			run.RowsSeen, run.RowsWritten,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showRunDetails(orch *orchestrator.Orchestrator, runID string) error {
	run, err := orch.RunDetails(runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run:          %s\n", run.ID)
	fmt.Printf("Resource:     %s\n", run.Resource)
	fmt.Printf("Outcome:      %s\n", run.Outcome)
	fmt.Printf("Started:      %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Printf("Completed:    %s\n", run.CompletedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Duration:     %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Printf("Start cursor: %s\n", orDash(run.StartCursor))
	fmt.Printf("End cursor:   %s\n", orDash(run.EndCursor))
	fmt.Printf("Rows seen:    %d\n", run.RowsSeen)
	fmt.Printf("Rows filtered:%d\n", run.RowsFiltered)
	fmt.Printf("Rows written: %d\n", run.RowsWritten)
	if run.Error != "" {
		fmt.Printf("Error:        %s\n", run.Error)
	}
	return nil
}

func showCursors(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts, err := storeOptions(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	cursors, err := orch.Cursors()
	if err != nil {
		return err
	}
	if len(cursors) == 0 {
		fmt.Println("No cursors committed")
		return nil
	}
	fmt.Printf("%-20s %-32s %s\n", "Resource", "Cursor", "Updated")
	for _, cur := range cursors {
		fmt.Printf("%-20s %-32s %s\n", cur.Resource, cur.Position,
			cur.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func resetCursor(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: restsync reset-cursor <resource>")
	}
	name := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts, err := storeOptions(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	if err := orch.ResetCursor(name); err != nil {
		return err
	}
	fmt.Printf("Cursor for %q cleared; next sync will backfill from the initial position\n", name)
	return nil
}

func showRows(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: restsync show <resource>")
	}
	name := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts, err := storeOptions(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	cols, rows, err := orch.Sample(ctx, name, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No rows")
		return nil
	}

	fmt.Println(strings.Join(cols, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	return nil
}

func showConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg.Sanitized())
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func saveToken(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: restsync auth <profile>")
	}
	profile := c.Args().First()

	fmt.Fprintf(os.Stderr, "API token for %q: ", profile)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return fmt.Errorf("empty token")
	}

	state, err := openState(c)
	if err != nil {
		return err
	}
	defer state.Close()

	if err := state.SaveToken(profile, token); err != nil {
		return err
	}
	fmt.Printf("Saved token for profile %q\n", profile)
	return nil
}

func deleteToken(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: restsync auth delete <profile>")
	}
	profile := c.Args().First()

	state, err := openState(c)
	if err != nil {
		return err
	}
	defer state.Close()

	if err := state.DeleteToken(profile); err != nil {
		return err
	}
	fmt.Printf("Deleted token for profile %q\n", profile)
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	spec := cfg.Sync.Schedule
	if c.IsSet("schedule") {
		spec = c.String("schedule")
	}
	if spec == "" {
		return fmt.Errorf("no schedule: set sync.schedule or pass --schedule")
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts, err := storeOptions(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	runOnce := func(ctx context.Context) {
		if _, err := orch.SyncAll(ctx); err != nil {
			logging.Error("Scheduled sync failed: %v", err)
		}
	}

	sched, err := schedule.New(spec, runOnce)
	if err != nil {
		return err
	}

	if c.Bool("immediate") {
		runOnce(ctx)
	}
	if err := sched.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	logging.Info("Scheduler stopped")
	return nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. In-flight
// batches finish before the pipeline commits the prefix cursor and stops.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Committing cursor for completed batches...")
		cancel()
	}()

	return ctx, cancel
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !c.IsSet("config") {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// storeOptions builds orchestrator options honoring --state-file.
func storeOptions(c *cli.Context) (orchestrator.Options, error) {
	var opts orchestrator.Options
	if sf := stateFile(c); sf != "" {
		store, err := checkpoint.NewFileState(sf)
		if err != nil {
			return opts, err
		}
		opts.Store = store
	}
	return opts, nil
}

// openState opens the SQLite state backend directly, for token management.
func openState(c *cli.Context) (*checkpoint.State, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return checkpoint.New(cfg.Sync.DataDir)
}

// stateFile returns the state file path from the context.
// Checks both command-level and global flags.
func stateFile(c *cli.Context) string {
	for _, ctx := range c.Lineage() {
		if ctx == nil {
			continue
		}
		if sf := ctx.String("state-file"); sf != "" {
			return sf
		}
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// outputJSON writes the run report as JSON to stdout and/or a file
func outputJSON(c *cli.Context, report *orchestrator.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
