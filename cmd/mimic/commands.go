package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"mimic/internal/app"
	"mimic/internal/calendar"
	"mimic/internal/logger"
	"mimic/internal/orchestrator"
	"mimic/internal/store/gormstore"

	"github.com/google/subcommands"
)

type runCmd struct {
	dryRun bool
	date   string
	asJSON bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run the daily filing-to-trade job once" }
func (*runCmd) Usage() string {
	return `mimic run [-dry-run] [-date YYYY-MM-DD] [-json]

  Checks the trading calendar, claims today's job, collects filings since the
  last checkpoint and places one order per new disclosed buy. Exits 0 when the
  job succeeded or had nothing to do, 1 when it failed or any trade failed.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.dryRun, "dry-run", false, "evaluate everything but write nothing and place no orders")
	f.StringVar(&c.date, "date", "", "trading date to run for (defaults to today in the exchange timezone)")
	f.BoolVar(&c.asJSON, "json", false, "print the run summary as JSON")
}

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	opts := orchestrator.Options{DryRun: c.dryRun}
	if strings.TrimSpace(c.date) != "" {
		d, err := calendar.ParseDate(c.date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -date: %v\n", err)
			return subcommands.ExitUsageError
		}
		opts.Date = d
	}
	cfg, closeLog, err := loadConfig()
	defer closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return subcommands.ExitFailure
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init app: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	sum, err := a.RunOnce(ctx, opts)
	if c.asJSON {
		fmt.Println(string(sum.JSON()))
	}
	if err != nil {
		logger.Errorf("run failed: %v", err)
	}
	return exitStatus(sum, err)
}

// exitStatus maps a run to the process exit code: skipped and clean runs
// succeed, anything that failed does not.
func exitStatus(sum orchestrator.Summary, err error) subcommands.ExitStatus {
	if err != nil || sum.HasFailures() {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type serveCmd struct{}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the daily scheduler and the status API" }
func (*serveCmd) Usage() string {
	return `mimic serve

  Runs the job every trading day at schedule.run_at, serves the status API on
  app.http_addr and reloads the watch list when its file changes.
`
}

func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (*serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, closeLog, err := loadConfig()
	defer closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return subcommands.ExitFailure
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init app: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()
	if err := a.Serve(ctx); err != nil {
		logger.Errorf("serve: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type statusCmd struct {
	limit int
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show recent job runs and open trades" }
func (*statusCmd) Usage() string {
	return `mimic status [-limit N]
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "limit", 10, "number of job runs to show")
}

func (c *statusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, closeLog, err := loadConfig()
	defer closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return subcommands.ExitFailure
	}
	st, err := gormstore.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return subcommands.ExitFailure
	}
	defer st.Close()

	runs, err := st.JobRuns().ListRecent(ctx, c.limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list job runs: %v\n", err)
		return subcommands.ExitFailure
	}
	open, err := st.Trades().ListOpen(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list open trades: %v\n", err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tSTATUS\tATTEMPT\tSTARTED\tSUBMITTED\tFAILED\tERROR")
	for _, r := range runs {
		var counts struct {
			Counts orchestrator.Counts `json:"counts"`
		}
		_ = json.Unmarshal(r.SummaryJSON, &counts)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
			r.TradingDate, r.Status, r.Attempt,
			time.UnixMilli(r.StartedAtUnix).UTC().Format(time.RFC3339),
			counts.Counts.Submitted, counts.Counts.Failed, r.Error)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPEN TRADE\tSYMBOL\tSTATUS\tORDER")
	for _, t := range open {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.SourceHash, t.Symbol, t.Status, t.VenueOrderID)
	}
	if err := w.Flush(); err != nil {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
