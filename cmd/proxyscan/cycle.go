package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/registry"
	"github.com/nao1215/proxyscan/internal/report"
	"github.com/nao1215/proxyscan/internal/scheduler"
)

// NewCycleCmd creates the cycle command.
func NewCycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one full maintenance cycle (or keep running with --daemon)",
		Long: `Cycle runs a full pool maintenance pass: re-queue cooled-down proxies,
fetch from all sources, validate a batch, remove stale records, and
export the valid pool as JSON, CSV and Markdown into the data directory.

The command fails when no source produced any proxies.

With --daemon, cycle instead starts the periodic scheduler and runs
until interrupted.

Examples:
  # One full maintenance pass
  proxyscan cycle

  # Run the periodic scheduler in the foreground
  proxyscan cycle --daemon`,
		Args: cobra.NoArgs,
		RunE: runCycleCmd,
	}

	cmd.Flags().Bool("daemon", false,
		"Run the periodic scheduler instead of a single pass")

	return cmd
}

// runCycleCmd executes the cycle command.
func runCycleCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	daemon, err := cmd.Flags().GetBool("daemon")
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("failed to close database", slog.String("error", cerr.Error()))
		}
	}()

	reg := registry.New(cfg, store, registry.WithLogger(logger))

	if daemon {
		sched := scheduler.New(cfg, reg, store, scheduler.WithLogger(logger))
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	return runCycle(ctx, cmd, cfg, reg)
}

// runCycle performs one full maintenance pass.
func runCycle(ctx context.Context, cmd *cobra.Command, cfg *config.Config, reg *registry.Registry) error {
	out := cmd.OutOrStdout()

	requeued, err := reg.RetryTempInvalid(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		fmt.Fprintf(out, "Re-queued %d cooled-down proxies\n", requeued)
	}

	fetchSummary, err := reg.FetchFromSources(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Fetched %d proxies: %d new, %d duplicates (%d source errors)\n",
		fetchSummary.Fetched, fetchSummary.New, fetchSummary.Duplicates, fetchSummary.SourceErrors)

	validateSummary, err := reg.ValidateBatch(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Validated %d proxies: %d valid, %d failed, %d errors\n",
		validateSummary.Validated, validateSummary.Valid, validateSummary.Failed, validateSummary.Errors)

	removed, err := reg.CleanupStale(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		fmt.Fprintf(out, "Removed %d stale proxies\n", removed)
	}

	if _, err := reg.Statistics(ctx); err != nil {
		return err
	}
	return exportReports(ctx, cmd, cfg, reg)
}

// exportReports writes the valid pool as JSON, CSV and Markdown plus
// the lifecycle analytics into the data directory and prints a summary
// to stdout.
func exportReports(ctx context.Context, cmd *cobra.Command, cfg *config.Config, reg *registry.Registry) error {
	valid, err := reg.ListByStatus(ctx, model.StatusValid, 0)
	if err != nil {
		return err
	}
	if err := report.ExportPool(model.NewPoolReport(valid), cfg.DataDir); err != nil {
		return err
	}

	window := time.Duration(cfg.CleanupMaxAgeDays) * 24 * time.Hour
	analytics, err := reg.Lifecycle().Analyze(ctx, time.Now().Add(-window))
	if err != nil {
		return err
	}
	if err := report.ExportAnalytics(analytics, cfg.DataDir); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d valid proxies and %d lifecycle events to %s\n",
		len(valid), analytics.TotalEvents, cfg.DataDir)
	return nil
}
