package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/registry"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate one batch of untested proxies",
		Long: `Validate re-queues cooled-down temporarily-invalid proxies, then runs
the five-layer validation over one batch of untested proxies and
persists the verdicts.

Examples:
  # Validate with the configured batch size and concurrency
  proxyscan validate

  # Validate a smaller batch with a shorter per-proxy timeout
  proxyscan validate --batch-size 20 --timeout 10s`,
		Args: cobra.NoArgs,
		RunE: runValidateCmd,
	}

	cmd.Flags().Int("batch-size", 0,
		"Proxies per validation pass (0 keeps the configured value)")
	cmd.Flags().Int("concurrency", 0,
		"Concurrent validations (0 keeps the configured value)")
	cmd.Flags().DurationP("timeout", "t", 0,
		"Per-proxy validation timeout (0 keeps the configured value)")

	return cmd
}

// runValidateCmd executes the validate command.
func runValidateCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyValidateFlags(cmd, cfg); err != nil {
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

	requeued, err := reg.RetryTempInvalid(ctx)
	if err != nil {
		return err
	}

	started := time.Now()
	summary, err := reg.ValidateBatch(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Validated %d proxies in %s: %d valid, %d failed, %d errors (%d re-queued)\n",
		summary.Validated, time.Since(started).Round(time.Second),
		summary.Valid, summary.Failed, summary.Errors, requeued)
	return nil
}

// applyValidateFlags overrides config values with explicit flag values.
func applyValidateFlags(cmd *cobra.Command, cfg *config.Config) error {
	batchSize, err := cmd.Flags().GetInt("batch-size")
	if err != nil {
		return err
	}
	if batchSize > 0 {
		cfg.ValidationBatchSize = batchSize
	}

	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}
	if concurrency > 0 {
		cfg.MaxConcurrentValidations = concurrency
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	if timeout > 0 {
		cfg.ValidationTimeout = timeout
	}
	return nil
}
