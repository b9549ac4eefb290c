package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nao1215/proxyscan/internal/registry"
)

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch proxy candidates from the configured sources",
		Long: `Fetch pulls candidate proxies from every configured source and stores
new ones as untested. Sources run in parallel; a failing source is
skipped and the command only fails when every source fails.

Examples:
  # Fetch using the sources from the configuration file
  proxyscan fetch

  # Fetch with a custom configuration file
  proxyscan fetch -c myconfig.yml`,
		Args: cobra.NoArgs,
		RunE: runFetchCmd,
	}
	cmd.Flags().Int("max-proxies", 0,
		"Cap on proxies stored per fetch pass (0 keeps the configured value)")
	return cmd
}

// runFetchCmd executes the fetch command.
func runFetchCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if maxProxies, err := cmd.Flags().GetInt("max-proxies"); err != nil {
		return err
	} else if maxProxies > 0 {
		cfg.MaxProxiesPerFetch = maxProxies
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
	summary, err := reg.FetchFromSources(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Fetched %d proxies: %d new, %d duplicates (%d source errors)\n",
		summary.Fetched, summary.New, summary.Duplicates, summary.SourceErrors)
	return nil
}
