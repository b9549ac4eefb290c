package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/registry"
)

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print proxy pool statistics",
		Long: `Stats derives and prints a point-in-time view of the proxy pool:
status counts, protocol and country distribution of the valid pool,
and the average response time.

Examples:
  # Human-readable statistics
  proxyscan stats

  # Machine-readable statistics
  proxyscan stats --json`,
		Args: cobra.NoArgs,
		RunE: runStatsCmd,
	}

	cmd.Flags().BoolP("json", "j", false, "Output statistics as JSON")

	return cmd
}

// runStatsCmd executes the stats command.
func runStatsCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
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
	stats, err := reg.Statistics(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	printStats(cmd, stats)
	return nil
}

// printStats writes the statistics in a human-readable layout.
func printStats(cmd *cobra.Command, stats *registry.Statistics) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Proxy pool at %s\n\n", stats.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	fmt.Fprintln(out, "Status:")
	for _, status := range model.AllStatuses {
		fmt.Fprintf(out, "  %-13s %d\n", strings.ToUpper(status.String())+":", stats.ByStatus[status])
	}
	fmt.Fprintf(out, "  %-13s %d\n\n", "TOTAL:", stats.Total)

	if len(stats.ByProtocol) > 0 {
		fmt.Fprintln(out, "Valid pool by protocol:")
		for _, key := range sortedStatKeys(stats.ByProtocol) {
			fmt.Fprintf(out, "  %-10s %d\n", key, stats.ByProtocol[key])
		}
		fmt.Fprintln(out)
	}
	if len(stats.ByCountry) > 0 {
		fmt.Fprintln(out, "Valid pool by country:")
		for _, key := range sortedStatKeys(stats.ByCountry) {
			fmt.Fprintf(out, "  %-22s %d\n", key, stats.ByCountry[key])
		}
		fmt.Fprintln(out)
	}
	if stats.AvgResponseTime > 0 {
		fmt.Fprintf(out, "Average response time: %.2fs\n", stats.AvgResponseTime)
	}
}

// sortedStatKeys returns map keys in lexical order for stable output.
func sortedStatKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
