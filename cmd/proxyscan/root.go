// Package main provides the entry point for the proxyscan CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/database"
	"github.com/nao1215/proxyscan/internal/log"
)

// NewRootCmd creates the root command for proxyscan.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxyscan",
		Short: "Build and maintain a pool of working public proxies",
		Long: `proxyscan builds and maintains a pool of working public proxies.

It fetches candidate lists from configured sources, validates each proxy
across connectivity, performance, geolocation, anonymity and reliability
layers, and exports the valid pool as JSON, CSV or Markdown.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .proxyscan.yml in current or home directory)")
	cmd.PersistentFlags().String("data-dir", "",
		"Directory for the proxy database and reports (default: XDG data directory)")

	// Add subcommands
	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewCycleCmd())
	cmd.AddCommand(NewStatsCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// setupLogger creates a structured logger based on verbosity setting.
// The secure handler masks proxy credentials that may appear in source
// URLs.
func setupLogger(verbose bool) *slog.Logger {
	return log.NewSecureLogger(os.Stderr, verbose)
}

// buildConfig creates a Config from the persistent flags and the
// configuration file. If the user explicitly specified a config file
// path, a missing file is an error; otherwise a missing file silently
// keeps the defaults.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg.ConfigFilePath = configPath

	found := config.FindConfigFile(configPath)
	if found != "" {
		file, err := config.LoadConfigFile(found)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", found, err)
		}
		file.ApplyTo(cfg)
	} else if configPath != "" {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// openStore opens the proxy database in the configured data directory.
func openStore(cfg *config.Config) (*database.Store, error) {
	store, err := database.Open(cfg.DataDir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy database: %w", err)
	}
	return store, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	return ctx, cancel
}
