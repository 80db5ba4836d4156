package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/app"
	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/config"
	"apirelay-hq/relay/pkg/telemetry/logging"
)

var runFlags struct {
	host     string
	port     int
	logLevel string
	backend  int64
	watch    bool
	dryRun   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay listener",
	Long: `Start the relay listener with the specified configuration.

The listener binds the configured loopback port. If that port is taken the
next ports are tried. The backend that was active when relay last stopped is
activated again.

Examples:
  # Start with defaults
  relay run

  # Start with a config file, reloading it on change
  relay run --config ~/.relay/config.yaml --watch

  # Override the port and start on a specific backend
  relay run --port 18000 --backend 3

  # Validate config without starting
  relay run --dry-run`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.host, "host", "", "override listen host")
	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "override listen port")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().Int64Var(&runFlags.backend, "backend", 0, "activate this backend id on start")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload the config file when it changes")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.host != "" {
		cfg.Proxy.Host = runFlags.host
	}
	if runFlags.port != 0 {
		cfg.Proxy.Port = runFlags.port
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("flags", err.Error())
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger.Logger)

	printBanner(cmd, cfg)

	a, err := app.New(cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	if runFlags.backend != 0 {
		if err := a.RestoreActive(ctx); err != nil {
			logger.Warn("could not restore active backend", "error", err)
		}
		if _, err := a.Activate(ctx, runFlags.backend); err != nil {
			a.Close()
			return cli.NewCommandError("run", fmt.Errorf("activate backend %d: %w", runFlags.backend, err))
		}
	}

	go reloadOnHangup(ctx, a)

	watchPath := ""
	if runFlags.watch {
		watchPath = cfgFile
	}
	if err := a.Run(ctx, watchPath); err != nil {
		return cli.NewCommandError("run", err)
	}
	logger.Info("relay stopped")
	return nil
}

// reloadOnHangup re-reads the config file on SIGHUP.
func reloadOnHangup(ctx context.Context, a *app.App) {
	hup, stop := cli.ReloadSignals()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := loadConfig()
			if err != nil {
				a.Logger.Error("configuration reload failed", "error", err)
				continue
			}
			a.ApplyConfig(cfg)
		}
	}
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "relay v%s\n", Version)
	if cfgFile != "" {
		fmt.Fprintf(w, "Configuration: %s\n", cfgFile)
	}
	fmt.Fprintf(w, "Database: %s (%s)\n", cfg.Storage.Path, cfg.Storage.Driver)

	slog.Debug("retry policy",
		"max_attempts", cfg.Retry.MaxAttempts,
		"base_delay", cfg.Retry.BaseDelay,
		"max_delay", cfg.Retry.MaxDelay,
	)
	if cfg.Retention.Enabled {
		slog.Debug("request log retention", "days", cfg.Retention.Days, "schedule", cfg.Retention.Schedule)
	}
}
