package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/app"
	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/config"
	"apirelay-hq/relay/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - local failover proxy for AI APIs",
	Long: `Relay is a local HTTP proxy for AI APIs. Clients point at one loopback
address; relay forwards each request to the active backend of a failover
group, retries transient failures, and switches to the next backend in the
group when one keeps failing.

Anthropic, OpenAI and Gemini clients can talk to any of the three backend
types: requests, responses and event streams are converted on the fly.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("RELAY_CONFIG"), "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, csv")
}

// loadConfig reads the configuration named by --config with RELAY_*
// environment overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) && len(verr.Errors) > 0 {
			return nil, cli.NewConfigError(verr.Errors[0].Field, verr.Error())
		}
		return nil, cli.NewConfigError("file", err.Error())
	}
	return cfg, nil
}

// openApp builds an application context for one-shot commands. Only
// warnings and errors are logged so command output stays readable.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:         "warn",
		Format:        "text",
		RedactSecrets: true,
		Writer:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger)
}

// withApp runs fn against a freshly opened application context and closes
// it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

// printResult writes data in the format selected by --output.
func printResult(w io.Writer, data any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(w, data)
}
