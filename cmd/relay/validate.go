package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file, apply RELAY_* environment overrides and
defaults, and report every invalid field.

Examples:
  relay validate --config ~/.relay/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	_, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err == nil {
		fmt.Fprintln(w, "✓ Configuration valid")
		return nil
	}

	var verr config.ValidationError
	if !errors.As(err, &verr) {
		return cli.NewConfigError("file", err.Error())
	}

	fmt.Fprintf(w, "✗ %d invalid field(s):\n", len(verr.Errors))
	for _, fe := range verr.Errors {
		fmt.Fprintf(w, "  - %s\n", fe.Error())
	}
	return cli.NewConfigError(verr.Errors[0].Field, "configuration is invalid")
}
