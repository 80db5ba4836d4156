/*
Package cli provides command-line helpers for the relay command.

Output Formatting:

Command results are written as aligned text, JSON or CSV. Results that have
a table form implement Tabular:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, backends); err != nil {
		return err
	}

Errors and Exit Codes:

Commands return *ConfigError, *UsageError or *CommandError; ExitCode maps
them to the process exit status.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
