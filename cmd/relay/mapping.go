package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/app"
	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/mapping"
	"apirelay-hq/relay/pkg/storage"
)

type mappingList []*storage.ModelMapping

func (l mappingList) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"ID", "SOURCE", "TARGET", "DIRECTION", "PRIORITY", "ENABLED"}}
	for _, m := range l {
		t.Append(m.ID, m.SourceModel, m.TargetModel, m.Direction, m.Priority, m.Enabled)
	}
	return t
}

var mappingFlags struct {
	from     string
	to       string
	priority int
	disabled bool
}

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage model name mappings",
	Long: `Model mappings rename the model in converted requests, for example
claude-sonnet-4 to gpt-4o when an Anthropic client is served by an OpenAI
backend. The direction is <client>_to_<backend> or "bidirectional"; the
highest priority enabled rule wins.`,
}

var mappingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List model mappings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rules, err := a.Store.ListModelMappings(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), mappingList(rules))
		})
	},
}

var mappingAddCmd = &cobra.Command{
	Use:     "add <source-model> <target-model>",
	Short:   "Add a model mapping",
	Example: `  relay mapping add claude-sonnet-4 gpt-4o --from anthropic --to openai --priority 10`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "bidirectional"
		if mappingFlags.from != "" || mappingFlags.to != "" {
			if mappingFlags.from == "" || mappingFlags.to == "" {
				return cli.Usagef("--from and --to must be given together")
			}
			direction = mapping.Direction(mappingFlags.from, mappingFlags.to)
		}
		m := &storage.ModelMapping{
			SourceModel: args[0],
			TargetModel: args[1],
			Direction:   direction,
			Priority:    mappingFlags.priority,
			Enabled:     !mappingFlags.disabled,
			Custom:      true,
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Store.CreateModelMapping(ctx, m); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), mappingList{m})
		})
	},
}

var mappingRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a model mapping",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Store.DeleteModelMapping(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mapping %d removed\n", id)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(mappingCmd)
	mappingCmd.AddCommand(mappingListCmd, mappingAddCmd, mappingRemoveCmd)

	mappingAddCmd.Flags().StringVar(&mappingFlags.from, "from", "", "client format: anthropic, openai, gemini")
	mappingAddCmd.Flags().StringVar(&mappingFlags.to, "to", "", "backend format: anthropic, openai, gemini")
	mappingAddCmd.Flags().IntVar(&mappingFlags.priority, "priority", 0, "higher wins when several rules match")
	mappingAddCmd.Flags().BoolVar(&mappingFlags.disabled, "disabled", false, "add the rule disabled")
}
