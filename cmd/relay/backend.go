package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/app"
	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/storage"
	"apirelay-hq/relay/pkg/telemetry/logging"
)

// backendList is the output of backend list.
type backendList []*storage.Backend

func (l backendList) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"ID", "GROUP", "NAME", "PROVIDER", "BASE URL", "ORDER", "AVAILABLE", "LATENCY", "KEY"}}
	for _, b := range l {
		t.Append(b.ID, b.GroupID, b.Name, b.Provider, b.BaseURL, b.SortOrder, b.Available,
			fmt.Sprintf("%dms", b.LastLatencyMs), logging.RedactAPIKey(b.APIKey))
	}
	return t
}

var backendFlags struct {
	group     int64
	name      string
	provider  string
	baseURL   string
	apiKey    string
	sortOrder int
	disabled  bool
}

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Manage backends",
	Long: `Add, list, update and remove backends.

A backend is one API credential: a provider type, a base URL and a key. Each
backend belongs to exactly one group; failover only moves between backends
of the same group, in sort order.`,
}

var backendListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			backends, err := a.Store.ListBackends(ctx, backendFlags.group)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), backendList(backends))
		})
	},
}

var backendAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a backend",
	Example: `  relay backend add --group 1 --name primary --provider openai \
    --base-url https://api.openai.com/v1 --api-key sk-...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b := &storage.Backend{
			GroupID:   backendFlags.group,
			Name:      backendFlags.name,
			Provider:  storage.Provider(backendFlags.provider),
			BaseURL:   backendFlags.baseURL,
			APIKey:    backendFlags.apiKey,
			SortOrder: backendFlags.sortOrder,
			Available: !backendFlags.disabled,
		}
		if b.GroupID == 0 {
			return cli.Usagef("--group is required")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if _, err := a.Store.GetGroup(ctx, b.GroupID); err != nil {
				return err
			}
			if err := a.Store.CreateBackend(ctx, b); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), backendList{b})
		})
	},
}

var backendUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a backend",
	Long:  `Update a backend. Only the flags that are given change.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			b, err := a.Store.GetBackend(ctx, id)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("name") {
				b.Name = backendFlags.name
			}
			if flags.Changed("provider") {
				b.Provider = storage.Provider(backendFlags.provider)
			}
			if flags.Changed("base-url") {
				b.BaseURL = backendFlags.baseURL
			}
			if flags.Changed("api-key") {
				b.APIKey = backendFlags.apiKey
			}
			if flags.Changed("order") {
				b.SortOrder = backendFlags.sortOrder
			}
			if err := a.Store.UpdateBackend(ctx, b); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), backendList{b})
		})
	},
}

func setAvailableCmd(use, short string, available bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Store.SetBackendAvailable(ctx, id, available); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "backend %d available=%t\n", id, available)
				return nil
			})
		},
	}
}

var backendRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a backend",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Store.DeleteBackend(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend %d removed\n", id)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(backendCmd)
	backendCmd.AddCommand(backendListCmd, backendAddCmd, backendUpdateCmd, backendRemoveCmd,
		setAvailableCmd("enable", "Mark a backend available for failover", true),
		setAvailableCmd("disable", "Take a backend out of failover rotation", false),
	)

	backendListCmd.Flags().Int64Var(&backendFlags.group, "group", 0, "only list backends of this group")

	for _, c := range []*cobra.Command{backendAddCmd, backendUpdateCmd} {
		c.Flags().StringVar(&backendFlags.name, "name", "", "backend name")
		c.Flags().StringVar(&backendFlags.provider, "provider", "", "provider: anthropic, openai, gemini")
		c.Flags().StringVar(&backendFlags.baseURL, "base-url", "", "API base URL")
		c.Flags().StringVar(&backendFlags.apiKey, "api-key", "", "API key")
		c.Flags().IntVar(&backendFlags.sortOrder, "order", 0, "position in the group's failover order")
	}
	backendAddCmd.Flags().Int64Var(&backendFlags.group, "group", 0, "group id")
	backendAddCmd.Flags().BoolVar(&backendFlags.disabled, "disabled", false, "add the backend as unavailable")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, cli.Usagef("invalid id %q", s)
	}
	return id, nil
}
