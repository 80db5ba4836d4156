package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/app"
	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/storage"
)

type groupRow struct {
	*storage.Group
	Backends  int `json:"backends"`
	Available int `json:"available"`
}

type groupList []groupRow

func (l groupList) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"ID", "NAME", "AUTO-SWITCH", "BACKENDS", "AVAILABLE"}}
	for _, g := range l {
		t.Append(g.ID, g.Name, g.AutoSwitchEnabled, g.Backends, g.Available)
	}
	return t
}

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage failover groups",
	Long: `Create and list failover groups and toggle their auto-switch flag.

Auto-switch can only be turned on for a group with at least two available
backends.`,
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			groups, err := a.Store.ListGroups(ctx)
			if err != nil {
				return err
			}
			out := make(groupList, 0, len(groups))
			for _, g := range groups {
				all, err := a.Store.ListBackends(ctx, g.ID)
				if err != nil {
					return err
				}
				row := groupRow{Group: g, Backends: len(all)}
				for _, b := range all {
					if b.Available {
						row.Available++
					}
				}
				out = append(out, row)
			}
			return printResult(cmd.OutOrStdout(), out)
		})
	},
}

var groupAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			g, err := a.Store.CreateGroup(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), groupList{{Group: g}})
		})
	},
}

var groupAutoSwitchCmd = &cobra.Command{
	Use:       "auto-switch <id> <on|off>",
	Short:     "Turn automatic failover on or off for a group",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var enabled bool
		switch args[1] {
		case "on", "true", "enable":
			enabled = true
		case "off", "false", "disable":
		default:
			return cli.Usagef("expected on or off, got %q", args[1])
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Store.SetGroupAutoSwitch(ctx, id, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group %d auto-switch=%t\n", id, enabled)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(groupCmd)
	groupCmd.AddCommand(groupListCmd, groupAddCmd, groupAutoSwitchCmd)
}
