package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/app"
	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/config"
	"apirelay-hq/relay/pkg/retention"
	"apirelay-hq/relay/pkg/storage"
)

type requestLogList []*storage.RequestLog

func (l requestLogList) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"TIME", "BACKEND", "METHOD", "PATH", "FORMAT", "MODEL", "STATUS", "ATTEMPTS", "TOKENS", "DURATION", "ERROR"}}
	for _, r := range l {
		format := r.ClientFormat
		if r.UpstreamFormat != "" && r.UpstreamFormat != r.ClientFormat {
			format += "→" + r.UpstreamFormat
		}
		model := r.Model
		if r.MappedModel != "" && r.MappedModel != r.Model {
			model += "→" + r.MappedModel
		}
		t.Append(r.CreatedAt.Local().Format(time.DateTime), r.BackendID, r.Method, r.Path, format, model,
			r.StatusCode, r.Attempts, fmt.Sprintf("%d/%d", r.InputTokens, r.OutputTokens),
			fmt.Sprintf("%dms", r.DurationMs), r.ErrorType)
	}
	return t
}

type switchEventList []*storage.SwitchEvent

func (l switchEventList) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"TIME", "GROUP", "REASON", "FROM", "TO", "LATENCY", "ERROR"}}
	for _, ev := range l {
		from := "-"
		if ev.FromBackendID != nil {
			from = fmt.Sprint(*ev.FromBackendID)
		}
		t.Append(ev.Timestamp.Local().Format(time.DateTime), ev.GroupID, ev.Reason, from, ev.ToBackendID,
			fmt.Sprintf("%d→%dms", ev.LatencyBeforeMs, ev.LatencyAfterMs), ev.ErrorMessage)
	}
	return t
}

var logsFlags struct {
	backend int64
	group   int64
	errors  bool
	since   time.Duration
	limit   int
	days    int
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show request logs and switch history",
}

var logsRequestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Show recent proxied requests, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := storage.RequestLogFilter{
			BackendID:  logsFlags.backend,
			GroupID:    logsFlags.group,
			OnlyErrors: logsFlags.errors,
			Limit:      logsFlags.limit,
		}
		if logsFlags.since > 0 {
			f.Since = time.Now().Add(-logsFlags.since)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			logs, err := a.Store.ListRequestLogs(ctx, f)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), requestLogList(logs))
		})
	},
}

var logsSwitchesCmd = &cobra.Command{
	Use:   "switches",
	Short: "Show backend switch history, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			events, err := a.Store.ListSwitchEvents(ctx, logsFlags.group, logsFlags.limit)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), switchEventList(events))
		})
	},
}

var logsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete request logs older than the retention period now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rc := a.Config().Retention
			if cmd.Flags().Changed("days") {
				rc.Days = logsFlags.days
			}
			res, err := retention.NewPruner(a.Store, rc).Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d request log(s) and %d switch event(s)\n",
				res.RequestLogs, res.SwitchEvents)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsRequestsCmd, logsSwitchesCmd, logsPruneCmd)

	logsRequestsCmd.Flags().Int64Var(&logsFlags.backend, "backend", 0, "only this backend id")
	logsRequestsCmd.Flags().BoolVar(&logsFlags.errors, "errors", false, "only failed requests")
	logsRequestsCmd.Flags().DurationVar(&logsFlags.since, "since", 0, "only requests newer than this (e.g. 1h)")
	for _, c := range []*cobra.Command{logsRequestsCmd, logsSwitchesCmd} {
		c.Flags().Int64Var(&logsFlags.group, "group", 0, "only this group id")
		c.Flags().IntVarP(&logsFlags.limit, "limit", "n", 50, "maximum rows")
	}
	logsPruneCmd.Flags().IntVar(&logsFlags.days, "days", config.DefaultRetentionDays, "keep request logs newer than this many days (default from retention.days)")
}
