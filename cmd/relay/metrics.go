package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/server"
)

type statusView server.StatusReport

func (s statusView) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"FIELD", "VALUE"}}
	t.Append("listener", s.Listener)
	t.Append("address", s.Address)
	t.Append("active group", s.Runtime.ActiveGroupID)
	t.Append("active backend", s.Runtime.ActiveBackendID)
	t.Append("requests", s.Stats.TotalRequests)
	t.Append("successful", s.Stats.SuccessfulRequests)
	t.Append("failed", s.Stats.FailedRequests)
	t.Append("streaming", s.Stats.StreamingRequests)
	t.Append("conversions", s.Stats.Conversions)
	t.Append("input tokens", s.Stats.InputTokens)
	t.Append("output tokens", s.Stats.OutputTokens)
	t.Append("avg latency", fmt.Sprintf("%.1fms", s.Stats.AvgLatencyMs))
	return t
}

var metricsCmd = &cobra.Command{
	Use:     "metrics",
	Aliases: []string{"status"},
	Short:   "Show request statistics of the running relay",
	Long: `Show listener state, the active backend and request statistics of the
relay running on the configured address. The Prometheus exposition is at
/_relay/metrics on the same address.`,
	Args: cobra.NoArgs,
	RunE: showMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

func showMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listenerURL(cfg)+server.StatusPath, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return cli.NewCommandError("metrics", fmt.Errorf("relay is not running on %s: %w", listenerURL(cfg), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cli.NewCommandError("metrics", fmt.Errorf("status endpoint returned %s", resp.Status))
	}
	var report server.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return cli.NewCommandError("metrics", fmt.Errorf("decode status: %w", err))
	}
	return printResult(cmd.OutOrStdout(), statusView(report))
}
