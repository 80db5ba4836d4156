package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/app"
	"apirelay-hq/relay/pkg/balance"
	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/storage"
)

type balanceRow struct {
	Result *balance.Result `json:"result,omitempty"`
	Name   string          `json:"backend"`
	ID     int64           `json:"backend_id"`
	Error  string          `json:"error,omitempty"`
}

type balanceList []balanceRow

func (l balanceList) Table() *cli.Table {
	t := &cli.Table{Headers: []string{"ID", "BACKEND", "BALANCE", "CURRENCY", "SCHEMA", "ERROR"}}
	for _, r := range l {
		if r.Result == nil {
			t.Append(r.ID, r.Name, "-", "-", "-", r.Error)
			continue
		}
		b := r.Result.Balance
		t.Append(r.ID, r.Name, fmt.Sprintf("%.2f", b.Amount), b.Currency, b.Schema, "")
	}
	return t
}

var balanceFlags struct {
	all   bool
	group int64
}

var balanceCmd = &cobra.Command{
	Use:   "balance [backend-id]",
	Short: "Query the remaining credit of backends",
	Long: `Query the remaining credit of one backend, or of every backend with --all.

OpenAI-compatible backends are asked for their credit grants; DeepSeek-hosted
backends use /user/balance. Gemini backends have no balance endpoint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: queryBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().BoolVar(&balanceFlags.all, "all", false, "query every backend")
	balanceCmd.Flags().Int64Var(&balanceFlags.group, "group", 0, "with --all, only this group")
}

func queryBalance(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !balanceFlags.all {
		return cli.Usagef("give a backend id or --all")
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		var backends []*storage.Backend
		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			b, err := a.Store.GetBackend(ctx, id)
			if err != nil {
				return err
			}
			backends = []*storage.Backend{b}
		} else {
			var err error
			if backends, err = a.Store.ListBackends(ctx, balanceFlags.group); err != nil {
				return err
			}
		}

		out := make(balanceList, 0, len(backends))
		var failed int
		for _, b := range backends {
			row := balanceRow{Name: b.Name, ID: b.ID}
			res, err := a.Balance.Query(ctx, b)
			switch {
			case err == nil:
				row.Result = res
			case errors.Is(err, balance.ErrUnsupported):
				row.Error = "not supported"
			default:
				row.Error = err.Error()
				failed++
			}
			out = append(out, row)
		}

		if err := printResult(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		if len(args) == 1 && failed > 0 {
			return cli.NewCommandError("balance", errors.New(out[0].Error))
		}
		return nil
	})
}
