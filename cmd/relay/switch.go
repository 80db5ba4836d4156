package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"apirelay-hq/relay/pkg/app"
	"apirelay-hq/relay/pkg/cli"
	"apirelay-hq/relay/pkg/config"
)

// remoteTimeout bounds calls to a running relay's admin routes.
const remoteTimeout = 5 * time.Second

var switchCmd = &cobra.Command{
	Use:   "switch <backend-id>",
	Short: "Make a backend the active one",
	Long: `Make a backend the active one and record a manual switch.

When a relay is running on the configured address it switches immediately.
Otherwise the switch is recorded in the database and takes effect the next
time relay starts.`,
	Args: cobra.ExactArgs(1),
	RunE: switchBackend,
}

func init() {
	rootCmd.AddCommand(switchCmd)
}

func switchBackend(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
	res, err := app.RemoteSwitch(ctx, &http.Client{Timeout: remoteTimeout}, listenerURL(cfg), id)
	cancel()
	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "switched running relay to backend %d (group %d)\n",
			res.Runtime.ActiveBackendID, res.Runtime.ActiveGroupID)
		return nil
	}
	if !errors.Is(err, app.ErrListenerUnreachable) {
		return cli.NewCommandError("switch", err)
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.RestoreActive(ctx); err != nil {
			return err
		}
		res, err := a.Activate(ctx, id)
		if err != nil {
			return cli.NewCommandError("switch", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "relay is not running; backend %d (group %d) will be active on next start\n",
			res.Runtime.ActiveBackendID, res.Runtime.ActiveGroupID)
		return nil
	})
}

// listenerURL is the base URL of a relay started with cfg. A relay that had
// to move to another port is not found.
func listenerURL(cfg *config.Config) string {
	return "http://" + net.JoinHostPort(cfg.Proxy.Host, strconv.Itoa(cfg.Proxy.Port))
}
