package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/backtesting-org/dashboard-push/internal/api/websocket"
	"github.com/backtesting-org/dashboard-push/internal/services"
	"github.com/backtesting-org/dashboard-push/pkg/pushclient"
)

// Module provides the CLI commands
var Module = fx.Module("cli",
	fx.Provide(
		NewRootCmd,
	),
	fx.Invoke(RunCLI),
)

// CommandParams are the dependencies the commands share
type CommandParams struct {
	fx.In

	Client *pushclient.Client
	Bus    *services.EventBus
	Server *http.Server        `optional:"true"`
	Relay  *websocket.Handler `optional:"true"`
}

// NewRootCmd creates the pushwatch command tree
func NewRootCmd(p CommandParams) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pushwatch",
		Short:         "Dashboard push channel client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		NewWatchCmd(p.Client, p.Bus),
		NewSendCmd(p.Client, p.Bus),
	)
	if p.Server != nil && p.Relay != nil {
		rootCmd.AddCommand(NewServeCmd(p.Client, p.Server, p.Relay))
	}

	return rootCmd
}

// RunCLI executes the cobra CLI once the application has started. The command's
// context is cancelled when the application stops, and the application stops when
// the command returns.
func RunCLI(lc fx.Lifecycle, shutdowner fx.Shutdowner, rootCmd *cobra.Command) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)

				exitCode := 0
				if err := rootCmd.ExecuteContext(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					exitCode = 1
				}
				_ = shutdowner.Shutdown(fx.ExitCode(exitCode))
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
