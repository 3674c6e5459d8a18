package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/backtesting-org/dashboard-push/internal/api/websocket"
	"github.com/backtesting-org/dashboard-push/pkg/pushclient"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve command: keep the push connection open and relay its
// events to local dashboards over HTTP and WebSocket
func NewServeCmd(client *pushclient.Client, server *http.Server, relay *websocket.Handler) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Relay push events to local dashboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, client, server, relay)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, client *pushclient.Client, server *http.Server, relay *websocket.Handler) error {
	relay.StartEventListener()

	client.Connect()
	defer client.Disconnect()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "relay listening on %s\n", server.Addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	relay.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay server forced to shutdown: %w", err)
	}
	return nil
}
