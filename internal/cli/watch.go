package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backtesting-org/dashboard-push/internal/services"
	"github.com/backtesting-org/dashboard-push/pkg/pushclient"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/base"
)

// NewWatchCmd creates the watch command: connect and print every event as a JSON line
// until the application stops
func NewWatchCmd(client *pushclient.Client, bus *services.EventBus) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect and stream push events as JSON lines",
	}

	cmd.Flags().StringSliceP("type", "t", nil, "Extra message types to print besides deposit, withdrawal and balance")
	cmd.Flags().Bool("quiet", false, "Only print domain events, not connection lifecycle")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		types, _ := cmd.Flags().GetStringSlice("type")
		quiet, _ := cmd.Flags().GetBool("quiet")
		return runWatch(cmd, client, bus, types, quiet)
	}

	return cmd
}

func runWatch(cmd *cobra.Command, client *pushclient.Client, bus *services.EventBus, types []string, quiet bool) error {
	for _, t := range types {
		services.ForwardMessageType(client, bus, base.MessageType(t))
	}

	events := bus.SubscribeAll(256)
	defer bus.Unsubscribe(events)

	client.Connect()
	defer client.Disconnect()

	encoder := json.NewEncoder(cmd.OutOrStdout())
	ctx := cmd.Context()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if quiet && isLifecycle(event.Type) {
				continue
			}
			if err := encoder.Encode(event); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
}

func isLifecycle(t services.EventType) bool {
	switch t {
	case services.EventConnectionOpened, services.EventConnectionClosed, services.EventReconnecting:
		return true
	}
	return false
}
