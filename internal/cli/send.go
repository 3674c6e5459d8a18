package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/backtesting-org/dashboard-push/internal/services"
	"github.com/backtesting-org/dashboard-push/pkg/pushclient"
)

// NewSendCmd creates the send command: connect, send one frame, disconnect
func NewSendCmd(client *pushclient.Client, bus *services.EventBus) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single message over the push channel",
	}

	cmd.Flags().String("type", "", "Message type")
	cmd.Flags().String("payload", "{}", "JSON object merged into the message")
	cmd.Flags().Duration("timeout", 10*time.Second, "How long to wait for the connection")
	_ = cmd.MarkFlagRequired("type")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		msgType, _ := cmd.Flags().GetString("type")
		payload, _ := cmd.Flags().GetString("payload")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		message, err := buildMessage(msgType, payload)
		if err != nil {
			return err
		}
		return runSend(cmd, client, bus, message, timeout)
	}

	return cmd
}

func buildMessage(msgType, payload string) (map[string]interface{}, error) {
	message := map[string]interface{}{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &message); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	message["type"] = msgType
	return message, nil
}

func runSend(cmd *cobra.Command, client *pushclient.Client, bus *services.EventBus, message map[string]interface{}, timeout time.Duration) error {
	opened := bus.Subscribe(services.EventConnectionOpened, 1)
	defer bus.Unsubscribe(opened)

	client.Connect()
	defer client.Disconnect()

	if !client.IsConnected() {
		select {
		case <-opened:
		case <-time.After(timeout):
			return fmt.Errorf("push channel not open after %v", timeout)
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}

	if err := client.Send(message); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sent %s message\n", message["type"])
	return nil
}
