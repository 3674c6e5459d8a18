package services

import (
	"encoding/json"
	"time"

	"github.com/backtesting-org/dashboard-push/internal/config"
	"github.com/backtesting-org/dashboard-push/internal/database"
	"github.com/backtesting-org/dashboard-push/pkg/logging"
	"github.com/backtesting-org/dashboard-push/pkg/pushclient"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/base"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/security"
)

// ProvideTokenProvider picks the token source: the settings store when a database is
// configured, then an environment variable, then the static token.
func ProvideTokenProvider(cfg *config.Config, repo *database.Repository, logger logging.ApplicationLogger) security.TokenProvider {
	switch {
	case repo != nil:
		logger.Info("Reading push token from settings store (key=%s)", cfg.Auth.StorageKey)
		return security.NewStoredTokenProvider(repo, cfg.Auth.StorageKey)
	case cfg.Auth.TokenEnv != "":
		logger.Info("Reading push token from $%s", cfg.Auth.TokenEnv)
		return security.NewEnvTokenProvider(cfg.Auth.TokenEnv)
	default:
		return security.NewStaticTokenProvider(cfg.Auth.Token)
	}
}

// ProvidePushClient builds the client from the push section of the config
func ProvidePushClient(cfg *config.Config, tokens security.TokenProvider, logger logging.ApplicationLogger) (*pushclient.Client, error) {
	return pushclient.New(cfg.Push.ConnectionConfig(), tokens, logger)
}

// BridgeEvents republishes everything the client observes on the event bus
func BridgeEvents(client *pushclient.Client, bus *EventBus) {
	client.OnOpen(func() {
		bus.Publish(Event{Type: EventConnectionOpened, Data: map[string]interface{}{
			"connection_id": client.Stats()["connection_id"],
		}})
	})
	client.OnClose(func(code int, reason string) {
		bus.Publish(Event{Type: EventConnectionClosed, Data: map[string]interface{}{
			"code":   code,
			"reason": reason,
		}})
	})
	client.OnReconnecting(func(attempt int, delay time.Duration) {
		bus.Publish(Event{Type: EventReconnecting, Data: map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}})
	})
	client.OnError(func(err error) {
		bus.Publish(Event{Type: EventPushError, Data: map[string]interface{}{
			"error": err.Error(),
		}})
	})

	// payloads are republished as received, the relay never reshapes backend records
	client.OnDeposit(func(payload json.RawMessage) {
		bus.Publish(Event{Type: EventDeposit, Data: map[string]interface{}{"deposit": payload}})
	})
	client.OnWithdrawal(func(payload json.RawMessage) {
		bus.Publish(Event{Type: EventWithdrawal, Data: map[string]interface{}{"withdrawal": payload}})
	})
	client.OnBalance(func(payload json.RawMessage) {
		bus.Publish(Event{Type: EventBalance, Data: map[string]interface{}{"balance": payload}})
	})
}

// ForwardMessageType republishes frames of msgType, a type without a typed handler
func ForwardMessageType(client *pushclient.Client, bus *EventBus, msgType base.MessageType) {
	client.OnMessage(msgType, func(env *base.Envelope) {
		bus.Publish(Event{Type: EventMessage, Data: map[string]interface{}{
			"message_type": string(env.Type),
			"raw":          env.Raw,
		}})
	})
}
