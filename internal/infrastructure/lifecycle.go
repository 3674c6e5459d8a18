package infrastructure

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/backtesting-org/dashboard-push/internal/services"
	"github.com/backtesting-org/dashboard-push/pkg/pushclient"
)

// RegisterLifecycle closes the push connection and flushes logs on shutdown
func RegisterLifecycle(
	lc fx.Lifecycle,
	client *pushclient.Client,
	eventBus *services.EventBus,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down push client...")

			client.Disconnect()
			eventBus.Close()

			logger.Info("Push client stopped", zap.String("state", client.State().String()))
			_ = logger.Sync()
			return nil
		},
	})
}
