package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/backtesting-org/dashboard-push/internal/api"
	"github.com/backtesting-org/dashboard-push/internal/cli"
	"github.com/backtesting-org/dashboard-push/internal/config"
	"github.com/backtesting-org/dashboard-push/internal/database"
	"github.com/backtesting-org/dashboard-push/internal/infrastructure"
	"github.com/backtesting-org/dashboard-push/internal/services"
)

func main() {
	fx.New(
		// Configuration (.env, pushwatch.yaml, DASHBOARD_PUSH_* variables)
		fx.Provide(config.LoadConfig),

		// Logging and shutdown hooks
		infrastructure.Module,

		// Optional settings store holding the push token
		database.Module,

		// Push client, token provider and event bus
		services.Module,

		// Local relay for dashboards (pushwatch serve)
		api.Module,

		// CLI commands
		cli.Module,

		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			fxLogger := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			fxLogger.UseLogLevel(zapcore.DebugLevel)
			return fxLogger
		}),
	).Run()
}
