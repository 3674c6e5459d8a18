package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/backtesting-org/dashboard-push/internal/api/handlers"
	"github.com/backtesting-org/dashboard-push/internal/api/websocket"
	"github.com/backtesting-org/dashboard-push/internal/config"
	"github.com/backtesting-org/dashboard-push/internal/services"
)

// Module provides the local relay: HTTP handlers, dashboard socket hub and server.
// Nothing listens until `pushwatch serve` starts the server.
var Module = fx.Module("api",
	fx.Provide(
		handlers.NewPushHandler,
		provideRelay,
		provideRouter,
		NewHTTPServer,
	),
)

func provideRelay(bus *services.EventBus, cfg *config.Config, logger *zap.Logger) *websocket.Handler {
	return websocket.NewHandler(bus, logger, cfg.Server.CORSAllowOrigin)
}

func provideRouter(pushHandler *handlers.PushHandler, wsHandler *websocket.Handler, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	return SetupRouter(pushHandler, wsHandler, logger.Named("http"), cfg.Server.CORSAllowOrigin)
}
