package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/backtesting-org/dashboard-push/internal/api/handlers"
	"github.com/backtesting-org/dashboard-push/internal/api/websocket"
	"github.com/backtesting-org/dashboard-push/internal/config"
)

// SetupRouter sets up the relay router
func SetupRouter(
	pushHandler *handlers.PushHandler,
	wsHandler *websocket.Handler,
	logger *zap.Logger,
	corsAllowOrigin string,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsAllowOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: corsAllowOrigin != "*",
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "dashboard-push-relay",
		})
	})

	// Dashboards subscribe here
	router.GET("/ws", wsHandler.HandleConnection)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", pushHandler.GetStatus)
		v1.POST("/connect", pushHandler.Connect)
		v1.POST("/disconnect", pushHandler.Disconnect)
		v1.POST("/send", pushHandler.Send)
		v1.PUT("/token", pushHandler.PutToken)
		v1.GET("/settings", pushHandler.ListSettings)
	}

	return router
}

// LoggerMiddleware creates a Gin middleware for logging
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				logger.Error("Request error", zap.String("error", e))
			}
			return
		}

		logger.Debug("Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// NewHTTPServer builds the relay server from the server config section
func NewHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
}
