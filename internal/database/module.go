package database

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/backtesting-org/dashboard-push/internal/config"
)

// Module provides the optional settings store. Without a connection string it
// provides a nil *Repository and the token comes from elsewhere.
var Module = fx.Module("database",
	fx.Provide(ProvideRepository),
	fx.Invoke(registerRepository),
)

// ProvideRepository creates a database repository from config
func ProvideRepository(cfg *config.Config, logger *zap.Logger) (*Repository, error) {
	if cfg.Database.ConnectionString == "" {
		logger.Debug("No database configured, settings store disabled")
		return nil, nil
	}

	logger.Info("Connecting to database...")
	repo, err := NewRepository(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return repo, nil
}

// registerRepository ensures the schema on startup and closes the pool on shutdown
func registerRepository(lc fx.Lifecycle, repo *Repository, logger *zap.Logger) {
	if repo == nil {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := repo.EnsureSchema(ctx); err != nil {
				return err
			}
			logger.Info("Settings store ready")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := repo.Close(); err != nil {
				logger.Error("Failed to close database connection", zap.Error(err))
			}
			return nil
		},
	})
}
