package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/backtesting-org/dashboard-push/pkg/logging"
)

// ApplicationLoggerAdapter wraps zap.Logger to implement logging.ApplicationLogger
type ApplicationLoggerAdapter struct {
	logger *zap.Logger
}

var _ logging.ApplicationLogger = (*ApplicationLoggerAdapter)(nil)

// NewApplicationLogger creates a new application logger adapter
func NewApplicationLogger(logger *zap.Logger) *ApplicationLoggerAdapter {
	return &ApplicationLoggerAdapter{
		logger: logger.Named("push").WithOptions(zap.AddCallerSkip(1)),
	}
}

// ProvideApplicationLogger exposes the adapter under the library interface
func ProvideApplicationLogger(logger *zap.Logger) logging.ApplicationLogger {
	return NewApplicationLogger(logger)
}

func format(msg string, args []interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// Info logs an info message
func (al *ApplicationLoggerAdapter) Info(msg string, args ...interface{}) {
	al.logger.Info(format(msg, args))
}

// Debug logs a debug message
func (al *ApplicationLoggerAdapter) Debug(msg string, args ...interface{}) {
	// skip formatting frames nobody will see
	if !al.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	al.logger.Debug(format(msg, args))
}

// Warn logs a warning message
func (al *ApplicationLoggerAdapter) Warn(msg string, args ...interface{}) {
	al.logger.Warn(format(msg, args))
}

// Error logs an error message
func (al *ApplicationLoggerAdapter) Error(msg string, args ...interface{}) {
	al.logger.Error(format(msg, args))
}
