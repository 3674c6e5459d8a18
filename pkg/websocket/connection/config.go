package connection

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/backtesting-org/dashboard-push/pkg/websocket/security"
)

var validate = validator.New()

// Config holds push connection configuration
type Config struct {
	// Connection settings
	URL              string        `json:"url" validate:"required,url"`
	TokenParam       string        `json:"token_param"`
	ConnectTimeout   time.Duration `json:"connect_timeout" validate:"gt=0"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" validate:"gt=0"`
	CloseTimeout     time.Duration `json:"close_timeout" validate:"gt=0"`

	// Buffer settings
	ReadBufferSize  int   `json:"read_buffer_size" validate:"gt=0"`
	WriteBufferSize int   `json:"write_buffer_size" validate:"gt=0"`
	MaxMessageSize  int64 `json:"max_message_size" validate:"gt=0"`

	// Timing settings
	WriteTimeout time.Duration `json:"write_timeout" validate:"gt=0"`
	PingInterval time.Duration `json:"ping_interval" validate:"gt=0,gtfield=PongTimeout"`
	PongTimeout  time.Duration `json:"pong_timeout" validate:"gt=0"`

	// Reconnection settings. Retries are unbounded; a negative jitter disables it.
	ReconnectInitialDelay time.Duration `json:"reconnect_initial_delay" validate:"gt=0"`
	ReconnectMaxDelay     time.Duration `json:"reconnect_max_delay" validate:"gtefield=ReconnectInitialDelay"`
	ReconnectMaxJitter    time.Duration `json:"reconnect_max_jitter"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		TokenParam:            security.DefaultTokenParam,
		ConnectTimeout:        30 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		CloseTimeout:          5 * time.Second,
		ReadBufferSize:        4096,
		WriteBufferSize:       4096,
		MaxMessageSize:        1024 * 1024, // 1MB
		WriteTimeout:          10 * time.Second,
		PingInterval:          30 * time.Second,
		PongTimeout:           10 * time.Second,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     30 * time.Second,
		ReconnectMaxJitter:    time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid connection config: %w", err)
	}
	return nil
}

// ApplyDefaults fills in missing values with defaults
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.TokenParam == "" {
		c.TokenParam = defaults.TokenParam
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = defaults.CloseTimeout
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = defaults.PongTimeout
	}
	if c.ReconnectInitialDelay == 0 {
		c.ReconnectInitialDelay = defaults.ReconnectInitialDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = defaults.ReconnectMaxDelay
	}
	if c.ReconnectMaxJitter == 0 {
		c.ReconnectMaxJitter = defaults.ReconnectMaxJitter
	}
}

// TestConfig returns a configuration with short timers, suitable for testing
func TestConfig(url string) Config {
	config := DefaultConfig()
	config.URL = url
	config.ConnectTimeout = 2 * time.Second
	config.HandshakeTimeout = 2 * time.Second
	config.CloseTimeout = 200 * time.Millisecond
	config.WriteTimeout = time.Second
	config.PingInterval = 100 * time.Millisecond
	config.PongTimeout = 50 * time.Millisecond
	config.ReconnectInitialDelay = 20 * time.Millisecond
	config.ReconnectMaxDelay = 200 * time.Millisecond
	config.ReconnectMaxJitter = -1
	return config
}
