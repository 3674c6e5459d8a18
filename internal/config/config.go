package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/backtesting-org/dashboard-push/pkg/websocket/connection"
)

const envPrefix = "DASHBOARD_PUSH"

// Config represents the application configuration
type Config struct {
	Push     PushConfig     `mapstructure:"push"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PushConfig represents the push connection settings
type PushConfig struct {
	URL                   string        `mapstructure:"url" validate:"required,url"`
	TokenParam            string        `mapstructure:"token_param"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	HandshakeTimeout      time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
	CloseTimeout          time.Duration `mapstructure:"close_timeout" validate:"gt=0"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	MaxMessageSize        int64         `mapstructure:"max_message_size" validate:"gt=0"`
	PingInterval          time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	PongTimeout           time.Duration `mapstructure:"pong_timeout" validate:"gt=0,ltfield=PingInterval"`
	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay" validate:"gt=0"`
	ReconnectMaxDelay     time.Duration `mapstructure:"reconnect_max_delay" validate:"gtefield=ReconnectInitialDelay"`
	ReconnectMaxJitter    time.Duration `mapstructure:"reconnect_max_jitter"`
}

// AuthConfig selects where the push token comes from. A database connection string
// takes precedence, then TokenEnv, then the static Token.
type AuthConfig struct {
	Token      string `mapstructure:"token"`
	TokenEnv   string `mapstructure:"token_env"`
	StorageKey string `mapstructure:"storage_key" validate:"required"`
}

// ServerConfig represents the local relay server started by `pushwatch serve`
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout    int    `mapstructure:"write_timeout"` // in seconds
	CORSAllowOrigin string `mapstructure:"cors_allow_origin"`
}

// DatabaseConfig represents database configuration. It is optional.
type DatabaseConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	MaxOpenConns     int    `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns     int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime  int    `mapstructure:"conn_max_lifetime"` // in minutes
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path" validate:"required"` // stdout, stderr or a file rotated by lumberjack
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ConnectionConfig converts the push section into the library configuration
func (p PushConfig) ConnectionConfig() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.URL = p.URL
	cfg.TokenParam = p.TokenParam
	cfg.ConnectTimeout = p.ConnectTimeout
	cfg.HandshakeTimeout = p.HandshakeTimeout
	cfg.CloseTimeout = p.CloseTimeout
	cfg.WriteTimeout = p.WriteTimeout
	cfg.MaxMessageSize = p.MaxMessageSize
	cfg.PingInterval = p.PingInterval
	cfg.PongTimeout = p.PongTimeout
	cfg.ReconnectInitialDelay = p.ReconnectInitialDelay
	cfg.ReconnectMaxDelay = p.ReconnectMaxDelay
	cfg.ReconnectMaxJitter = p.ReconnectMaxJitter
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig loads configuration from an optional pushwatch.yaml and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	setDefaults(v)

	v.SetConfigName("pushwatch")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/dashboard-push")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Read from environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	defaults := connection.DefaultConfig()

	// Push defaults
	v.SetDefault("push.url", "")
	v.SetDefault("push.token_param", defaults.TokenParam)
	v.SetDefault("push.connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("push.handshake_timeout", defaults.HandshakeTimeout)
	v.SetDefault("push.close_timeout", defaults.CloseTimeout)
	v.SetDefault("push.write_timeout", defaults.WriteTimeout)
	v.SetDefault("push.max_message_size", defaults.MaxMessageSize)
	v.SetDefault("push.ping_interval", defaults.PingInterval)
	v.SetDefault("push.pong_timeout", defaults.PongTimeout)
	v.SetDefault("push.reconnect_initial_delay", defaults.ReconnectInitialDelay)
	v.SetDefault("push.reconnect_max_delay", defaults.ReconnectMaxDelay)
	v.SetDefault("push.reconnect_max_jitter", defaults.ReconnectMaxJitter)

	// Auth defaults
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_env", "")
	v.SetDefault("auth.storage_key", "auth_token")

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.cors_allow_origin", "*")

	// Database defaults
	v.SetDefault("database.connection_string", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
}

var validate = validator.New()

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	return validate.Struct(config)
}
