package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	// Application settings
	AppName   string `mapstructure:"app_name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Server configuration for the operational HTTP surface
	Server ServerConfig `mapstructure:"server"`

	// Bus configuration
	Bus BusConfig `mapstructure:"bus"`

	// Stdio configuration defaults for stdio tool clients
	Stdio StdioConfig `mapstructure:"stdio"`

	// Database configuration for optional snapshot persistence
	Database DatabaseConfig `mapstructure:"database"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// BusConfig holds message bus tuning.
type BusConfig struct {
	// ProcessIntervalMs is the enhanced bus processor cadence
	ProcessIntervalMs int `mapstructure:"process_interval_ms"`

	// MaxPerTick bounds deliveries per processor tick
	MaxPerTick int `mapstructure:"max_per_tick"`

	// MaxRetries before a message dead-letters
	MaxRetries int `mapstructure:"max_retries"`

	// BaseBackoffMs and MaxBackoffMs shape retry delays
	BaseBackoffMs int `mapstructure:"base_backoff_ms"`
	MaxBackoffMs  int `mapstructure:"max_backoff_ms"`

	// MaxHistorySize caps the base bus message history
	MaxHistorySize int `mapstructure:"max_history_size"`

	// DeliveryTimeoutMs bounds one handler invocation
	DeliveryTimeoutMs int `mapstructure:"delivery_timeout_ms"`
}

// StdioConfig holds the defaults applied to stdio tool clients whose server
// references do not set their own. The per-request timeout can still be
// overridden at runtime via AGENTICCODER_MCP_STDIO_TIMEOUT_MS.
type StdioConfig struct {
	// TimeoutMs is the default per-request timeout
	TimeoutMs int `mapstructure:"timeout_ms"`

	// Framing selects the default wire framing: content-length or newline
	Framing string `mapstructure:"framing"`
}

// DatabaseConfig holds ArangoDB connection configuration for snapshot
// persistence. Disabled by default; the core itself keeps no persistent
// state.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		AppName:   "AgenticCoder",
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Bus: BusConfig{
			ProcessIntervalMs: 100,
			MaxPerTick:        10,
			MaxRetries:        3,
			BaseBackoffMs:     1000,
			MaxBackoffMs:      30000,
			MaxHistorySize:    1000,
			DeliveryTimeoutMs: 5000,
		},
		Stdio: StdioConfig{
			TimeoutMs: 15000,
			Framing:   "content-length",
		},
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     8529,
			Database: "agenticcoder",
			Username: "root",
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		if filepath.IsAbs(configPath) {
			v.SetConfigFile(configPath)
		} else {
			v.AddConfigPath(filepath.Dir(configPath))
			v.SetConfigName(filepath.Base(configPath[:len(configPath)-len(filepath.Ext(configPath))]))
		}
	}

	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/agenticcoder")

	v.SetEnvPrefix("AGENTICCODER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable; defaults and env vars
		// apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	if password := os.Getenv("AGENTICCODER_DATABASE_PASSWORD"); password != "" {
		config.Database.Password = password
	}
	if port := os.Getenv("AGENTICCODER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	return config, nil
}
