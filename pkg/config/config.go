package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MARGINALIA_SERVER_PORT
const EnvPrefix = "MARGINALIA"

var (
	once    sync.Once
	initErr error
)

// Init initializes the configuration system
// This should be called once at application startup
func Init() error {
	once.Do(func() {
		setDefaults()

		viper.SetEnvPrefix(EnvPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		configPath := filepath.Clean("./config/settings.yaml")
		viper.SetConfigFile(configPath)

		if err := viper.ReadInConfig(); err != nil {
			// A missing file is fine, defaults and env vars still apply
			if !os.IsNotExist(err) {
				initErr = fmt.Errorf("error reading config file %s: %w", configPath, err)
				return
			}
		}

		if err := validate(); err != nil {
			initErr = fmt.Errorf("invalid configuration: %w", err)
		}
	})

	return initErr
}

// GetConfig returns the current configuration as a struct
// Init() must be called before using this
func GetConfig() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Get returns a config value by key using Viper directly
func Get(key string) any {
	return viper.Get(key)
}

// GetString returns a string config value
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a time.Duration config value
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// validate validates the configuration using Viper values
func validate() error {
	port := viper.GetInt("server.port")
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid server port: %d", port)
	}

	if viper.GetString("database.path") == "" {
		fmt.Println("Warning: No database path configured")
	}

	switch format := viper.GetString("export.default_format"); format {
	case "json", "csv":
	default:
		return fmt.Errorf("invalid export format: %q", format)
	}

	if viper.GetInt("store.bulk_concurrency") <= 0 {
		viper.Set("store.bulk_concurrency", 8)
	}
	if viper.GetInt("bulk.max_batch") <= 0 {
		viper.Set("bulk.max_batch", 100)
	}
	if viper.GetInt("remote.requests_per_second") <= 0 {
		viper.Set("remote.requests_per_second", 20)
	}
	if viper.GetDuration("selection.settle_delay") < 0 {
		viper.Set("selection.settle_delay", 0)
	}

	return nil
}

// Validate validates a Config struct and fills in safe values for
// fields that can be auto-corrected
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Export.DefaultFormat == "" {
		c.Export.DefaultFormat = "json"
	}
	if c.Export.DefaultFormat != "json" && c.Export.DefaultFormat != "csv" {
		return fmt.Errorf("invalid export format: %q", c.Export.DefaultFormat)
	}

	if c.Store.BulkConcurrency <= 0 {
		c.Store.BulkConcurrency = 8
	}
	if c.Bulk.MaxBatch <= 0 {
		c.Bulk.MaxBatch = 100
	}
	if c.Remote.RequestsPerSecond <= 0 {
		c.Remote.RequestsPerSecond = 20
	}
	if c.Remote.Burst <= 0 {
		c.Remote.Burst = c.Remote.RequestsPerSecond
	}
	if c.Selection.SettleDelay < 0 {
		c.Selection.SettleDelay = 0
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("environment", "development")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_header_bytes", 1048576)
	viper.SetDefault("server.max_body_bytes", 1048576)

	// Database defaults
	viper.SetDefault("database.path", "./data/marginalia.db")
	viper.SetDefault("database.verbose", false)
	viper.SetDefault("database.max_connections", 100)
	viper.SetDefault("database.max_idle_connections", 10)
	viper.SetDefault("database.connection_max_lifetime", time.Hour)

	// Remote persistence defaults
	viper.SetDefault("remote.base_url", "http://localhost:8080")
	viper.SetDefault("remote.timeout", 15*time.Second)
	viper.SetDefault("remote.requests_per_second", 20)
	viper.SetDefault("remote.burst", 20)
	viper.SetDefault("remote.user_agent", "Marginalia/1.0")

	// Engine defaults
	viper.SetDefault("store.bulk_concurrency", 8)
	viper.SetDefault("selection.settle_delay", 150*time.Millisecond)
	viper.SetDefault("bulk.max_batch", 100)
	viper.SetDefault("export.default_format", "json")

	// Rate limiting defaults
	viper.SetDefault("rate_limiting.enabled", true)
	viper.SetDefault("rate_limiting.requests_per_second", 10)
	viper.SetDefault("rate_limiting.burst", 20)

	// Security defaults
	viper.SetDefault("security.enable_cors", true)
	viper.SetDefault("security.cors_origins", []string{"*"})

	// Logging defaults
	viper.SetDefault("logging.level", "info")
}
