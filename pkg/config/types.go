package config

import "time"

// Config represents the complete application configuration
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Store        StoreConfig        `mapstructure:"store"`
	Selection    SelectionConfig    `mapstructure:"selection"`
	Bulk         BulkConfig         `mapstructure:"bulk"`
	Export       ExportConfig       `mapstructure:"export"`
	RateLimiting RateLimitConfig    `mapstructure:"rate_limiting"`
	Security     SecurityConfig     `mapstructure:"security"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path                  string        `mapstructure:"path"`
	Verbose               bool          `mapstructure:"verbose"`
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
}

// RemoteConfig contains settings for the remote persistence client
type RemoteConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// StoreConfig contains annotation store settings
type StoreConfig struct {
	BulkConcurrency int `mapstructure:"bulk_concurrency"`
}

// SelectionConfig contains selection capture settings
type SelectionConfig struct {
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// BulkConfig contains bulk operation settings
type BulkConfig struct {
	MaxBatch int `mapstructure:"max_batch"`
}

// ExportConfig contains export settings
type ExportConfig struct {
	DefaultFormat string `mapstructure:"default_format"`
}

// RateLimitConfig contains per-client rate limiting settings for the server
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
	Burst             int  `mapstructure:"burst"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	EnableCORS  bool     `mapstructure:"enable_cors"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}
