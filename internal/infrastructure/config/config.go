// Package config loads process configuration from the environment and the
// host profile (device facts, bundle catalog, callers) from a TOML file.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Device    DeviceConfig
	Observers ObserverConfig
	Host      HostConfig
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr        string        `envconfig:"GRPC_ADDR" default:":50061"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// DeviceConfig holds device facts. The profile may override them.
type DeviceConfig struct {
	StabilityTest  bool   `envconfig:"STABILITY_TEST" default:"false"`
	RAMConstrained string `envconfig:"RAM_CONSTRAINED" default:"auto"`
	RAMThresholdMB uint64 `envconfig:"RAM_THRESHOLD_MB" default:"3072"`
	AppMemoryMB    int    `envconfig:"APP_MEMORY_MB" default:"0"`
}

// ObserverConfig sizes the observer hub.
type ObserverConfig struct {
	PoolSize     int `envconfig:"OBSERVER_POOL_SIZE" default:"64"`
	MaxObservers int `envconfig:"MAX_OBSERVERS" default:"0"`
}

// HostConfig holds reference host options.
type HostConfig struct {
	Profile        string        `envconfig:"APPMGR_PROFILE"`
	ControlEnabled bool          `envconfig:"HOST_CONTROL_ENABLED" default:"false"`
	MirrorEnabled  bool          `envconfig:"HOST_MIRROR_ENABLED" default:"false"`
	MirrorInterval time.Duration `envconfig:"HOST_MIRROR_INTERVAL" default:"5s"`
	Terminate      bool          `envconfig:"HOST_TERMINATE" default:"false"`
	AuditSize      int           `envconfig:"AUDIT_SIZE" default:"512"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50061",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Device: DeviceConfig{
			RAMConstrained: "auto",
			RAMThresholdMB: 3072,
		},
		Observers: ObserverConfig{
			PoolSize: 64,
		},
		Host: HostConfig{
			MirrorInterval: 5 * time.Second,
			AuditSize:      512,
		},
	}
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Device.RAMConstrained {
	case "auto", "true", "false":
	default:
		return fmt.Errorf("RAM_CONSTRAINED must be auto, true or false, got %q", c.Device.RAMConstrained)
	}
	if c.Observers.PoolSize <= 0 {
		return fmt.Errorf("OBSERVER_POOL_SIZE must be positive, got %d", c.Observers.PoolSize)
	}
	if c.Observers.MaxObservers < 0 {
		return fmt.Errorf("MAX_OBSERVERS must not be negative, got %d", c.Observers.MaxObservers)
	}
	if c.Host.MirrorEnabled && c.Host.MirrorInterval <= 0 {
		return fmt.Errorf("HOST_MIRROR_INTERVAL must be positive, got %s", c.Host.MirrorInterval)
	}
	return nil
}
