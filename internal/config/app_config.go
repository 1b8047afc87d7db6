package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig holds all process-level configuration loaded from environment variables.
// Dev-server settings in it override the values read from the YAML file.
type AppConfig struct {
	// ConfigFile is the YAML dev-server configuration. A missing file means defaults.
	ConfigFile string `envconfig:"DEVSERVER_CONFIG" default:"devserver.yaml"`

	// Root overrides the project root directory when set.
	Root string `envconfig:"DEVSERVER_ROOT"`

	// Host overrides the listen host when set.
	Host string `envconfig:"DEVSERVER_HOST"`

	// Port overrides the listen port when non-zero.
	Port int `envconfig:"DEVSERVER_PORT"`

	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LogDir enables rotated JSON file logging under this directory.
	// Empty means human-readable logs on stderr.
	LogDir string `envconfig:"DEVSERVER_LOG_DIR"`

	// OTLPEndpoint enables trace export over OTLP/gRPC (host:port).
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// HealthInterval is how often proxy targets are probed.
	HealthInterval time.Duration `envconfig:"DEVSERVER_HEALTH_INTERVAL" default:"10s"`
}

// Load reads AppConfig from environment variables using envconfig.
func Load() (*AppConfig, error) {
	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.HealthInterval <= 0 {
		return nil, &ValidationError{Field: "DEVSERVER_HEALTH_INTERVAL", Message: "must be positive"}
	}
	return &c, nil
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Apply copies the non-empty environment overrides onto cfg.
func (c *AppConfig) Apply(cfg *DevServerConfig) {
	if c.Root != "" {
		cfg.Root = c.Root
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
}
