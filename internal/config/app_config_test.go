package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     slog.Level
	}{
		{"debug", "debug", slog.LevelDebug},
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"unknown defaults to info", "unknown", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &AppConfig{LogLevel: tt.logLevel}
			assert.Equal(t, tt.want, c.SlogLevel())
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("DEVSERVER_CONFIG", "/tmp/devserver-test.yaml")
	t.Setenv("DEVSERVER_PORT", "9090")
	t.Setenv("DEVSERVER_HOST", "0.0.0.0")
	t.Setenv("DEVSERVER_ROOT", "")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEVSERVER_HEALTH_INTERVAL", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/devserver-test.yaml", cfg.ConfigFile)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.HealthInterval)
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"DEVSERVER_CONFIG", "DEVSERVER_PORT", "LOG_LEVEL", "DEVSERVER_HEALTH_INTERVAL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "devserver.yaml", cfg.ConfigFile)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.HealthInterval)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("DEVSERVER_PORT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_NonPositiveHealthInterval(t *testing.T) {
	t.Setenv("DEVSERVER_HEALTH_INTERVAL", "-1s")

	_, err := Load()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "DEVSERVER_HEALTH_INTERVAL", verr.Field)
}

func TestAppConfig_Apply(t *testing.T) {
	tests := []struct {
		name     string
		app      AppConfig
		wantRoot string
		wantHost string
		wantPort int
	}{
		{
			name:     "empty overrides keep file values",
			app:      AppConfig{},
			wantRoot: DefaultRoot,
			wantHost: DefaultHost,
			wantPort: DefaultPort,
		},
		{
			name:     "all overrides applied",
			app:      AppConfig{Root: "web", Host: "0.0.0.0", Port: 3000},
			wantRoot: "web",
			wantHost: "0.0.0.0",
			wantPort: 3000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.app.Apply(cfg)
			assert.Equal(t, tt.wantRoot, cfg.Root)
			assert.Equal(t, tt.wantHost, cfg.Server.Host)
			assert.Equal(t, tt.wantPort, cfg.Server.Port)
		})
	}
}
