package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_EnvOverridesAndDefaults(t *testing.T) {
	t.Setenv("APP_SDK_BASE_URL", "https://api.example.test/sdk/")
	t.Setenv("APP_SDK_APP_ID", "app-1")
	t.Setenv("APP_STORAGE_DRIVER", "memory")
	t.Setenv("APP_SERVER_LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, "https://api.example.test/sdk", cfg.SDK.BaseURL)
	assert.Equal(t, "app-1", cfg.SDK.AppID)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "127.0.0.1:7311", cfg.Server.Addr)
	assert.Equal(t, "US", cfg.SDK.Region)
}

func TestValidate_Defaults(t *testing.T) {
	var c Config
	validate(&c)

	assert.Equal(t, "sqlite", c.Storage.Driver)
	assert.Equal(t, "engagement.db", c.Storage.Path)
	assert.Equal(t, 4, c.Storage.MaxConns)
	assert.Equal(t, 30*time.Second, c.FlushInterval())
	assert.Equal(t, 20*time.Second, c.TriggerTimeout())
	assert.Equal(t, 5*time.Second, c.Backoff())
	assert.Equal(t, 10*time.Second, c.HandshakeTimeout())
	assert.NotNil(t, c.Metadata)
}

func TestDSNRedacted(t *testing.T) {
	var c Config
	c.Storage.Driver = "postgres"
	c.Storage.DSN = "postgres://user:secret@db:5432/sdk"
	assert.NotContains(t, c.DSNRedacted(), "secret")

	c.Storage.Driver = "sqlite"
	c.Storage.Path = "x.db"
	assert.Equal(t, "x.db", c.DSNRedacted())
}

func TestSetupLogging(t *testing.T) {
	for _, lvl := range []string{"debug", "warn", "error", "disabled", "info", ""} {
		SetupLogging(lvl)
	}
}
