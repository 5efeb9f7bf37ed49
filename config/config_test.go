package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("KOOK_MIRROR_KOOK_TOKEN", "secret")

	cfg, err := LoadConfig("", nil)

	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Kook.Token)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Period)
	assert.Equal(t, 100*time.Millisecond, cfg.Sync.BatchDelay)
	assert.True(t, cfg.Events.Async)
	assert.Equal(t, 4096, cfg.Events.DedupSize)
	assert.Equal(t, "none", cfg.OTel.Exporter)
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeFile(t, `
kook:
  token: from-file
sync:
  period: 30s
  batch_delay: 0s
events:
  async: false
  subscribe: [channel.updated, member.updated]
log:
  level: warn
`)
	t.Setenv("KOOK_MIRROR_SYNC_PERIOD", "1m")

	cfg, err := LoadConfig(path, []string{"--log.level=debug"})

	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Kook.Token)
	assert.Equal(t, time.Minute, cfg.Sync.Period, "env beats file")
	assert.Equal(t, time.Duration(0), cfg.Sync.BatchDelay)
	assert.False(t, cfg.Events.Async)
	assert.Equal(t, []string{"channel.updated", "member.updated"}, cfg.Events.Subscribe)
	assert.Equal(t, "debug", cfg.Log.Level, "flag beats file")
}

func TestLoadConfig_NegativePeriodDisables(t *testing.T) {
	t.Setenv("KOOK_MIRROR_KOOK_TOKEN", "secret")

	cfg, err := LoadConfig("", []string{"--sync.period=-1s"})

	require.NoError(t, err)
	assert.Equal(t, -time.Second, cfg.Sync.Period)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Kook:    KookConfig{Token: "t", BaseURL: "https://example.com/api/v3"},
			Sync:    SyncConfig{PageSize: 50},
			Log:     LogConfig{Level: "info", Format: "json"},
			Breaker: BreakerConfig{FailureThreshold: 5},
			OTel:    OTelConfig{Exporter: "none"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing token", func(c *Config) { c.Kook.Token = "" }, false},
		{"relative base url", func(c *Config) { c.Kook.BaseURL = "/api" }, false},
		{"http gateway", func(c *Config) { c.Kook.GatewayURL = "http://gw" }, false},
		{"wss gateway", func(c *Config) { c.Kook.GatewayURL = "wss://gw.example.com" }, true},
		{"negative delay", func(c *Config) { c.Sync.BatchDelay = -time.Second }, false},
		{"page size", func(c *Config) { c.Sync.PageSize = 500 }, false},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, false},
		{"zero threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, false},
		{"otlp exporter", func(c *Config) { c.OTel.Exporter = "otlp" }, true},
		{"unknown exporter", func(c *Config) { c.OTel.Exporter = "zipkin" }, false},
		{"otlp endpoint", func(c *Config) { c.OTel.Endpoint = "http://collector:4318" }, true},
		{"grpc endpoint", func(c *Config) { c.OTel.Endpoint = "collector:4317" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
