package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/germanamz/stash/pkg/secstore"
)

const sampleYAML = `
listen: 127.0.0.1:9000
poll_interval: 250ms
session_ttl: 15m
close_command: bye
rate_limit_per_minute: 30
whitelist: /etc/stash/whitelist
vault:
  kdf_time: 2
admin:
  enabled: true
log:
  level: debug
  format: json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "bye", cfg.CloseCommand)
	assert.Equal(t, 30, cfg.RateLimit)
	assert.Equal(t, "/etc/stash/whitelist", cfg.Whitelist)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)

	// Fields left out keep their defaults.
	assert.Equal(t, "/admin/mcp", cfg.Admin.Path)
	assert.Equal(t, "30s", cfg.SweepInterval)
	assert.Equal(t, uint32(2), cfg.Vault.KDFTime)
	assert.Equal(t, secstore.DefaultKDF.Memory, cfg.Vault.KDFMemoryKiB)

	require.NoError(t, cfg.Validate())

	timing, err := cfg.Timing()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, timing.PollInterval)
	assert.Equal(t, 15*time.Minute, timing.SessionTTL)
	assert.Equal(t, 10*time.Minute, timing.IdleTimeout)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/no/such/file.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "listen: [unterminated"))
	assert.ErrorContains(t, err, "parse config")
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("STASH_TEST_LISTEN", ":7777")

	cfg, err := LoadConfig(writeConfig(t, "listen: ${STASH_TEST_LISTEN}\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Listen)
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, secstore.DefaultKDF, cfg.KDF())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no listen", func(c *Config) { c.Listen = "" }, "listen is required"},
		{"bad duration", func(c *Config) { c.SessionTTL = "soon" }, "session_ttl"},
		{"zero duration", func(c *Config) { c.PollInterval = "0s" }, "poll_interval must be positive"},
		{"close with slash", func(c *Config) { c.CloseCommand = "/close" }, "close_command"},
		{"close empty", func(c *Config) { c.CloseCommand = "" }, "close_command"},
		{"negative rate limit", func(c *Config) { c.RateLimit = -1 }, "rate_limit_per_minute"},
		{"kdf zero", func(c *Config) { c.Vault.KDFThreads = 0 }, "kdf parameters"},
		{"kdf memory", func(c *Config) { c.Vault.KDFMemoryKiB = 1 << 30 }, "kdf parameters"},
		{"admin path", func(c *Config) { c.Admin = AdminConfig{Enabled: true, Path: "admin"} }, "admin path"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestConfig_MarshalSkipsStashDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StashDir = "/somewhere"

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "/somewhere")

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg.Listen, back.Listen)
	assert.Equal(t, cfg.Vault, back.Vault)
}
