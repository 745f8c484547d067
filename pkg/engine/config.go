package engine

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/stash/pkg/secstore"
)

// Config is the top-level configuration.
type Config struct {
	StashDir        string      `yaml:"-"` // Set by CLI, not from YAML.
	Listen          string      `yaml:"listen"`
	PollInterval    string      `yaml:"poll_interval"`    // Transition watcher poll, e.g. "1s".
	SessionTTL      string      `yaml:"session_ttl"`      // Idle time before a session is dropped.
	SweepInterval   string      `yaml:"sweep_interval"`   // How often idle sessions are looked for.
	IdleTimeout     string      `yaml:"idle_timeout"`     // Idle time before an open repository closes.
	DispatchTimeout string      `yaml:"dispatch_timeout"` // Upper bound for handling one event.
	CloseCommand    string      `yaml:"close_command"`
	RateLimit       int         `yaml:"rate_limit_per_minute"` // Events per actor and minute, 0 = no limit.
	Whitelist       string      `yaml:"whitelist"`             // Path; empty uses the stash dir default.
	Vault           VaultConfig `yaml:"vault"`
	Admin           AdminConfig `yaml:"admin"`
	Log             LogConfig   `yaml:"log"`
}

// VaultConfig tunes repository encryption for newly created repositories.
type VaultConfig struct {
	KDFTime      uint32 `yaml:"kdf_time"`
	KDFMemoryKiB uint32 `yaml:"kdf_memory_kib"`
	KDFThreads   uint8  `yaml:"kdf_threads"`
}

// AdminConfig controls the MCP admin endpoint.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Timing holds the parsed durations of a Config.
type Timing struct {
	PollInterval    time.Duration
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	IdleTimeout     time.Duration
	DispatchTimeout time.Duration
}

// DefaultConfig returns the configuration used for every field the YAML
// leaves out.
func DefaultConfig() Config {
	return Config{
		Listen:          ":8080",
		PollInterval:    "1s",
		SessionTTL:      "5m",
		SweepInterval:   "30s",
		IdleTimeout:     "10m",
		DispatchTimeout: "30s",
		CloseCommand:    "close",
		Vault: VaultConfig{
			KDFTime:      secstore.DefaultKDF.Time,
			KDFMemoryKiB: secstore.DefaultKDF.Memory,
			KDFThreads:   secstore.DefaultKDF.Threads,
		},
		Admin: AdminConfig{Path: "/admin/mcp"},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// Timing parses the configured durations.
func (c Config) Timing() (Timing, error) {
	var t Timing

	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"poll_interval", c.PollInterval, &t.PollInterval},
		{"session_ttl", c.SessionTTL, &t.SessionTTL},
		{"sweep_interval", c.SweepInterval, &t.SweepInterval},
		{"idle_timeout", c.IdleTimeout, &t.IdleTimeout},
		{"dispatch_timeout", c.DispatchTimeout, &t.DispatchTimeout},
	}

	for _, f := range fields {
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return Timing{}, fmt.Errorf("engine: config: %s: %w", f.name, err)
		}
		if d <= 0 {
			return Timing{}, fmt.Errorf("engine: config: %s must be positive", f.name)
		}
		*f.dst = d
	}

	return t, nil
}

// KDF returns the key derivation parameters for new repositories.
func (c Config) KDF() secstore.KDFParams {
	return secstore.KDFParams{
		Time:    c.Vault.KDFTime,
		Memory:  c.Vault.KDFMemoryKiB,
		Threads: c.Vault.KDFThreads,
	}
}

// SlogLevel parses the configured log level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("engine: config: log level %q: %w", c.Level, err)
	}

	return l, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("engine: config: listen is required")
	}

	if _, err := c.Timing(); err != nil {
		return err
	}

	if c.CloseCommand == "" || strings.ContainsAny(c.CloseCommand, " /") {
		return fmt.Errorf("engine: config: close_command %q must be a single word without slash", c.CloseCommand)
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("engine: config: rate_limit_per_minute must not be negative")
	}

	if err := c.KDF().Validate(); err != nil {
		return fmt.Errorf("engine: config: vault: %w", err)
	}

	if c.Admin.Enabled && !strings.HasPrefix(c.Admin.Path, "/") {
		return fmt.Errorf("engine: config: admin path %q must start with /", c.Admin.Path)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("engine: config: log format %q must be text or json", c.Log.Format)
	}

	return nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal config: %w", err)
	}

	return data, nil
}
