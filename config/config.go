// Package config loads provider settings from YAML and builds the logger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/filegrind/inpage-go/mux"
)

// Config is the complete provider configuration.
type Config struct {
	Channels ChannelConfig  `yaml:"channels"`
	Limits   mux.Limits     `yaml:"limits"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Provider ProviderConfig `yaml:"provider"`
	Remote   RemoteConfig   `yaml:"remote"`
}

// ChannelConfig names the logical channels opened on the transport.
type ChannelConfig struct {
	RPC     string   `yaml:"rpc"`
	Config  string   `yaml:"config"`
	Ignored []string `yaml:"ignored"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"`
	Outputs     []string       `yaml:"outputs"`
	Development bool           `yaml:"development"`
	Rotation    RotationConfig `yaml:"rotation"`
}

// RotationConfig controls file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `yaml:"enable"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig enables prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// ProviderConfig holds behaviour switches of the provider itself.
type ProviderConfig struct {
	FetchAccountsOnStart bool `yaml:"fetchAccountsOnStart"`
	WarnExperimental     bool `yaml:"warnExperimental"`
}

// RemoteConfig locates the remote process for command line tools.
type RemoteConfig struct {
	URL string `yaml:"url"`
}

// Default returns the configuration used when nothing is loaded.
func Default() Config {
	return Config{
		Channels: ChannelConfig{
			RPC:     "provider",
			Config:  "publicConfig",
			Ignored: []string{"phishing"},
		},
		Limits: mux.DefaultLimits(),
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
		Metrics: MetricsConfig{Namespace: "inpage"},
		Provider: ProviderConfig{
			FetchAccountsOnStart: true,
			WarnExperimental:     true,
		},
		Remote: RemoteConfig{URL: "ws://127.0.0.1:8546"},
	}
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the file at path, then applies environment overrides.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

// ApplyEnvOverrides lets INPAGE_LOG_LEVEL, INPAGE_REMOTE_URL and
// INPAGE_METRICS override loaded values.
func ApplyEnvOverrides(cfg *Config) {
	if level := strings.TrimSpace(os.Getenv("INPAGE_LOG_LEVEL")); level != "" {
		cfg.Log.Level = level
	}
	if url := strings.TrimSpace(os.Getenv("INPAGE_REMOTE_URL")); url != "" {
		cfg.Remote.URL = url
	}
	if raw := strings.TrimSpace(os.Getenv("INPAGE_METRICS")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Metrics.Enabled = v
		}
	}
}

// Validate reports the first inconsistency in cfg.
func (c Config) Validate() error {
	names := map[string]string{}
	check := func(role, name string) error {
		if name == "" {
			return fmt.Errorf("channel name for %s is empty", role)
		}
		if other, taken := names[name]; taken {
			return fmt.Errorf("channel %q used for both %s and %s", name, other, role)
		}
		names[name] = role
		return nil
	}
	if err := check("rpc", c.Channels.RPC); err != nil {
		return err
	}
	if err := check("config", c.Channels.Config); err != nil {
		return err
	}
	for _, name := range c.Channels.Ignored {
		if err := check("ignored", name); err != nil {
			return err
		}
	}

	if c.Limits.MaxFrame <= 0 || c.Limits.MaxFrame > mux.MaxFrameHardLimit {
		return fmt.Errorf("limits.max_frame %d out of range (1..%d)", c.Limits.MaxFrame, mux.MaxFrameHardLimit)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
