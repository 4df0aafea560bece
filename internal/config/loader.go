package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultListenAddr is used when server.listen_addr is empty. The API is
// bound to loopback; the daemon is not meant to be exposed on a network.
const DefaultListenAddr = "127.0.0.1:8590"

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in defaults for omitted fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Quota.Driver == "" {
		cfg.Quota.Driver = QuotaMemory
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Device.BaseURL == "" {
		errs = append(errs, errors.New("device.base_url is required; the device voice is the unconditional fallback"))
	}

	// An unrecognised tier is not an error: the policy layer falls back to
	// free and the daemon stays usable.
	switch cfg.Tier {
	case "", "free", "family", "school":
	default:
		slog.Warn("unrecognised tier; falling back to free", "tier", cfg.Tier)
	}

	if cfg.Cloud.Endpoint != "" && cfg.Cloud.APIKey == "" {
		errs = append(errs, errors.New("cloud.api_key is required when cloud.endpoint is set"))
	}
	if cfg.Cloud.Endpoint == "" && cfg.Cloud.APIKey != "" {
		slog.Warn("cloud.api_key is set but cloud.endpoint is empty; premium voice is disabled")
	}

	if cfg.Budget.BaseURL == "" && cfg.Cloud.Endpoint != "" {
		slog.Warn("budget.base_url is empty; premium voice will run without spend tracking")
	}

	if cfg.Voice.Rate != 0 && (cfg.Voice.Rate < 0.5 || cfg.Voice.Rate > 2.0) {
		errs = append(errs, fmt.Errorf("voice.rate %.2f is out of range [0.5, 2.0]", cfg.Voice.Rate))
	}
	if cfg.Voice.Pitch != 0 && (cfg.Voice.Pitch < 0.5 || cfg.Voice.Pitch > 2.0) {
		errs = append(errs, fmt.Errorf("voice.pitch %.2f is out of range [0.5, 2.0]", cfg.Voice.Pitch))
	}
	if cfg.Voice.SpeakTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.speak_timeout %s must not be negative", cfg.Voice.SpeakTimeout))
	}

	if !cfg.Quota.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("quota.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Quota.Driver))
	}
	if cfg.Quota.Driver == QuotaSQLite && cfg.Quota.Path == "" {
		errs = append(errs, errors.New("quota.path is required when quota.driver is sqlite"))
	}
	if cfg.Quota.Driver == QuotaPostgres && cfg.Quota.PostgresDSN == "" {
		errs = append(errs, errors.New("quota.postgres_dsn is required when quota.driver is postgres"))
	}

	return errors.Join(errs...)
}
