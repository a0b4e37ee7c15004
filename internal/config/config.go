// Package config loads h3core's YAML configuration, following the
// teacher's internal/config package shape: a nested Config struct, a
// Duration wrapper for human-readable YAML durations, Default/Load/Validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete h3core runtime configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	H3          H3Config          `yaml:"h3"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Logging     LogConfig         `yaml:"logging"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// ServerConfig configures the listening address and TLS material.
type ServerConfig struct {
	Address string    `yaml:"address"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig selects a cert/key pair, or requests a self-signed one.
type TLSConfig struct {
	Auto bool   `yaml:"auto"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// H3Config holds the HTTP/3-layer knobs spec §4/§9 leave as deployment
// choices: QPACK dynamic table sizing, the blocked-stream limit a
// SETTINGS frame advertises, and the maximum field-section size a
// HEADERS frame may decode to.
type H3Config struct {
	QPACKMaxTableCapacity uint64 `yaml:"qpack_max_table_capacity"`
	QPACKBlockedStreams   uint64 `yaml:"qpack_blocked_streams"`
	MaxFieldSectionSize   uint64 `yaml:"max_field_section_size"`
	MaxPushID             uint64 `yaml:"max_push_id"`
}

// SchedulerConfig sizes the driver-concurrency pool (internal/h3sched).
type SchedulerConfig struct {
	MaxConcurrentDrivers int      `yaml:"max_concurrent_drivers"`
	SubmitTimeout        Duration `yaml:"submit_timeout"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiagnosticsConfig configures the optional frame tracer (internal/h3diag).
type DiagnosticsConfig struct {
	TraceEnabled bool   `yaml:"trace_enabled"`
	TracePath    string `yaml:"trace_path"`
}

// Duration is a time.Duration that supports YAML string unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads config from a YAML file, applying defaults for missing values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.TLS.Auto && (c.Server.TLS.Cert != "" || c.Server.TLS.Key != "") {
		return fmt.Errorf("server.tls.auto and server.tls.cert/key are mutually exclusive")
	}
	if !c.Server.TLS.Auto && c.Server.TLS.Cert == "" && c.Server.TLS.Key != "" {
		return fmt.Errorf("server.tls.cert is required when server.tls.key is set")
	}
	if !c.Server.TLS.Auto && c.Server.TLS.Key == "" && c.Server.TLS.Cert != "" {
		return fmt.Errorf("server.tls.key is required when server.tls.cert is set")
	}

	if c.H3.QPACKMaxTableCapacity == 0 {
		return fmt.Errorf("h3.qpack_max_table_capacity must be > 0")
	}
	if c.H3.MaxFieldSectionSize == 0 {
		return fmt.Errorf("h3.max_field_section_size must be > 0")
	}

	if c.Scheduler.MaxConcurrentDrivers < 1 {
		return fmt.Errorf("scheduler.max_concurrent_drivers must be >= 1, got %d", c.Scheduler.MaxConcurrentDrivers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}

	if c.Diagnostics.TraceEnabled && c.Diagnostics.TracePath == "" {
		return fmt.Errorf("diagnostics.trace_path is required when diagnostics.trace_enabled is true")
	}

	return nil
}
