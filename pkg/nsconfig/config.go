// Package nsconfig defines the on-disk YAML configuration for an
// application built on this framework: the listener settings plus the
// logging, telemetry, policy, and audit sections that surround them.
package nsconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nhairs/nserver/pkg/nslog"
	"github.com/nhairs/nserver/pkg/nstelemetry"
	"github.com/nhairs/nserver/pkg/policy"
	"github.com/nhairs/nserver/pkg/server"
)

// Config is the top-level on-disk configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Policy    PolicyConfig    `yaml:"policy"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig mirrors server.Settings field-for-field, expressed in
// YAML-friendly types (milliseconds instead of time.Duration).
type ServerConfig struct {
	Address              string `yaml:"address"`
	Port                 int    `yaml:"port"`
	Transport            string `yaml:"transport"` // "udp" or "tcp"
	TCPReadTimeoutMS     int    `yaml:"tcp_read_timeout_ms"`
	TCPIdleTimeoutMS     int    `yaml:"tcp_idle_timeout_ms"`
	WorkerCount          int    `yaml:"worker_count"`
	UDPMaxMessageBytes   int    `yaml:"udp_max_message_bytes"`
	CaseSensitiveDefault bool   `yaml:"case_sensitive_default"`
}

// ToSettings converts ServerConfig into the server.Settings value
// Server.New expects.
func (c ServerConfig) ToSettings() server.Settings {
	return server.Settings{
		Address:              c.Address,
		Port:                 c.Port,
		Transport:            c.Transport,
		TCPReadTimeout:       time.Duration(c.TCPReadTimeoutMS) * time.Millisecond,
		TCPIdleTimeout:       time.Duration(c.TCPIdleTimeoutMS) * time.Millisecond,
		WorkerCount:          c.WorkerCount,
		UDPMaxMessageBytes:   c.UDPMaxMessageBytes,
		CaseSensitiveDefault: c.CaseSensitiveDefault,
	}
}

// LoggingConfig mirrors nslog.Config.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	FilePath  string `yaml:"file_path"`
	AddSource bool   `yaml:"add_source"`
}

// ToNslogConfig converts LoggingConfig into nslog.Config.
func (c LoggingConfig) ToNslogConfig() nslog.Config {
	return nslog.Config{
		Level:     c.Level,
		Format:    c.Format,
		Output:    c.Output,
		FilePath:  c.FilePath,
		AddSource: c.AddSource,
	}
}

// TelemetryConfig mirrors nstelemetry.Config.
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	TracingEnabled    bool   `yaml:"tracing_enabled"`
	TracingEndpoint   string `yaml:"tracing_endpoint"`
}

// ToNstelemetryConfig converts TelemetryConfig into nstelemetry.Config.
func (c TelemetryConfig) ToNstelemetryConfig() nstelemetry.Config {
	return nstelemetry.Config{
		Enabled:           c.Enabled,
		ServiceName:       c.ServiceName,
		ServiceVersion:    c.ServiceVersion,
		PrometheusEnabled: c.PrometheusEnabled,
		PrometheusPort:    c.PrometheusPort,
		TracingEnabled:    c.TracingEnabled,
		TracingEndpoint:   c.TracingEndpoint,
	}
}

// PolicyConfig configures the optional expression-gated middleware.
// It takes effect only through ToEngine, which compiles it into a new
// Engine on each call; an Engine already registered as middleware is
// not changed when the file is reloaded.
type PolicyConfig struct {
	Enabled bool              `yaml:"enabled"`
	Rules   []PolicyRuleEntry `yaml:"rules"`
}

// PolicyRuleEntry is a single on-disk policy rule.
type PolicyRuleEntry struct {
	Name    string `yaml:"name"`
	Logic   string `yaml:"logic"`
	Action  string `yaml:"action"` // policy.ActionRefuse or policy.ActionBlock
	Enabled bool   `yaml:"enabled"`
}

// ToEngine compiles every entry into a fresh policy.Engine.
func (c PolicyConfig) ToEngine() (*policy.Engine, error) {
	e := policy.NewEngine()
	for _, entry := range c.Rules {
		if err := e.AddRule(&policy.Rule{
			Name:    entry.Name,
			Logic:   entry.Logic,
			Action:  entry.Action,
			Enabled: entry.Enabled,
		}); err != nil {
			return nil, fmt.Errorf("nsconfig: policy rule %q: %w", entry.Name, err)
		}
	}
	return e, nil
}

// AuditConfig configures the async query audit log.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	Workers    int    `yaml:"workers"`
	BufferSize int    `yaml:"buffer_size"`
}

// Load reads, parses, defaults, and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nsconfig: read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("nsconfig: parse config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("nsconfig: validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults returns a Config with every default applied and no
// file backing it, for tests and zero-config demo runs.
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Clone deep-copies cfg via a YAML round-trip.
func (c *Config) Clone() (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("nsconfig: marshal config for cloning: %w", err)
	}
	var clone Config
	if err := yaml.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("nsconfig: unmarshal config clone: %w", err)
	}
	clone.applyDefaults()
	return &clone, nil
}

// Save writes cfg back to path, via a temp-file-then-rename to avoid
// a torn write if interrupted mid-save.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("nsconfig: marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("nsconfig: write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("nsconfig: rename config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9953
	}
	if c.Server.Transport == "" {
		c.Server.Transport = "udp"
	}
	if c.Server.TCPReadTimeoutMS == 0 {
		c.Server.TCPReadTimeoutMS = 5000
	}
	if c.Server.TCPIdleTimeoutMS == 0 {
		c.Server.TCPIdleTimeoutMS = 30000
	}
	if c.Server.WorkerCount == 0 {
		c.Server.WorkerCount = 1
	}
	if c.Server.UDPMaxMessageBytes == 0 {
		c.Server.UDPMaxMessageBytes = 512
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "nserver"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9100
	}

	if c.Audit.Enabled {
		if c.Audit.Path == "" {
			c.Audit.Path = "./nserver-audit.db"
		}
		if c.Audit.Workers == 0 {
			c.Audit.Workers = 4
		}
		if c.Audit.BufferSize == 0 {
			c.Audit.BufferSize = 1000
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return fmt.Errorf("server.address cannot be empty")
	}
	if c.Server.Transport != "udp" && c.Server.Transport != "tcp" {
		return fmt.Errorf("server.transport must be 'udp' or 'tcp', got %q", c.Server.Transport)
	}
	if c.Server.WorkerCount < 1 {
		return fmt.Errorf("server.worker_count must be >= 1")
	}
	if c.Server.UDPMaxMessageBytes < 1 {
		return fmt.Errorf("server.udp_max_message_bytes must be >= 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}
	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging.output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit.path must be set when audit is enabled")
	}

	return nil
}
