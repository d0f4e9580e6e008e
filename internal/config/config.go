package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config represents the codexmcp configuration
type Config struct {
	Codex    CodexConfig    `json:"codex" mapstructure:"codex"`
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// CodexConfig controls how the codex CLI is launched
type CodexConfig struct {
	Command      string            `json:"command" mapstructure:"command"`
	DefaultModel string            `json:"default_model" mapstructure:"default_model"`
	WorkingDir   string            `json:"working_dir" mapstructure:"working_dir"`
	Timeout      string            `json:"timeout" mapstructure:"timeout"` // Go duration, e.g. "30m"
	InheritEnv   bool              `json:"inherit_env" mapstructure:"inherit_env"`
	Env          map[string]string `json:"env" mapstructure:"env"`
	MinVersion   string            `json:"min_version" mapstructure:"min_version"` // semver constraint
	AllowedDirs  []string          `json:"allowed_dirs" mapstructure:"allowed_dirs"`
	DeniedDirs   []string          `json:"denied_dirs" mapstructure:"denied_dirs"`
}

// Session store backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// SessionsConfig selects and maintains the session store
type SessionsConfig struct {
	Backend         string `json:"backend" mapstructure:"backend"` // memory, sqlite
	DBPath          string `json:"db_path" mapstructure:"db_path"`
	MaxIdle         string `json:"max_idle" mapstructure:"max_idle"` // "0" disables cleanup
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// ServerConfig holds MCP server settings
type ServerConfig struct {
	Name                 string `json:"name" mapstructure:"name"`
	Version              string `json:"version" mapstructure:"version"`
	QueueWarnAfterMs     int    `json:"queue_warn_after_ms" mapstructure:"queue_warn_after_ms"`
	ToolTimeout          string `json:"tool_timeout" mapstructure:"tool_timeout"`
	StatelessConcurrency int    `json:"stateless_concurrency" mapstructure:"stateless_concurrency"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level          string   `json:"level" mapstructure:"level"`
	File           string   `json:"file" mapstructure:"file"`
	Console        bool     `json:"console" mapstructure:"console"`
	Pretty         bool     `json:"pretty" mapstructure:"pretty"`
	MaxSize        int      `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge         int      `json:"max_age" mapstructure:"max_age"`   // days
	Compress       bool     `json:"compress" mapstructure:"compress"`
	Redaction      bool     `json:"redaction" mapstructure:"redaction"`
	RedactPatterns []string `json:"redact_patterns" mapstructure:"redact_patterns"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// Trace exporters
const (
	TraceExporterFile = "file"
	TraceExporterOTLP = "otlp"
)

// TracingConfig controls the OpenTelemetry tracer provider
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	Exporter    string  `json:"exporter" mapstructure:"exporter"` // file, otlp
	File        string  `json:"file" mapstructure:"file"`         // defaults to <data_dir>/traces.jsonl
	Endpoint    string  `json:"endpoint" mapstructure:"endpoint"` // OTLP gRPC collector
	Insecure    bool    `json:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Codex: CodexConfig{
			Command:      "codex",
			DefaultModel: "gpt-5-codex",
			Timeout:      "30m",
			InheritEnv:   true,
			Env:          map[string]string{},
			MinVersion:   ">= 0.36.0",
		},
		Sessions: SessionsConfig{
			Backend:         BackendMemory,
			MaxIdle:         "0",
			CleanupSchedule: "@every 10m",
		},
		Server: ServerConfig{
			Name:                 "codex-mcp",
			Version:              "dev",
			QueueWarnAfterMs:     120000,
			ToolTimeout:          "35m",
			StatelessConcurrency: 4,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "codexmcp",
			Exporter:    TraceExporterFile,
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// TimeoutDuration returns the per-call codex timeout; zero means the sandbox default.
func (c CodexConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout)
}

// MaxIdleDuration returns the idle cutoff for session cleanup; zero disables cleanup.
func (s SessionsConfig) MaxIdleDuration() time.Duration {
	return parseDuration(s.MaxIdle)
}

// ToolTimeoutDuration returns the tool executor timeout.
func (s ServerConfig) ToolTimeoutDuration() time.Duration {
	return parseDuration(s.ToolTimeout)
}

// QueueWarnAfter returns the queue wait warning threshold.
func (s ServerConfig) QueueWarnAfter() time.Duration {
	return time.Duration(s.QueueWarnAfterMs) * time.Millisecond
}

func parseDuration(s string) time.Duration {
	if s == "" || s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
