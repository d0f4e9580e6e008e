package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if strings.ContainsAny(model, " \t\n") {
		return fmt.Errorf("model name %q must not contain whitespace", model)
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBackend validates a session backend name
func (v *Validator) ValidateBackend(backend string) error {
	switch backend {
	case BackendMemory, BackendSQLite:
		return nil
	}
	return fmt.Errorf("invalid session backend: %s (must be one of: memory, sqlite)", backend)
}

// ValidateDuration accepts Go durations and "0"; empty is allowed when optional.
func (v *Validator) ValidateDuration(field, value string, optional bool) error {
	if value == "" {
		if optional {
			return nil
		}
		return fmt.Errorf("%s is required", field)
	}
	if value == "0" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be >= 0", field)
	}
	return nil
}

// ValidateCronSchedule validates a standard or descriptor cron schedule
func (v *Validator) ValidateCronSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateVersionConstraint validates a semantic version constraint
func (v *Validator) ValidateVersionConstraint(constraint string) error {
	if _, err := semver.NewConstraint(constraint); err != nil {
		return fmt.Errorf("invalid min_version constraint %q: %w", constraint, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if strings.TrimSpace(cfg.Codex.Command) == "" {
		errs = append(errs, fmt.Errorf("codex.command is required"))
	}
	if cfg.Codex.DefaultModel != "" {
		if err := v.ValidateModel(cfg.Codex.DefaultModel); err != nil {
			errs = append(errs, fmt.Errorf("codex.default_model: %w", err))
		}
	}
	if err := v.ValidateDuration("codex.timeout", cfg.Codex.Timeout, true); err != nil {
		errs = append(errs, err)
	}
	if cfg.Codex.MinVersion != "" {
		if err := v.ValidateVersionConstraint(cfg.Codex.MinVersion); err != nil {
			errs = append(errs, err)
		}
	}

	if err := v.ValidateBackend(cfg.Sessions.Backend); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateDuration("sessions.max_idle", cfg.Sessions.MaxIdle, true); err != nil {
		errs = append(errs, err)
	}
	if cfg.Sessions.MaxIdleDuration() > 0 {
		if err := v.ValidateCronSchedule(cfg.Sessions.CleanupSchedule); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Server.Name) == "" {
		errs = append(errs, fmt.Errorf("server.name is required"))
	}
	if cfg.Server.QueueWarnAfterMs < 0 {
		errs = append(errs, fmt.Errorf("server.queue_warn_after_ms must be >= 0"))
	}
	if cfg.Server.StatelessConcurrency < 1 {
		errs = append(errs, fmt.Errorf("server.stateless_concurrency must be >= 1"))
	}
	if err := v.ValidateDuration("server.tool_timeout", cfg.Server.ToolTimeout, true); err != nil {
		errs = append(errs, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("logging.max_size must be >= 0"))
	}

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Addr) == "" {
		errs = append(errs, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}
	if cfg.Tracing.Enabled {
		errs = append(errs, v.ValidateTracing(cfg.Tracing)...)
	}

	return errs
}

// ValidateTracing checks the exporter settings of an enabled tracer.
func (v *Validator) ValidateTracing(cfg TracingConfig) []error {
	var errs []error
	if strings.TrimSpace(cfg.ServiceName) == "" {
		errs = append(errs, fmt.Errorf("tracing.service_name is required when tracing is enabled"))
	}
	switch cfg.Exporter {
	case TraceExporterFile, "":
	case TraceExporterOTLP:
		if strings.TrimSpace(cfg.Endpoint) == "" {
			errs = append(errs, fmt.Errorf("tracing.endpoint is required for the otlp exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid tracing.exporter %q (must be file or otlp)", cfg.Exporter))
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}
	return errs
}
