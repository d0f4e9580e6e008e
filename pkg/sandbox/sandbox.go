package sandbox

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single command when neither the request nor the
// config sets one. Codex turns routinely run for many minutes.
const DefaultTimeout = 30 * time.Minute

// Config defines how commands are launched on the host.
type Config struct {
	// Timeout applied when a request has none
	Timeout time.Duration `json:"timeout"`

	// WorkingDir used when a request has none
	WorkingDir string `json:"working_dir"`

	// InheritEnv passes the server's environment through to the command
	InheritEnv bool `json:"inherit_env"`

	// Env overrides applied after the inherited environment
	Env map[string]string `json:"env"`

	// FilesystemAccess restricts working directories
	FilesystemAccess FilesystemAccess `json:"filesystem_access"`
}

// FilesystemAccess defines working directory rules
type FilesystemAccess struct {
	// AllowedPaths lists directory trees commands may run in; empty allows all
	AllowedPaths []string `json:"allowed_paths"`

	// DeniedPaths lists directory trees commands may never run in
	DeniedPaths []string `json:"denied_paths"`
}

// ExecuteRequest represents a sandbox execution request
type ExecuteRequest struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env"`
	WorkingDir string            `json:"working_dir"`
	Stdin      []byte            `json:"stdin"`
	Timeout    time.Duration     `json:"timeout"`
}

// ExecuteResult represents a sandbox execution result
type ExecuteResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Sandbox defines the interface for command execution
type Sandbox interface {
	// Execute runs a command. A non-zero exit is reported through
	// ExecuteResult.ExitCode, not as an error.
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	GetConfig() Config
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Timeout:    DefaultTimeout,
		InheritEnv: true,
		Env:        map[string]string{},
		FilesystemAccess: FilesystemAccess{
			DeniedPaths: []string{"/proc", "/sys"},
		},
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	if cfg.Timeout < 0 {
		return ErrInvalidTimeout
	}
	for key := range cfg.Env {
		if key == "" {
			return ErrInvalidEnv
		}
	}
	return nil
}
