package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// waitDelay bounds how long Execute waits for stdio to drain after the
// process has been killed; codex may leave helpers holding the pipes.
const waitDelay = 5 * time.Second

// HostSandbox runs commands directly on the host
type HostSandbox struct {
	config  Config
	running bool
	mu      sync.RWMutex
}

// NewHostSandbox creates a new host sandbox
func NewHostSandbox(config Config) (*HostSandbox, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &HostSandbox{config: config}, nil
}

// Start initializes the sandbox
func (h *HostSandbox) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrSandboxAlreadyRunning
	}

	log.Info().
		Dur("timeout", effectiveTimeout(h.config, 0)).
		Bool("inherit_env", h.config.InheritEnv).
		Str("working_dir", h.config.WorkingDir).
		Msg("Starting host sandbox")

	h.running = true
	return nil
}

// Stop marks the sandbox stopped; in-flight commands keep running until their context ends.
func (h *HostSandbox) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrSandboxNotRunning
	}

	log.Info().Msg("Stopping host sandbox")
	h.running = false
	return nil
}

// IsRunning returns whether the sandbox is running
func (h *HostSandbox) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// GetConfig returns the sandbox configuration
func (h *HostSandbox) GetConfig() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// SetConfig updates the sandbox configuration
func (h *HostSandbox) SetConfig(config Config) error {
	if err := ValidateConfig(config); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = config
	return nil
}

// Execute runs a command on the host
func (h *HostSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ExecuteResult{}, ErrSandboxNotRunning
	}
	cfg := h.config
	h.mu.RUnlock()

	if req.Command == "" {
		return ExecuteResult{}, ErrCommandRequired
	}

	workingDir := req.WorkingDir
	if workingDir == "" {
		workingDir = cfg.WorkingDir
	}
	if err := checkFilesystemAccess(cfg.FilesystemAccess, workingDir); err != nil {
		return ExecuteResult{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, effectiveTimeout(cfg, req.Timeout))
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	cmd.WaitDelay = waitDelay
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	cmd.Env = buildEnvironment(cfg, req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := ExecuteResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.ExitCode = -1
		return result, ErrExecutionTimeout
	}
	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			result.ExitCode = -1
			return result, fmt.Errorf("failed to start %s: %w", req.Command, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	log.Debug().
		Str("command", req.Command).
		Int("args", len(req.Args)).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Command executed in sandbox")

	return result, nil
}

func effectiveTimeout(cfg Config, requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return DefaultTimeout
}

// checkFilesystemAccess enforces denied paths first, then allowed paths.
func checkFilesystemAccess(access FilesystemAccess, path string) error {
	if path == "" {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
	}

	for _, denied := range access.DeniedPaths {
		if within(abs, denied) {
			return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
		}
	}

	if len(access.AllowedPaths) == 0 {
		return nil
	}

	for _, allowed := range access.AllowedPaths {
		if within(abs, allowed) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
}

// within reports whether path equals root or lies beneath it.
func within(path, root string) bool {
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// buildEnvironment layers config overrides and then request overrides on top
// of the inherited environment, or on a minimal base when not inheriting.
func buildEnvironment(cfg Config, overrides map[string]string) []string {
	env := map[string]string{}
	if cfg.InheritEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	} else {
		env["PATH"] = "/usr/local/bin:/usr/bin:/bin"
		if home, err := os.UserHomeDir(); err == nil {
			env["HOME"] = home
		}
	}

	for k, v := range cfg.Env {
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}
