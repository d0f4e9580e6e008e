package daemon

import (
	"context"
	"fmt"

	"github.com/harun/codexmcp/internal/config"
	"github.com/harun/codexmcp/pkg/sandbox"
	"github.com/harun/codexmcp/pkg/session"
)

// OpenStore builds the session store selected by cfg.
func OpenStore(cfg config.SessionsConfig) (session.Store, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return session.NewMemoryStore(), nil
	case config.BackendSQLite:
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("sessions.db_path is required for the sqlite backend")
		}
		return session.NewSQLiteStore(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// SandboxConfig maps the codex settings onto a host sandbox configuration.
func SandboxConfig(cfg config.CodexConfig) sandbox.Config {
	sbCfg := sandbox.DefaultConfig()
	if timeout := cfg.TimeoutDuration(); timeout > 0 {
		sbCfg.Timeout = timeout
	}
	sbCfg.WorkingDir = cfg.WorkingDir
	sbCfg.InheritEnv = cfg.InheritEnv
	for k, v := range cfg.Env {
		sbCfg.Env[k] = v
	}
	if len(cfg.AllowedDirs) > 0 {
		sbCfg.FilesystemAccess.AllowedPaths = append([]string(nil), cfg.AllowedDirs...)
	}
	sbCfg.FilesystemAccess.DeniedPaths = append(sbCfg.FilesystemAccess.DeniedPaths, cfg.DeniedDirs...)
	return sbCfg
}

// StartSandbox creates and starts the host sandbox codex runs in.
func StartSandbox(ctx context.Context, cfg config.CodexConfig) (*sandbox.HostSandbox, error) {
	sb, err := sandbox.NewHostSandbox(SandboxConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	if err := sb.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}
	return sb, nil
}
