package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, "codex", cfg.Codex.Command)
		assert.Equal(t, "gpt-5-codex", cfg.Codex.DefaultModel)
		assert.Equal(t, "memory", cfg.Sessions.Backend)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "sessions.db"), cfg.Sessions.DBPath)
		assert.Equal(t, filepath.Join(cfg.DataDir, "traces.jsonl"), cfg.Tracing.File)
		assert.Equal(t, TraceExporterFile, cfg.Tracing.Exporter)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "codexmcp.json")

		content := `{
			"codex": {"default_model": "o3", "timeout": "5m", "env": {"CODEX_HOME": "/tmp/codex"}},
			"sessions": {"backend": "sqlite"},
			"data_dir": "` + filepath.ToSlash(dir) + `"
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, "o3", cfg.Codex.DefaultModel)
		assert.Equal(t, "codex", cfg.Codex.Command)
		assert.Equal(t, "/tmp/codex", cfg.Codex.Env["codex_home"])
		assert.Equal(t, "sqlite", cfg.Sessions.Backend)
		assert.Equal(t, filepath.Join(filepath.ToSlash(dir), "sessions.db"), cfg.Sessions.DBPath)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("CODEXMCP_CODEX_DEFAULT_MODEL", "gpt-4")
		t.Setenv("CODEXMCP_LOGGING_LEVEL", "debug")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()
		require.NoError(t, err)

		assert.Equal(t, "gpt-4", cfg.Codex.DefaultModel)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "codexmcp.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Codex.DefaultModel = "o4-mini"
	cfg.Sessions.Backend = "sqlite"
	cfg.DataDir = t.TempDir()

	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "o4-mini", loaded.Codex.DefaultModel)
	assert.Equal(t, "sqlite", loaded.Sessions.Backend)
	assert.Equal(t, cfg.DataDir, loaded.DataDir)
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/codexmcp.json", NewLoader("/etc/codexmcp.json").GetConfigPath())

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".codexmcp", "codexmcp.json"), NewLoader("").GetConfigPath())
}
