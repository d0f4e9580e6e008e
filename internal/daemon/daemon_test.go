package daemon

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harun/codexmcp/internal/config"
	"github.com/harun/codexmcp/internal/logger"
	"github.com/harun/codexmcp/pkg/codex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCodex struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeCodex) Run(ctx context.Context, command string, args []string) (codex.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{command}, args...))
	f.mu.Unlock()

	if len(args) == 1 && args[0] == "--version" {
		return codex.Output{Stdout: "codex-cli 0.40.0\n"}, nil
	}
	return codex.Output{Stdout: "ok", Stderr: "conversation id: conv-1\n"}, nil
}

func (f *fakeCodex) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Logging.Console = false
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestNew(t *testing.T) {
	d, err := New(testConfig(t), testLogger(t), WithRunner(&fakeCodex{}))
	require.NoError(t, err)

	assert.NotNil(t, d.GetStore())
	assert.NotNil(t, d.GetQueue())
	assert.NotNil(t, d.GetDispatcher())
	assert.NotNil(t, d.GetMCPServer())
	assert.Nil(t, d.cleanup)
	assert.Equal(t, []string{"codex", "help", "list_sessions", "new_session", "ping"}, d.GetToolExecutor().ListTools())
	assert.Equal(t, "gpt-5-codex", d.GetDispatcher().DefaultModel())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.Backend = "redis"

	_, err := New(cfg, testLogger(t), WithRunner(&fakeCodex{}))
	assert.Error(t, err)
}

func TestNew_SQLiteBackendWithCleanup(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.Backend = config.BackendSQLite
	cfg.Sessions.DBPath = filepath.Join(cfg.DataDir, "sessions.db")
	cfg.Sessions.MaxIdle = "1h"

	d, err := New(cfg, testLogger(t), WithRunner(&fakeCodex{}))
	require.NoError(t, err)
	require.NotNil(t, d.cleanup)

	require.NoError(t, d.Start())
	assert.True(t, d.cleanup.IsRunning())
	require.NoError(t, d.Stop())

	_, err = os.Stat(cfg.Sessions.DBPath)
	assert.NoError(t, err)
}

func TestDaemonStartStop(t *testing.T) {
	runner := &fakeCodex{}
	d, err := New(testConfig(t), testLogger(t), WithRunner(runner))
	require.NoError(t, err)

	require.NoError(t, d.Start())
	assert.True(t, d.Status().Running)
	assert.Error(t, d.Start())

	require.Eventually(t, func() bool {
		for _, call := range runner.Calls() {
			if len(call) == 2 && call[1] == "--version" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.Error(t, d.Stop())
}

func TestDaemon_CodexToolThroughQueue(t *testing.T) {
	runner := &fakeCodex{}
	d, err := New(testConfig(t), testLogger(t), WithRunner(runner))
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	ctx := context.Background()
	created := d.GetToolExecutor().Execute(ctx, codex.ToolNewSession, nil, nil)
	require.True(t, created.Success, created.Error)
	sessionID := created.Output.(map[string]string)["sessionId"]

	result := d.GetToolExecutor().Execute(ctx, codex.ToolCodex, map[string]interface{}{
		"prompt":    "hello",
		"sessionId": sessionID,
	}, nil)
	require.True(t, result.Success, result.Error)

	s, err := d.GetStore().GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", s.ConversationID)
}

func TestDaemon_MetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	d, err := New(cfg, testLogger(t), WithRunner(&fakeCodex{}))
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	resp, err := http.Get("http://" + d.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "active_sessions")
}

func TestDaemon_RunStopsOnContextCancel(t *testing.T) {
	in, inWriter := io.Pipe()
	defer inWriter.Close()

	d, err := New(testConfig(t), testLogger(t), WithRunner(&fakeCodex{}), WithIO(in, io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Status().Running }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, d.Status().Running)
}

func TestDaemon_ApplyConfig(t *testing.T) {
	d, err := New(testConfig(t), testLogger(t), WithRunner(&fakeCodex{}))
	require.NoError(t, err)

	next := testConfig(t)
	next.Codex.DefaultModel = "o3"
	next.Logging.Level = "debug"
	d.applyConfig(next)

	assert.Equal(t, "o3", d.GetDispatcher().DefaultModel())
	assert.Same(t, next, d.GetConfig())
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(config.SessionsConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = OpenStore(config.SessionsConfig{Backend: config.BackendSQLite})
	assert.Error(t, err)

	_, err = OpenStore(config.SessionsConfig{Backend: "redis"})
	assert.Error(t, err)
}

func TestSandboxConfig(t *testing.T) {
	cc := config.DefaultConfig().Codex
	cc.Timeout = "5m"
	cc.WorkingDir = "/work"
	cc.Env = map[string]string{"CODEX_HOME": "/tmp/codex"}
	cc.AllowedDirs = []string{"/work"}
	cc.DeniedDirs = []string{"/etc"}

	sbCfg := SandboxConfig(cc)
	assert.Equal(t, 5*time.Minute, sbCfg.Timeout)
	assert.Equal(t, "/work", sbCfg.WorkingDir)
	assert.Equal(t, "/tmp/codex", sbCfg.Env["CODEX_HOME"])
	assert.Equal(t, []string{"/work"}, sbCfg.FilesystemAccess.AllowedPaths)
	assert.Contains(t, sbCfg.FilesystemAccess.DeniedPaths, "/etc")
	assert.Contains(t, sbCfg.FilesystemAccess.DeniedPaths, "/proc")
}
