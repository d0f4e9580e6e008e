package codex

import (
	"context"
	"testing"
	"time"

	"github.com/harun/codexmcp/pkg/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHostRunner(t *testing.T) *SandboxRunner {
	t.Helper()
	cfg := sandbox.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	sb, err := sandbox.NewHostSandbox(cfg)
	require.NoError(t, err)
	require.NoError(t, sb.Start(context.Background()))
	t.Cleanup(func() { _ = sb.Stop(context.Background()) })
	return NewSandboxRunner(sb)
}

func TestSandboxRunner_Success(t *testing.T) {
	runner := newHostRunner(t)

	out, err := runner.Run(context.Background(), "sh", []string{"-c", "echo answer; echo 'conversation id: c-42' >&2"})
	require.NoError(t, err)
	assert.Equal(t, "answer\n", out.Stdout)

	id, ok := ParseConversationID(out.Stderr)
	assert.True(t, ok)
	assert.Equal(t, "c-42", id)
}

func TestSandboxRunner_NonZeroExit(t *testing.T) {
	runner := newHostRunner(t)

	_, err := runner.Run(context.Background(), "sh", []string{"-c", "echo partial; echo 'bad flag' >&2; exit 2"})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 2, execErr.ExitCode)
	assert.Equal(t, "partial\n", execErr.Stdout)
	assert.Equal(t, "bad flag\n", execErr.Stderr)
	assert.Equal(t, "sh", execErr.Command)
	assert.Equal(t, KindExecution, KindOf(err))
}

func TestSandboxRunner_SpawnFailure(t *testing.T) {
	runner := newHostRunner(t)

	_, err := runner.Run(context.Background(), "codex-binary-that-does-not-exist", []string{"exec"})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, -1, execErr.ExitCode)
}

func TestSandboxRunner_Timeout(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	sb, err := sandbox.NewHostSandbox(cfg)
	require.NoError(t, err)
	require.NoError(t, sb.Start(context.Background()))
	defer sb.Stop(context.Background())

	_, err = NewSandboxRunner(sb).Run(context.Background(), "sleep", []string{"5"})
	assert.ErrorIs(t, err, sandbox.ErrExecutionTimeout)
	assert.Equal(t, KindExecution, KindOf(err))
}

func TestRunnerFunc(t *testing.T) {
	var gotCommand string
	var gotArgs []string
	r := RunnerFunc(func(_ context.Context, command string, args []string) (Output, error) {
		gotCommand, gotArgs = command, args
		return Output{Stdout: "x"}, nil
	})

	out, err := r.Run(context.Background(), "codex", []string{"--version"})
	require.NoError(t, err)
	assert.Equal(t, "x", out.Stdout)
	assert.Equal(t, "codex", gotCommand)
	assert.Equal(t, []string{"--version"}, gotArgs)
}
