package codex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func versionRunner(out Output, err error) Runner {
	return RunnerFunc(func(_ context.Context, command string, args []string) (Output, error) {
		if len(args) != 1 || args[0] != "--version" {
			return Output{}, errors.New("unexpected args")
		}
		return out, err
	})
}

func TestCheckVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("satisfied", func(t *testing.T) {
		v, err := CheckVersion(ctx, versionRunner(Output{Stdout: "codex-cli 0.41.0\n"}, nil), "", "")
		require.NoError(t, err)
		assert.Equal(t, "0.41.0", v.String())
	})

	t.Run("too old", func(t *testing.T) {
		v, err := CheckVersion(ctx, versionRunner(Output{Stdout: "codex-cli 0.30.2"}, nil), "codex", ">= 0.36.0")
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
		require.NotNil(t, v)
		assert.Equal(t, "0.30.2", v.String())
	})

	t.Run("version on stderr", func(t *testing.T) {
		v, err := CheckVersion(ctx, versionRunner(Output{Stderr: "codex 1.2.3-beta.1"}, nil), "codex", ">= 0.36.0-0")
		require.NoError(t, err)
		assert.Equal(t, "1.2.3-beta.1", v.String())
	})

	t.Run("no version in output", func(t *testing.T) {
		_, err := CheckVersion(ctx, versionRunner(Output{Stdout: "codex"}, nil), "codex", "")
		assert.Error(t, err)
	})

	t.Run("runner failure", func(t *testing.T) {
		_, err := CheckVersion(ctx, versionRunner(Output{}, &ExecutionError{Command: "codex", ExitCode: 127}), "codex", "")
		assert.Equal(t, KindExecution, KindOf(err))
	})

	t.Run("invalid constraint", func(t *testing.T) {
		_, err := CheckVersion(ctx, versionRunner(Output{Stdout: "0.40.0"}, nil), "codex", "not a constraint")
		assert.Error(t, err)
	})
}
