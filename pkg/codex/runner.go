package codex

import (
	"context"
	"fmt"

	"github.com/harun/codexmcp/pkg/sandbox"
)

// Output is the captured output of one run.
type Output struct {
	Stdout string
	Stderr string
}

// Runner executes a command and returns its captured output. Implementations
// report every failure (spawn, timeout, non-zero exit) as an error; the
// dispatcher hands that error back to its caller untouched.
type Runner interface {
	Run(ctx context.Context, command string, args []string) (Output, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, command string, args []string) (Output, error)

func (f RunnerFunc) Run(ctx context.Context, command string, args []string) (Output, error) {
	return f(ctx, command, args)
}

// SandboxRunner runs commands through a sandbox and converts failures into
// *ExecutionError.
type SandboxRunner struct {
	sandbox sandbox.Sandbox
}

// NewSandboxRunner adapts sb to Runner.
func NewSandboxRunner(sb sandbox.Sandbox) *SandboxRunner {
	return &SandboxRunner{sandbox: sb}
}

func (r *SandboxRunner) Run(ctx context.Context, command string, args []string) (Output, error) {
	result, err := r.sandbox.Execute(ctx, sandbox.ExecuteRequest{
		Command: command,
		Args:    args,
	})

	out := Output{Stdout: string(result.Stdout), Stderr: string(result.Stderr)}

	if err != nil {
		return Output{}, &ExecutionError{
			Command:  command,
			Args:     args,
			ExitCode: result.ExitCode,
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			Err:      err,
		}
	}

	if result.ExitCode != 0 {
		return Output{}, &ExecutionError{
			Command:  command,
			Args:     args,
			ExitCode: result.ExitCode,
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			Err:      fmt.Errorf("exit status %d", result.ExitCode),
		}
	}

	return out, nil
}
