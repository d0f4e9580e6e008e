package sandbox

import "errors"

var (
	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrInvalidEnv is returned when an environment override has an empty name
	ErrInvalidEnv = errors.New("invalid environment override (empty name)")

	// ErrSandboxNotRunning is returned when the sandbox is not running
	ErrSandboxNotRunning = errors.New("sandbox is not running")

	// ErrSandboxAlreadyRunning is returned when the sandbox is already running
	ErrSandboxAlreadyRunning = errors.New("sandbox is already running")

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrFilesystemAccessDenied is returned when the working directory is not allowed
	ErrFilesystemAccessDenied = errors.New("filesystem access denied")

	// ErrCommandRequired is returned when a request has no command
	ErrCommandRequired = errors.New("command is required")
)
