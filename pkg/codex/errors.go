package codex

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harun/codexmcp/pkg/session"
)

// Kind classifies dispatcher errors for callers such as the MCP tool surface.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindSessionNotFound Kind = "session_not_found"
	KindExecution       Kind = "execution"
	KindInternal        Kind = "internal"
)

// ValidationError reports a malformed request. It is always raised before the
// runner is invoked.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SessionNotFoundError reports a session id that the store does not know.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// Unwrap lets errors.Is match session.ErrSessionNotFound.
func (e *SessionNotFoundError) Unwrap() error {
	return session.ErrSessionNotFound
}

// ExecutionError reports a failed codex run: spawn failure, timeout or a
// non-zero exit.
type ExecutionError struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Command)
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if tail := lastLine(e.Stderr); tail != "" {
		fmt.Fprintf(&b, ": %s", tail)
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	var (
		validationErr *ValidationError
		notFoundErr   *SessionNotFoundError
		executionErr  *ExecutionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &notFoundErr), errors.Is(err, session.ErrSessionNotFound):
		return KindSessionNotFound
	case errors.As(err, &executionErr):
		return KindExecution
	default:
		return KindInternal
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	const max = 200
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
