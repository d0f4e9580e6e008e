package toolexecutor

import (
	"context"
	"time"
)

// ExecutionContext provides runtime information for one tool execution
type ExecutionContext struct {
	RequestID string
	SessionID string
	Timeout   time.Duration
}

type execContextKey struct{}

// ContextWithExecContext attaches the execution context to a context.Context for tool handlers.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext extracts the execution context from a context.Context.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	if execCtx, ok := ctx.Value(execContextKey{}).(*ExecutionContext); ok {
		return execCtx
	}
	return nil
}
