package tracing

import (
	"context"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the tool-call request ID
	RequestIDKey ContextKey = "request_id"
	// SessionIDKey is the context key for the caller-visible session ID
	SessionIDKey ContextKey = "session_id"
	// ToolKey is the context key for the tool being executed
	ToolKey ContextKey = "tool"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RequestID string
	SessionID string
	Tool      string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID generates a short request ID for a single tool call.
func NewRequestID() string {
	id, err := gonanoid.New()
	if err != nil {
		return uuid.New().String()
	}
	return id
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithTool adds a tool name to the context
func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, ToolKey, tool)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// GetTool retrieves the tool name from the context
func GetTool(ctx context.Context) string {
	if tool, ok := ctx.Value(ToolKey).(string); ok {
		return tool
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		SessionID: GetSessionID(ctx),
		Tool:      GetTool(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.SessionID != "" {
		ctx = WithSessionID(ctx, tc.SessionID)
	}
	if tc.Tool != "" {
		ctx = WithTool(ctx, tc.Tool)
	}
	return ctx
}

// NewRequestContext creates a context for one tool call with fresh trace and request IDs
func NewRequestContext(ctx context.Context, tool string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRequestID(ctx, NewRequestID())
	return WithTool(ctx, tool)
}
