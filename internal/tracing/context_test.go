package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewRequestID(t *testing.T) {
	id1 := NewRequestID()
	id2 := NewRequestID()

	if len(id1) != 21 {
		t.Errorf("Expected 21 character request ID, got %q", id1)
	}

	if id1 == id2 {
		t.Error("NewRequestID returned duplicate IDs")
	}
}

func TestWithSessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "session-abc")

	if got := GetSessionID(ctx); got != "session-abc" {
		t.Errorf("Expected session ID session-abc, got %s", got)
	}
}

func TestGettersEmpty(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" || GetRequestID(ctx) != "" || GetSessionID(ctx) != "" || GetTool(ctx) != "" {
		t.Error("Expected empty values from a bare context")
	}
}

func TestFromContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithSessionID(ctx, "session-abc")
	ctx = WithTool(ctx, "codex")

	tc := FromContext(ctx)
	clone := NewContext(context.Background(), tc)

	if GetTraceID(clone) != "trace-123" {
		t.Errorf("Expected trace ID trace-123, got %s", GetTraceID(clone))
	}
	if GetRequestID(clone) != "req-456" {
		t.Errorf("Expected request ID req-456, got %s", GetRequestID(clone))
	}
	if GetSessionID(clone) != "session-abc" {
		t.Errorf("Expected session ID session-abc, got %s", GetSessionID(clone))
	}
	if GetTool(clone) != "codex" {
		t.Errorf("Expected tool codex, got %s", GetTool(clone))
	}
}

func TestNewRequestContext_KeepsExistingTrace(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-keep")
	ctx = NewRequestContext(ctx, "ping")

	if GetTraceID(ctx) != "trace-keep" {
		t.Errorf("Expected existing trace ID to be kept, got %s", GetTraceID(ctx))
	}
	if GetRequestID(ctx) == "" {
		t.Error("Expected a request ID")
	}
	if GetTool(ctx) != "ping" {
		t.Errorf("Expected tool ping, got %s", GetTool(ctx))
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithSessionID(WithTraceID(context.Background(), "trace-1"), "session-1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-1"`) {
		t.Errorf("Expected trace_id field, got %s", out)
	}
	if !strings.Contains(out, `"session_id":"session-1"`) {
		t.Errorf("Expected session_id field, got %s", out)
	}
}
