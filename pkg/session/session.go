package session

import (
	"context"
	"errors"
	"time"

	"github.com/harun/codexmcp/internal/observability"
	"github.com/harun/codexmcp/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrSessionNotFound is returned for ids the store does not know.
var ErrSessionNotFound = errors.New("session not found")

// Session is the stored state of one logical conversation.
type Session struct {
	SessionID      string    `json:"sessionId" yaml:"sessionId"`
	ConversationID string    `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Resumable reports whether the next invocation should resume a conversation.
func (s *Session) Resumable() bool {
	return s.ConversationID != ""
}

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	CreateSession(ctx context.Context) (string, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpdateConversationID(ctx context.Context, sessionID, conversationID string) error
	Touch(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

// startOp opens a span for a store operation and returns a finisher that
// records the outcome and latency.
func startOp(ctx context.Context, backend, op, sessionID string) (context.Context, func(error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID != "" {
		ctx = tracing.WithSessionID(ctx, sessionID)
	}

	attrs := []attribute.KeyValue{attribute.String("session.backend", backend)}
	if sessionID != "" {
		attrs = append(attrs, attribute.String("session_id", sessionID))
	}
	ctx, span := tracing.StartSpan(ctx, "session."+op, attrs...)
	start := time.Now()

	return ctx, func(err error) {
		observability.RecordSessionOp(backend, op, time.Since(start))
		finishSpan(span, err)
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
