package codex

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/harun/codexmcp/internal/observability"
	"github.com/harun/codexmcp/internal/tracing"
	"github.com/harun/codexmcp/pkg/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher turns requests into codex runs and keeps sessions in step with
// the conversations codex reports.
type Dispatcher struct {
	store        session.Store
	runner       Runner
	command      string
	defaultModel atomic.Pointer[string]
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCommand overrides the executable name, e.g. with an absolute path.
func WithCommand(command string) Option {
	return func(d *Dispatcher) {
		if command != "" {
			d.command = command
		}
	}
}

// WithDefaultModel overrides the model used when a request names none.
func WithDefaultModel(model string) Option {
	return func(d *Dispatcher) {
		d.SetDefaultModel(model)
	}
}

// New creates a dispatcher over an injected store and runner.
func New(store session.Store, runner Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		runner:  runner,
		command: CommandName,
	}
	model := DefaultModel
	d.defaultModel.Store(&model)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetDefaultModel changes the fallback model; empty restores DefaultModel.
// Safe to call while requests are in flight.
func (d *Dispatcher) SetDefaultModel(model string) {
	if model == "" {
		model = DefaultModel
	}
	d.defaultModel.Store(&model)
}

// DefaultModel returns the model used when a request names none.
func (d *Dispatcher) DefaultModel() string {
	return *d.defaultModel.Load()
}

// Command returns the executable the dispatcher runs.
func (d *Dispatcher) Command() string {
	return d.command
}

// Runner returns the runner the dispatcher invokes.
func (d *Dispatcher) Runner() Runner {
	return d.runner
}

// ExecuteArgs decodes raw tool-call arguments and executes them. Malformed
// arguments fail before the store or runner is touched.
func (d *Dispatcher) ExecuteArgs(ctx context.Context, args map[string]interface{}) (Result, error) {
	req, err := ParseRequest(args)
	if err != nil {
		observability.RecordDispatchError(string(KindValidation))
		return Result{}, err
	}
	return d.Execute(ctx, req)
}

// Prepare decodes raw tool-call arguments and checks that a named session
// exists, without running codex. Callers that queue work per session use it
// so unknown ids are rejected before a lane is taken. Execute repeats the
// session lookup, since the session may be deleted while the call waits.
func (d *Dispatcher) Prepare(ctx context.Context, args map[string]interface{}) (Request, error) {
	req, err := ParseRequest(args)
	if err == nil && req.SessionID != "" {
		_, _, err = d.resolve(ctx, req.SessionID)
	}
	if err != nil {
		observability.RecordDispatchError(string(KindOf(err)))
		return Request{}, err
	}
	return req, nil
}

// Execute validates req, resolves its session, runs codex once and records
// any announced conversation id on the session.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (result Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.SessionID != "" {
		ctx = tracing.WithSessionID(ctx, req.SessionID)
	}

	ctx, span := tracing.StartSpan(ctx, "codex.dispatch",
		attribute.String("session_id", req.SessionID),
		attribute.Int("codex.additional_args", len(req.AdditionalArgs)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	mode := ModeStateless
	start := time.Now()
	defer func() {
		if err != nil {
			kind := KindOf(err)
			observability.RecordDispatchError(string(kind))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("codex.error_kind", string(kind)))
		}
		observability.RecordDispatch(string(mode), time.Since(start), err == nil)
	}()

	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	conversationID, mode, err := d.resolve(ctx, req.SessionID)
	if err != nil {
		return Result{}, err
	}

	model := req.Model
	if model == "" {
		model = d.DefaultModel()
	}
	args := BuildArgs(conversationID, model, req.AdditionalArgs, req.Prompt)

	span.SetAttributes(
		attribute.String("codex.mode", string(mode)),
		attribute.String("codex.model", model),
	)
	logger.Debug().
		Str("mode", string(mode)).
		Str("model", model).
		Str("conversation_id", conversationID).
		Int("additional_args", len(req.AdditionalArgs)).
		Msg("Dispatching codex")

	out, err := d.runner.Run(ctx, d.command, args)
	if err != nil {
		logger.Warn().Err(err).Str("mode", string(mode)).Dur("duration", time.Since(start)).Msg("Codex run failed")
		observability.RecordDispatchAudit(ctx, auditActor(req.SessionID), "failure", map[string]interface{}{
			"mode":  string(mode),
			"model": model,
			"kind":  string(KindOf(err)),
		})
		return Result{}, err
	}

	result = Result{Stdout: out.Stdout, Stderr: out.Stderr}

	if req.SessionID != "" {
		if err := d.reconcile(ctx, span, req.SessionID, conversationID, out.Stderr); err != nil {
			return result, err
		}
	}

	observability.RecordDispatchAudit(ctx, auditActor(req.SessionID), "success", map[string]interface{}{
		"mode":  string(mode),
		"model": model,
	})
	logger.Info().
		Str("mode", string(mode)).
		Str("model", model).
		Dur("duration", time.Since(start)).
		Msg("Codex run finished")

	return result, nil
}

// resolve returns the conversation id to resume (empty for a new
// conversation) and the mode it implies.
func (d *Dispatcher) resolve(ctx context.Context, sessionID string) (string, Mode, error) {
	if sessionID == "" {
		return "", ModeStateless, nil
	}

	s, err := d.store.GetSession(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return "", ModeStateless, &SessionNotFoundError{SessionID: sessionID}
	}
	if err != nil {
		return "", ModeStateless, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	if s.Resumable() {
		return s.ConversationID, ModeResume, nil
	}
	return "", ModeNew, nil
}

// reconcile stores a newly announced conversation id, or touches the session
// when codex announced none.
func (d *Dispatcher) reconcile(ctx context.Context, span trace.Span, sessionID, previous, stderr string) error {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	conversationID, found := ParseConversationID(stderr)
	if !found {
		if err := d.store.Touch(ctx, sessionID); err != nil {
			logger.Warn().Err(err).Msg("Failed to touch session")
		}
		return nil
	}

	if err := d.store.UpdateConversationID(ctx, sessionID, conversationID); err != nil {
		return fmt.Errorf("failed to record conversation id %s: %w", conversationID, err)
	}

	changed := conversationID != previous
	observability.RecordConversationCapture(changed)
	span.SetAttributes(attribute.String("codex.conversation_id", conversationID))
	if changed {
		observability.RecordSessionAudit(ctx, "conversation_captured", sessionID, "success", map[string]interface{}{
			"conversation_id":          conversationID,
			"previous_conversation_id": previous,
		})
	}
	logger.Debug().
		Str("conversation_id", conversationID).
		Bool("changed", changed).
		Msg("Conversation id captured")

	return nil
}

func auditActor(sessionID string) string {
	if sessionID == "" {
		return string(ModeStateless)
	}
	return sessionID
}
