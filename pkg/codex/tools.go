package codex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/codexmcp/internal/observability"
	"github.com/harun/codexmcp/pkg/commandqueue"
	"github.com/harun/codexmcp/pkg/session"
	"github.com/harun/codexmcp/pkg/toolexecutor"
)

// Tool names exposed over MCP.
const (
	ToolCodex        = "codex"
	ToolNewSession   = "new_session"
	ToolListSessions = "list_sessions"
	ToolPing         = "ping"
	ToolHelp         = "help"
)

// ToolDeps holds what the tools need beyond the dispatcher.
type ToolDeps struct {
	Store session.Store
	// Queue serializes codex calls per session. Nil runs them directly.
	Queue *commandqueue.CommandQueue
	// QueueWarnAfter overrides the queue's wait warning for codex calls.
	QueueWarnAfter time.Duration
}

// SessionSummary is one entry of the list_sessions result.
type SessionSummary struct {
	SessionID      string    `json:"sessionId"`
	ConversationID string    `json:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ClassifyError reports the dispatch error kind for tool results.
func ClassifyError(err error) string {
	return string(KindOf(err))
}

// RegisterTools registers the codex tool set on exec.
func RegisterTools(exec *toolexecutor.ToolExecutor, d *Dispatcher, deps ToolDeps) error {
	if deps.Store == nil {
		return errors.New("session store is required")
	}
	exec.SetErrorClassifier(ClassifyError)

	defs := []toolexecutor.ToolDefinition{
		{
			Name:        ToolCodex,
			Description: "Run the codex CLI with a prompt. Pass sessionId to continue a conversation started in that session.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: ArgPrompt, Type: "string", Description: "Prompt passed to codex", Required: true},
				{Name: ArgModel, Type: "string", Description: "Model name; the server's configured default when omitted"},
				{Name: ArgSessionID, Type: "string", Description: "Session created by new_session"},
				{Name: ArgAdditionalArgs, Type: "array", Items: "string", Description: "Extra codex CLI arguments placed before the prompt"},
			},
			Handler:       codexHandler(d, deps),
			MaxOutputSize: toolexecutor.NoOutputLimit,
		},
		{
			Name:        ToolNewSession,
			Description: "Create a session for multi-turn codex conversations",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				id, err := deps.Store.CreateSession(ctx)
				if err != nil {
					return nil, err
				}
				observability.RecordSessionAudit(ctx, "session_created", id, "success", nil)
				return map[string]string{ArgSessionID: id}, nil
			},
		},
		{
			Name:        ToolListSessions,
			Description: "List sessions with their conversation ids",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				sessions, err := deps.Store.ListSessions(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]SessionSummary, 0, len(sessions))
				for _, s := range sessions {
					out = append(out, SessionSummary{
						SessionID:      s.SessionID,
						ConversationID: s.ConversationID,
						CreatedAt:      s.CreatedAt,
						UpdatedAt:      s.UpdatedAt,
					})
				}
				return out, nil
			},
		},
		{
			Name:        ToolPing,
			Description: "Check the server is responsive",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "message", Type: "string", Description: "Message to echo back"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				if msg, ok := params["message"].(string); ok && msg != "" {
					return msg, nil
				}
				return "pong", nil
			},
		},
		{
			Name:        ToolHelp,
			Description: "Show codex CLI help",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				out, err := d.Runner().Run(ctx, d.Command(), []string{"--help"})
				if err != nil {
					return nil, err
				}
				return out.Stdout, nil
			},
		},
	}

	for _, def := range defs {
		if err := exec.RegisterTool(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}

func codexHandler(d *Dispatcher, deps ToolDeps) toolexecutor.ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		req, err := d.Prepare(ctx, params)
		if err != nil {
			return nil, err
		}

		if deps.Queue == nil {
			return d.Execute(ctx, req)
		}

		lane := commandqueue.StatelessLane
		if req.SessionID != "" {
			lane = commandqueue.SessionLane(req.SessionID)
		}

		var opts *commandqueue.TaskOptions
		if deps.QueueWarnAfter > 0 {
			opts = &commandqueue.TaskOptions{WarnAfter: deps.QueueWarnAfter}
		}

		value, err := deps.Queue.Enqueue(ctx, lane, func(ctx context.Context) (interface{}, error) {
			return d.Execute(ctx, req)
		}, opts)
		if err != nil {
			return nil, err
		}
		return value, nil
	}
}
