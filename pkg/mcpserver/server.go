// Package mcpserver exposes a tool executor registry over the Model Context
// Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"time"

	"github.com/harun/codexmcp/internal/tracing"
	"github.com/harun/codexmcp/pkg/toolexecutor"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
)

// Config holds server identity and per-call limits.
type Config struct {
	Name        string
	Version     string
	ToolTimeout time.Duration
}

// Server adapts a ToolExecutor to an MCP server.
type Server struct {
	cfg       Config
	executor  *toolexecutor.ToolExecutor
	mcpServer *server.MCPServer
}

// New builds an MCP server exposing every tool registered on executor.
func New(cfg Config, executor *toolexecutor.ToolExecutor) *Server {
	if cfg.Name == "" {
		cfg.Name = "codex-mcp"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:      cfg,
		executor: executor,
		mcpServer: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}

	for _, def := range executor.Definitions() {
		s.mcpServer.AddTool(ToMCPTool(def), s.handler(def.Name))
	}

	log.Debug().
		Str("name", cfg.Name).
		Str("version", cfg.Version).
		Int("tools", executor.GetToolCount()).
		Msg("MCP server initialized")
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over the process stdin/stdout until ctx ends or
// stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves MCP over the given streams.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(stdlog.New(log.Logger, "", 0))

	log.Info().Str("name", s.cfg.Name).Msg("Serving MCP over stdio")
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// ToMCPTool converts a tool definition into its MCP description.
func ToMCPTool(def toolexecutor.ToolDefinition) mcp.Tool {
	schema := toolexecutor.SchemaFor(def)

	properties, _ := schema["properties"].(map[string]interface{})
	required, _ := schema["required"].([]string)

	return mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = tracing.NewRequestContext(ctx, name)
		execCtx := &toolexecutor.ExecutionContext{
			RequestID: tracing.GetRequestID(ctx),
			Timeout:   s.cfg.ToolTimeout,
		}

		args := req.GetArguments()
		if sessionID, ok := args["sessionId"].(string); ok && sessionID != "" {
			execCtx.SessionID = sessionID
			ctx = tracing.WithSessionID(ctx, sessionID)
		}

		result := s.executor.Execute(ctx, name, args, execCtx)
		return toCallToolResult(result), nil
	}
}

func toCallToolResult(result toolexecutor.ToolResult) *mcp.CallToolResult {
	if !result.Success {
		if kind := result.ErrorKind(); kind != "" {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s", kind, result.Error))
		}
		return mcp.NewToolResultError(result.Error)
	}

	switch v := result.Output.(type) {
	case nil:
		return mcp.NewToolResultText("")
	case string:
		return mcp.NewToolResultText(v)
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("internal: failed to encode result: %v", err))
		}
		return mcp.NewToolResultText(string(data))
	}
}
