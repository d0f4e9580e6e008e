package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/codexmcp/internal/observability"
	"github.com/harun/codexmcp/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimeout applies when neither the execution context nor the
	// executor sets one.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxOutputSize bounds the serialized size of a tool result.
	DefaultMaxOutputSize = 256 * 1024

	// NoOutputLimit disables truncation for a tool whose output must be
	// returned unmodified.
	NoOutputLimit = -1
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Items       string      `json:"items,omitempty"` // element type for array parameters
	Enum        []string    `json:"enum,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`

	// MaxOutputSize overrides the executor limit when non-zero; a negative
	// value disables truncation.
	MaxOutputSize int `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ErrorClassifier maps a handler error to a short kind reported in result metadata.
type ErrorClassifier func(err error) string

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ErrorKind returns the classified error kind, if any.
func (r ToolResult) ErrorKind() string {
	kind, _ := r.Metadata["error_kind"].(string)
	return kind
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools          map[string]*ToolDefinition
	schemas        map[string]*gojsonschema.Schema
	classifier     ErrorClassifier
	defaultTimeout time.Duration
	maxOutputSize  int
	mu             sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	te := &ToolExecutor{
		tools:          make(map[string]*ToolDefinition),
		schemas:        make(map[string]*gojsonschema.Schema),
		defaultTimeout: DefaultTimeout,
		maxOutputSize:  DefaultMaxOutputSize,
	}

	log.Debug().Msg("Tool executor initialized")
	return te
}

// SetDefaultTimeout sets the timeout used when the execution context has none.
func (te *ToolExecutor) SetDefaultTimeout(timeout time.Duration) {
	te.mu.Lock()
	defer te.mu.Unlock()
	if timeout > 0 {
		te.defaultTimeout = timeout
	}
}

// SetMaxOutputSize sets the serialized output limit in bytes.
func (te *ToolExecutor) SetMaxOutputSize(size int) {
	te.mu.Lock()
	defer te.mu.Unlock()
	if size > 0 {
		te.maxOutputSize = size
	}
}

// SetErrorClassifier installs the classifier used to tag failed results.
func (te *ToolExecutor) SetErrorClassifier(classifier ErrorClassifier) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.classifier = classifier
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(SchemaFor(def)))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.tools[name]
}

// ListTools returns registered tool names in sorted order
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns copies of all tool definitions sorted by name.
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return len(te.tools)
}

// Execute validates params and runs the tool. Failures are reported in the
// returned ToolResult, never as a panic or error.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	startTime := time.Now()

	ctx = tracing.WithTool(ctx, toolName)
	ctx, span := tracing.StartSpan(ctx, "tool.execute", attribute.String("tool", toolName))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	classifier := te.classifier
	timeout := te.defaultTimeout
	maxOutput := te.maxOutputSize
	te.mu.RUnlock()
	if tool != nil && tool.MaxOutputSize != 0 {
		maxOutput = tool.MaxOutputSize
	}

	fail := func(message, kind string) ToolResult {
		duration := time.Since(startTime)
		observability.RecordToolExecution(toolName, duration, false)
		span.SetStatus(codes.Error, message)
		meta := map[string]interface{}{"duration": duration.Milliseconds()}
		if kind != "" {
			meta["error_kind"] = kind
			span.SetAttributes(attribute.String("tool.error_kind", kind))
		}
		return ToolResult{Success: false, Error: message, Metadata: meta}
	}

	if tool == nil {
		logger.Error().Msg("Tool not found")
		return fail(fmt.Sprintf("tool not found: %s", toolName), "not_found")
	}

	if err := validateParameters(schema, params); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		return fail(fmt.Sprintf("parameter validation failed: %v", err), "validation")
	}

	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", toolName, r)}
			}
		}()
		result, err := tool.Handler(timeoutCtx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		duration := time.Since(startTime)

		if out.err != nil {
			kind := ""
			if classifier != nil {
				kind = classifier(out.err)
			}
			span.RecordError(out.err)
			logger.Warn().
				Dur("duration", duration).
				Err(out.err).
				Msg("Tool execution failed")
			return fail(out.err.Error(), kind)
		}

		output, truncated := truncateOutput(out.result, maxOutput)
		observability.RecordToolExecution(toolName, duration, true)

		logger.Debug().
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		return ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		}

	case <-timeoutCtx.Done():
		logger.Error().
			Dur("timeout", timeout).
			Msg("Tool execution timeout")

		if ctx.Err() != nil {
			return fail(fmt.Sprintf("tool execution cancelled: %v", ctx.Err()), "cancelled")
		}
		return fail(fmt.Sprintf("tool execution timeout after %v", timeout), "timeout")
	}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	seen := map[string]bool{}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Items != "" {
			if param.Type != "array" {
				return fmt.Errorf("items is only valid for array parameters (%s)", param.Name)
			}
			if !validTypes[param.Items] {
				return fmt.Errorf("invalid items type %s for %s", param.Items, param.Name)
			}
		}
	}

	return nil
}

// SchemaFor builds the JSON Schema (as a plain map) for a tool's parameters.
func SchemaFor(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if param.Items != "" {
			paramSchema["items"] = map[string]interface{}{"type": param.Items}
		}
		if len(param.Enum) > 0 {
			enum := make([]interface{}, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			paramSchema["enum"] = enum
		}

		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	return nil
}

// truncateOutput keeps output under maxSize bytes. Strings are cut directly;
// other values are measured by their JSON encoding and replaced by the cut
// encoding when too large. The cut never splits a UTF-8 sequence. A negative
// maxSize returns output unchanged.
func truncateOutput(output interface{}, maxSize int) (interface{}, bool) {
	if maxSize < 0 {
		return output, false
	}

	var str string
	switch v := output.(type) {
	case string:
		str = v
	case nil:
		return nil, false
	default:
		data, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(data)
		}
	}

	if len(str) <= maxSize {
		return output, false
	}

	log.Warn().
		Int("original", len(str)).
		Int("truncated", maxSize).
		Msg("Output truncated")

	cut := maxSize
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}
	return str[:cut] + "\n... [output truncated]", true
}
