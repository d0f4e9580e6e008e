// Package toolexecutor registers tools and executes them with schema-checked
// parameters, a timeout and bounded output.
//
// Invariants:
// - Tool names are unique; registering a name again replaces the tool.
// - Parameters are validated against a JSON Schema generated from the
//   definition before the handler runs. Array parameters carry an items
//   schema, so element types are enforced too.
// - Every execution is traced and counted in the tool metrics.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "ping",
//		Description: "Echo a message",
//		Parameters: []toolexecutor.ToolParameter{{Name: "message", Type: "string", Description: "text"}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return "pong", nil },
//	})
//	result := exec.Execute(ctx, "ping", map[string]interface{}{}, nil)
package toolexecutor
