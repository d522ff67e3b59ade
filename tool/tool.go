// Package tool implements the function-calling subsystem: validation of
// model-requested calls against the schema registry, and routing of
// validated calls to concrete handlers with consistent error containment.
package tool

import (
	"context"
	"fmt"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
)

// Handler is the capability bound to a declared function name. Arguments
// arrive already validated and coerced against the function's schema.
//
// Handlers should honor ctx cancellation for long operations; the router
// additionally enforces a deadline and contains panics, so a misbehaving
// handler can never crash the agent loop.
type Handler interface {
	Execute(ctx context.Context, toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, toolCtx *core.ToolContext, args map[string]any) (any, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, toolCtx *core.ToolContext, args map[string]any) (any, error) {
	return f(ctx, toolCtx, args)
}

// Tool is a self-describing handler: it carries its own name, description
// and parameter schema, so it can be registered without a separate catalog
// entry and exported to a schema document.
type Tool interface {
	Handler

	// Name returns the unique function name (snake_case recommended).
	Name() string

	// Description returns the human-readable description shown to models.
	Description() string

	// Parameters returns the JSON-Schema object describing accepted arguments.
	Parameters() map[string]any
}

// Error codes attached to ToolError values.
const (
	// CodeBusiness marks domain failures whose message the model may see
	// and recover from (expired id, nothing found, ...).
	CodeBusiness = "BUSINESS_ERROR"
	// CodeExecution marks unexpected internal failures; their details are
	// hidden from the model.
	CodeExecution = "EXECUTION_ERROR"
	// CodeTimeout marks a handler that exceeded its deadline.
	CodeTimeout = "TIMEOUT"
)

// ToolError represents a failure raised by a handler. Business errors
// (CodeBusiness) pass their message through to the model as the result
// descriptor; everything else is reported generically.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewBusinessError creates a model-visible domain error for a tool.
func NewBusinessError(tool, message string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: CodeBusiness}
}
