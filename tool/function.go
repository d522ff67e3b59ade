package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
)

// FunctionTool is a generic adapter exposing a plain Go function as a
// self-describing Tool. It has no internal mutable state after construction
// and is safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          HandlerFunc
}

// NewFunctionTool constructs a FunctionTool from an explicit JSON-Schema
// parameter object and a function.
//
// Example:
//
//	sum := tool.NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []any{"a", "b"},
//	  },
//	  func(ctx context.Context, tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn HandlerFunc) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// NewFunctionToolFromStruct derives the parameter schema from an argument
// struct via reflection. Field descriptions and enums come from
// `jsonschema:"description=...,enum=..."` struct tags; fields without an
// omitempty json tag are required.
func NewFunctionToolFromStruct(name, description string, argsType any, fn HandlerFunc) (*FunctionTool, error) {
	params, err := reflectParameters(argsType)
	if err != nil {
		return nil, fmt.Errorf("reflect schema for %s: %w", name, err)
	}
	return NewFunctionTool(name, description, params, fn), nil
}

// Name returns the unique function name used in catalog declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON-Schema object describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Execute invokes the wrapped function.
func (t *FunctionTool) Execute(ctx context.Context, toolCtx *core.ToolContext, args map[string]any) (any, error) {
	return t.fn(ctx, toolCtx, args)
}

// reflectParameters produces an inline JSON-Schema object map for a struct type.
func reflectParameters(argsType any) (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}

	s := reflector.Reflect(argsType)
	if s == nil {
		return nil, fmt.Errorf("reflection produced no schema")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}

	// The registry compiles each parameter object as a standalone resource;
	// reflector identifiers would interfere with resolution.
	delete(params, "$schema")
	delete(params, "$id")

	return params, nil
}
