// Package model defines the boundary to the language model. Provider
// adapters translate the normalized Request into vendor protocols and parse
// whatever comes back eagerly into an Output, a tagged variant holding
// either a final textual answer or one-or-more function call intents, so
// the rest of the engine never branches on raw provider payloads.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the agent loop.
type Request struct {
	// Instructions is the opaque system prompt text. The engine never
	// parses it.
	Instructions string
	// Turns is the conversation snapshot for this loop iteration.
	Turns []core.Turn
	// Tools is the function catalog derived from the schema registry.
	Tools []ToolDefinition
}

// Usage captures token statistics reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Output is the eagerly parsed model response: a final answer when Calls is
// empty, otherwise a batch of function call intents to dispatch.
type Output struct {
	Text  string
	Calls []core.FunctionCall
	Usage *Usage
}

// IsFinal reports whether the output is a final answer with no pending calls.
func (o *Output) IsFinal() bool { return len(o.Calls) == 0 }

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the agent loop needs to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (*Output, error)

	// Info returns information about the model implementation.
	Info() Info
}

// StreamingModel is optionally implemented by adapters that can surface
// partial answer text while generating. onDelta receives each text fragment
// in order; the returned Output is the same complete result Generate would
// produce.
type StreamingModel interface {
	Model

	GenerateStream(ctx context.Context, req Request, onDelta func(delta string)) (*Output, error)
}

// Mock is a scripted in-memory Model for tests and examples. Outputs are
// consumed in FIFO order; when the script is exhausted Generate fails.
type Mock struct {
	mu       sync.Mutex
	info     Info
	script   []scriptEntry
	requests []Request
}

type scriptEntry struct {
	out *Output
	err error
}

var _ StreamingModel = (*Mock)(nil)

// NewMock constructs a Mock with tool support enabled.
func NewMock(name string) *Mock {
	return &Mock{info: Info{Name: name, Provider: "mock", SupportsTools: true}}
}

// EnqueueText scripts a final textual answer.
func (m *Mock) EnqueueText(text string) *Mock {
	return m.Enqueue(&Output{Text: text})
}

// EnqueueCalls scripts a batch of function call intents.
func (m *Mock) EnqueueCalls(calls ...core.FunctionCall) *Mock {
	return m.Enqueue(&Output{Calls: calls})
}

// EnqueueError scripts a generation failure.
func (m *Mock) EnqueueError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptEntry{err: err})
	return m
}

// Enqueue scripts an arbitrary output.
func (m *Mock) Enqueue(out *Output) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptEntry{out: out})
	return m
}

// Generate implements Model, replaying the script.
func (m *Mock) Generate(ctx context.Context, req Request) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		return nil, fmt.Errorf("mock model: script exhausted after %d calls", len(m.requests))
	}
	entry := m.script[0]
	m.script = m.script[1:]
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.out, nil
}

// GenerateStream implements StreamingModel, replaying the script and
// delivering the answer text to onDelta word by word before returning the
// complete output.
func (m *Mock) GenerateStream(ctx context.Context, req Request, onDelta func(delta string)) (*Output, error) {
	out, err := m.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if onDelta != nil && out.Text != "" {
		for _, frag := range strings.SplitAfter(out.Text, " ") {
			if frag != "" {
				onDelta(frag)
			}
		}
	}
	return out, nil
}

// Requests returns the requests seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Info implements Model.
func (m *Mock) Info() Info { return m.info }
