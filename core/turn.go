package core

import (
	"time"

	"github.com/google/uuid"
)

// TurnKind discriminates the variants of a conversation turn.
type TurnKind string

const (
	// TurnUser is an inbound end-user message.
	TurnUser TurnKind = "user"
	// TurnAssistant is a final or intermediate textual model answer.
	TurnAssistant TurnKind = "assistant"
	// TurnToolCall records a function invocation requested by the model.
	TurnToolCall TurnKind = "tool_call"
	// TurnToolResult records the outcome of a previously appended tool call.
	TurnToolResult TurnKind = "tool_result"
)

// FunctionCall describes a tool/function invocation request emitted by the
// model. Arguments carry the raw serialized payload (JSON) exactly as the
// model produced it; parsing and validation happen downstream.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// FunctionResult describes the outcome of a dispatched function call.
// Exactly one of Payload / Error is meaningful depending on Success.
type FunctionResult struct {
	CallID  string `json:"call_id,omitempty"` // Matches the originating FunctionCall ID
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"` // Model-visible error descriptor
}

// Turn is one ordered unit of conversation history. A turn is immutable after
// construction; sessions only ever append turns.
type Turn struct {
	ID        string          `json:"id"`
	Kind      TurnKind        `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Text      string          `json:"text,omitempty"`   // user / assistant variants
	Call      *FunctionCall   `json:"call,omitempty"`   // tool_call variant
	Result    *FunctionResult `json:"result,omitempty"` // tool_result variant
}

// NewID generates a unique identifier for turns and function calls.
func NewID() string { return uuid.NewString() }

func newTurn(kind TurnKind) Turn {
	return Turn{ID: NewID(), Kind: kind, Timestamp: time.Now().UTC()}
}

// NewUserTurn creates a user message turn.
func NewUserTurn(text string) Turn {
	t := newTurn(TurnUser)
	t.Text = text
	return t
}

// NewAssistantTurn creates an assistant message turn.
func NewAssistantTurn(text string) Turn {
	t := newTurn(TurnAssistant)
	t.Text = text
	return t
}

// NewToolCallTurn records a function invocation requested by the model.
func NewToolCallTurn(call FunctionCall) Turn {
	t := newTurn(TurnToolCall)
	t.Call = &call
	return t
}

// NewToolResultTurn records the completion result (or error) of a tool call.
func NewToolResultTurn(result FunctionResult) Turn {
	t := newTurn(TurnToolResult)
	t.Result = &result
	return t
}

// NewSuccessResult builds a successful FunctionResult for a call.
func NewSuccessResult(call FunctionCall, payload any) FunctionResult {
	return FunctionResult{CallID: call.ID, Name: call.Name, Success: true, Payload: payload}
}

// NewErrorResult builds a failed FunctionResult carrying a model-visible
// error descriptor.
func NewErrorResult(call FunctionCall, descriptor string) FunctionResult {
	return FunctionResult{CallID: call.ID, Name: call.Name, Success: false, Error: descriptor}
}

// IsMessage reports whether the turn carries plain conversational text.
func (t Turn) IsMessage() bool { return t.Kind == TurnUser || t.Kind == TurnAssistant }
