package core

import "github.com/philipppogosov54-dotcom/mgp-v1/logging"

// ToolContext is the per-invocation context handed to tool handlers. It
// correlates the execution with the session and the originating function
// call and gives handlers scoped access to session state and logging.
type ToolContext struct {
	session *Session
	callID  string
	logger  logging.Logger
}

// NewToolContext creates a tool context bound to a session and call ID.
func NewToolContext(session *Session, callID string, logger logging.Logger) *ToolContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ToolContext{session: session, callID: callID, logger: logger}
}

// SessionID returns the owning session's identifier.
func (tc *ToolContext) SessionID() string {
	if tc.session == nil {
		return ""
	}
	return tc.session.ID
}

// CallID returns the function call identifier correlating the model request
// with this execution.
func (tc *ToolContext) CallID() string { return tc.callID }

// Logger returns the logger scoped to this invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// GetState reads a session state key. Returns (nil, false) when no session
// is attached.
func (tc *ToolContext) GetState(key string) (any, bool) {
	if tc.session == nil {
		return nil, false
	}
	return tc.session.GetState(key)
}

// SetState writes a session state key. No-op when no session is attached.
func (tc *ToolContext) SetState(key string, value any) {
	if tc.session != nil {
		tc.session.SetState(key, value)
	}
}
