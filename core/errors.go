package core

import "errors"

// Sentinel errors shared across packages. Check with errors.Is.
var (
	// ErrCapacityExceeded is returned by a session store append when a
	// configured hard history ceiling is reached. The caller must reset
	// (or externally summarize) the session before continuing.
	ErrCapacityExceeded = errors.New("session history capacity exceeded")

	// ErrModelTimeout signals that a model call exceeded its configured
	// deadline. Fatal for the current run, recoverable for the session.
	ErrModelTimeout = errors.New("model call timed out")

	// ErrHandlerTimeout signals that a tool handler exceeded its configured
	// deadline. Converted into a failed FunctionResult so the loop continues.
	ErrHandlerTimeout = errors.New("handler execution timed out")

	// ErrMaxTurnsExceeded signals that the agent loop hit its tool-call
	// round ceiling without producing a final answer.
	ErrMaxTurnsExceeded = errors.New("max tool-call rounds exceeded")

	// ErrSessionNotFound is returned by store operations that require an
	// existing session.
	ErrSessionNotFound = errors.New("session not found")
)
