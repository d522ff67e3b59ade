// Package runner is the outer coordination layer around the agent loop.
//
// The Runner serializes turns per session, tracks active runs so they can be
// canceled, and maps loop failures to a stable user-visible fallback message.
// One Runner serves many sessions; public methods are safe for concurrent
// use.
package runner
