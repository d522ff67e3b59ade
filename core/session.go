package core

import (
	"fmt"
	"sync"
	"time"
)

// Session is the ordered conversation state belonging to one end-user
// interaction context. It is safe for concurrent access.
//
// Contract:
//   - Turns are strictly append-only; nothing rewrites or removes a turn
//     except an explicit store Reset
//   - Snapshot returns a defensive copy safe to hand to the model layer
//   - History applies the trim window without mutating the stored turns
type Session struct {
	ID      string         `json:"id"`
	Turns   []Turn         `json:"turns"`
	State   map[string]any `json:"state,omitempty"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`

	mu sync.RWMutex
}

// NewSession creates an empty session with the given ID.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, Turns: []Turn{}, State: map[string]any{}, Created: now, Updated: now}
}

// Append adds a turn to the history.
func (s *Session) Append(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = append(s.Turns, t)
	s.Updated = time.Now().UTC()
}

// AppendCapped adds a turn unless the history already holds max turns.
// The check and the append are atomic with respect to other appends.
// max <= 0 disables the ceiling.
func (s *Session) AppendCapped(t Turn, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > 0 && len(s.Turns) >= max {
		return fmt.Errorf("session %s at %d turns: %w", s.ID, max, ErrCapacityExceeded)
	}
	s.Turns = append(s.Turns, t)
	s.Updated = time.Now().UTC()
	return nil
}

// Len returns the number of turns recorded.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Turns)
}

// Snapshot returns a defensive copy of the full turn sequence. Callers must
// not assume later appends are reflected in a previously taken snapshot.
func (s *Session) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]Turn, len(s.Turns))
	copy(turns, s.Turns)
	return turns
}

// History returns a trimmed snapshot suitable for a model request: when the
// history exceeds window turns, the first keepHead turns are preserved (they
// usually anchor the conversation context) followed by the most recent
// window-keepHead turns. window <= 0 disables trimming.
func (s *Session) History(keepHead, window int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.Turns)
	if window <= 0 || n <= window {
		turns := make([]Turn, n)
		copy(turns, s.Turns)
		return turns
	}
	if keepHead < 0 {
		keepHead = 0
	}
	if keepHead > window {
		keepHead = window
	}
	tail := window - keepHead
	turns := make([]Turn, 0, window)
	turns = append(turns, s.Turns[:keepHead]...)
	turns = append(turns, s.Turns[n-tail:]...)
	return turns
}

// GetState returns the value and existence flag for a session state key.
// State is scratch space for tool handlers (e.g. remembering a previously
// chosen departure city); it is not part of the turn history.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// SetState sets a session state key.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State[key] = value
	s.Updated = time.Now().UTC()
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:      s.ID,
		Turns:   make([]Turn, len(s.Turns)),
		State:   make(map[string]any, len(s.State)),
		Created: s.Created,
		Updated: s.Updated,
	}
	copy(clone.Turns, s.Turns)
	for k, v := range s.State {
		clone.State[k] = v
	}
	return clone
}

// SessionStore persists sessions and their append-only turn history.
// Implementations must guarantee session isolation: no mutable state is
// shared between sessions.
type SessionStore interface {
	// Get returns the session for id, creating it lazily if absent.
	Get(id string) (*Session, error)
	// Append adds a turn to the session history. Returns
	// ErrCapacityExceeded when a configured hard ceiling is reached.
	Append(sessionID string, t Turn) error
	// Reset clears the history for a session. Idempotent: resetting a
	// fresh or missing session is not an error.
	Reset(sessionID string) error
	// Delete removes the session entirely.
	Delete(sessionID string) error
}
