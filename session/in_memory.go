// Package session provides SessionStore implementations. The in-memory
// store partitions sessions in a process-local map and is best suited for
// tests or single-process deployments.
package session

import (
	"sync"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
)

// InMemoryStoreOptions configures an InMemoryStore.
type InMemoryStoreOptions struct {
	// MaxTurns is the hard per-session history ceiling. Appends beyond it
	// fail with core.ErrCapacityExceeded. 0 disables the ceiling.
	MaxTurns int
}

// InMemoryStore is a volatile SessionStore keeping sessions in a process
// local map. It is safe for concurrent access; each session guards its own
// turn slice, so independent sessions never contend.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	maxTurns int
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *InMemoryStoreOptions)) *InMemoryStore {
	opts := InMemoryStoreOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		sessions: make(map[string]*core.Session),
		maxTurns: opts.MaxTurns,
	}
}

// Get returns the session for id, creating it lazily on first use.
func (s *InMemoryStore) Get(id string) (*core.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess = core.NewSession(id)
	s.sessions[id] = sess
	return sess, nil
}

// Append adds a turn to the session history, creating the session if needed.
// Fails with core.ErrCapacityExceeded once the configured ceiling is reached.
func (s *InMemoryStore) Append(sessionID string, t core.Turn) error {
	sess, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	return sess.AppendCapped(t, s.maxTurns)
}

// Reset clears the history for a session. Idempotent: resetting a missing
// or already-empty session succeeds.
func (s *InMemoryStore) Reset(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = core.NewSession(sessionID)
	return nil
}

// Delete removes the session entirely.
func (s *InMemoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of sessions currently held.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
