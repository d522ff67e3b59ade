package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philipppogosov54-dotcom/mgp-v1/agent"
	"github.com/philipppogosov54-dotcom/mgp-v1/core"
	"github.com/philipppogosov54-dotcom/mgp-v1/logging"
)

// DefaultFallbackAnswer is returned to the user when a run fails for a
// reason the model cannot recover from (round ceiling, model outage).
const DefaultFallbackAnswer = "К сожалению, мне не удалось обработать ваш запрос. Попробуйте переформулировать вопрос."

// Options holds configuration overrides passed to New().
type Options struct {
	// FallbackAnswer is the user-visible text substituted for a failed run.
	FallbackAnswer string
	// Logger receives runner telemetry.
	Logger logging.Logger
}

// Runner serializes turns per session and owns run cancellation. Public
// methods are safe for concurrent use.
type Runner struct {
	loop     *agent.Loop
	store    core.SessionStore
	fallback string
	logger   logging.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState carries the per-session turn lock and, while a run is
// active, its cancel function.
type sessionState struct {
	turnMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a Runner with optional overrides.
func New(loop *agent.Loop, store core.SessionStore, optFns ...func(o *Options)) *Runner {
	opts := Options{
		FallbackAnswer: DefaultFallbackAnswer,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		loop:     loop,
		store:    store,
		fallback: opts.FallbackAnswer,
		logger:   opts.Logger,
		sessions: make(map[string]*sessionState),
	}
}

// HandleMessage runs one user turn to completion and returns the assistant
// answer. Turns of the same session are strictly serialized: a second call
// for the same session blocks until the first finishes. Unrecoverable run
// failures degrade to the fallback answer; cancellation and session
// capacity errors propagate to the caller.
func (r *Runner) HandleMessage(ctx context.Context, sessionID, text string) (string, error) {
	return r.handle(ctx, sessionID, text, nil)
}

// HandleMessageStream is HandleMessage with live answer text: onDelta
// receives each fragment as the model produces it, when the backend supports
// streaming. The returned string is the complete answer either way; on a
// degraded run the fallback answer is returned without having been streamed.
func (r *Runner) HandleMessageStream(ctx context.Context, sessionID, text string, onDelta func(delta string)) (string, error) {
	return r.handle(ctx, sessionID, text, onDelta)
}

func (r *Runner) handle(ctx context.Context, sessionID, text string, onDelta func(delta string)) (string, error) {
	st := r.state(sessionID)

	st.turnMu.Lock()
	defer st.turnMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st.mu.Lock()
	st.cancel = cancel
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		st.cancel = nil
		st.mu.Unlock()
	}()

	var result *agent.Result
	var err error
	if onDelta != nil {
		result, err = r.loop.RunStream(runCtx, sessionID, text, onDelta)
	} else {
		result, err = r.loop.Run(runCtx, sessionID, text)
	}
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return "", err
		case errors.Is(err, core.ErrCapacityExceeded):
			return "", err
		default:
			reason := agent.ReasonModelError
			if result != nil {
				reason = result.Reason
			}
			r.logger.Error("runner.run.degraded",
				"session", sessionID,
				"reason", string(reason),
				"error", err.Error(),
			)
			return r.fallback, nil
		}
	}

	return result.FinalAnswer, nil
}

// Cancel aborts the session's active run, if any. Canceling an idle session
// is an error so callers can distinguish a race from a no-op.
func (r *Runner) Cancel(sessionID string) error {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s has no active run", sessionID)
	}

	st.mu.Lock()
	cancel := st.cancel
	st.mu.Unlock()
	if cancel == nil {
		return fmt.Errorf("session %s has no active run", sessionID)
	}

	cancel()
	return nil
}

// Reset clears the session's history. It waits for any in-flight turn of
// the session to finish first, so a run never observes its history vanish.
func (r *Runner) Reset(sessionID string) error {
	st := r.state(sessionID)
	st.turnMu.Lock()
	defer st.turnMu.Unlock()
	return r.store.Reset(sessionID)
}

func (r *Runner) state(sessionID string) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		r.sessions[sessionID] = st
	}
	return st
}
