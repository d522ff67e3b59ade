// Package agent implements the turn-cycle controller: it sends the
// conversation state to the model, interprets the output as either a final
// answer or a batch of function calls, drives validation and dispatch, and
// decides whether to continue or terminate the loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
	"github.com/philipppogosov54-dotcom/mgp-v1/logging"
	"github.com/philipppogosov54-dotcom/mgp-v1/model"
	"github.com/philipppogosov54-dotcom/mgp-v1/schema"
	"github.com/philipppogosov54-dotcom/mgp-v1/tool"
)

// Reason explains why a run terminated.
type Reason string

const (
	// ReasonDone: the model produced a final textual answer.
	ReasonDone Reason = "done"
	// ReasonMaxRounds: the tool-call round ceiling was hit.
	ReasonMaxRounds Reason = "max_rounds"
	// ReasonModelError: the model layer failed unrecoverably.
	ReasonModelError Reason = "model_error"
	// ReasonCanceled: the caller canceled the run.
	ReasonCanceled Reason = "canceled"
)

// Result is the outcome of a single Run.
type Result struct {
	SessionID   string
	FinalAnswer string
	Reason      Reason
	Rounds      int
}

// Options configures a Loop.
type Options struct {
	// Instructions is the opaque system prompt handed to the model.
	Instructions string
	// MaxToolRounds bounds model invocations per run. 0 means unlimited
	// (not recommended).
	MaxToolRounds int
	// ModelTimeout bounds each model call. 0 disables the deadline.
	ModelTimeout time.Duration
	// HistoryKeepHead / HistoryWindow control the trimmed snapshot passed
	// to the model (see core.Session.History). Window 0 disables trimming.
	HistoryKeepHead int
	HistoryWindow   int
	// Guards configures degenerate-output detection. Nil disables guards.
	Guards *GuardConfig
	// Logger receives loop telemetry. Defaults to NoOp.
	Logger logging.Logger
}

// Loop is the agent loop controller. One Loop serves many sessions; per-run
// state lives on the stack of Run. Callers must not run two turns of the
// same session concurrently (runner.Runner enforces this).
type Loop struct {
	llm      model.Model
	registry *schema.Registry
	router   *tool.Router
	store    core.SessionStore

	instructions    string
	maxToolRounds   int
	modelTimeout    time.Duration
	historyKeepHead int
	historyWindow   int
	guards          *GuardConfig
	logger          logging.Logger

	toolDefs []model.ToolDefinition
	metrics  Metrics
}

// New wires a Loop and verifies the router covers the registry: a declared
// function without a handler is a startup-time configuration error.
func New(llm model.Model, registry *schema.Registry, router *tool.Router, store core.SessionStore, optFns ...func(o *Options)) (*Loop, error) {
	opts := Options{
		MaxToolRounds:   15,
		ModelTimeout:    60 * time.Second,
		HistoryKeepHead: 2,
		HistoryWindow:   40,
		Guards:          DefaultGuardConfig(),
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if llm == nil {
		return nil, fmt.Errorf("agent: nil model")
	}
	if registry == nil {
		return nil, fmt.Errorf("agent: nil registry")
	}
	if store == nil {
		return nil, fmt.Errorf("agent: nil session store")
	}
	if err := router.Bind(registry); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	defs := make([]model.ToolDefinition, 0, registry.Len())
	for _, fs := range registry.List() {
		defs = append(defs, model.ToolDefinition{
			Name:        fs.Name,
			Description: fs.Description,
			Parameters:  fs.Parameters,
		})
	}

	return &Loop{
		llm:             llm,
		registry:        registry,
		router:          router,
		store:           store,
		instructions:    opts.Instructions,
		maxToolRounds:   opts.MaxToolRounds,
		modelTimeout:    opts.ModelTimeout,
		historyKeepHead: opts.HistoryKeepHead,
		historyWindow:   opts.HistoryWindow,
		guards:          opts.Guards,
		logger:          opts.Logger,
		toolDefs:        defs,
	}, nil
}

// Metrics returns a snapshot of the loop's quality counters.
func (l *Loop) Metrics() MetricsSnapshot { return l.metrics.Snapshot() }

// Run processes one user message to completion: it appends the user turn,
// cycles model invocations and tool dispatches, and returns the final
// answer. Per-call validation and handler failures never fail the run; they
// are fed back to the model as failed tool results. Only model failures,
// cancellation, history capacity and the round ceiling terminate a run with
// an error.
func (l *Loop) Run(ctx context.Context, sessionID, userMessage string) (*Result, error) {
	return l.run(ctx, sessionID, userMessage, nil)
}

// RunStream is Run with live answer text: onDelta receives each fragment of
// the final answer as the model produces it, when the backend implements
// model.StreamingModel. Backends without streaming fall back to Generate and
// onDelta is never called. The returned Result carries the complete answer
// either way.
func (l *Loop) RunStream(ctx context.Context, sessionID, userMessage string, onDelta func(delta string)) (*Result, error) {
	return l.run(ctx, sessionID, userMessage, onDelta)
}

func (l *Loop) run(ctx context.Context, sessionID, userMessage string, onDelta func(delta string)) (*Result, error) {
	session, err := l.store.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	if err := l.store.Append(sessionID, core.NewUserTurn(userMessage)); err != nil {
		return nil, err
	}
	l.metrics.messages.Add(1)

	l.logger.Info("loop.run.start", "session", sessionID, "message_len", len(userMessage))

	limiter := core.NewRoundLimiter(l.maxToolRounds)
	var nudge string
	var emptyRetries, moderationRetries, promiseRetries int

	for {
		if err := ctx.Err(); err != nil {
			return l.terminate(sessionID, ReasonCanceled, limiter.Count()), err
		}

		if err := limiter.Increment(); err != nil {
			l.metrics.maxRoundTerminations.Add(1)
			l.logger.Error("loop.max_rounds", "session", sessionID, "rounds", limiter.Count())
			return l.terminate(sessionID, ReasonMaxRounds, limiter.Count()), err
		}

		out, err := l.callModel(ctx, session, nudge, onDelta)
		nudge = ""
		if err != nil {
			l.logger.Error("loop.model.error", "session", sessionID, "error", err.Error())
			if errors.Is(err, context.Canceled) {
				return l.terminate(sessionID, ReasonCanceled, limiter.Count()), err
			}
			return l.terminate(sessionID, ReasonModelError, limiter.Count()), err
		}

		// Cancellation observed after the model call: stop before any
		// further turns are appended.
		if err := ctx.Err(); err != nil {
			return l.terminate(sessionID, ReasonCanceled, limiter.Count()), err
		}

		if !out.IsFinal() {
			// Narration accompanying a call batch stays in the transcript.
			if narration := strings.TrimSpace(out.Text); narration != "" {
				l.logger.Debug("loop.model.narration", "session", sessionID, "text", truncate(narration, 150))
				if err := l.store.Append(sessionID, core.NewAssistantTurn(narration)); err != nil {
					return l.terminate(sessionID, ReasonModelError, limiter.Count()), err
				}
			}
			if err := l.processCalls(ctx, session, out.Calls); err != nil {
				return l.terminate(sessionID, ReasonModelError, limiter.Count()), err
			}
			continue
		}

		text := strings.TrimSpace(out.Text)

		if text == "" {
			emptyRetries++
			l.metrics.emptyOutputRetries.Add(1)
			l.logger.Warn("loop.empty_output", "session", sessionID, "retry", emptyRetries)
			if l.guards == nil || emptyRetries >= l.guards.MaxModerationRetries {
				return l.terminate(sessionID, ReasonModelError, limiter.Count()),
					fmt.Errorf("model returned empty output %d times", emptyRetries)
			}
			nudge = l.guards.ModerationNudge
			continue
		}

		if l.guards != nil && l.guards.IsSelfModeration(text) {
			moderationRetries++
			l.metrics.moderationDetected.Add(1)
			l.logger.Warn("loop.self_moderation", "session", sessionID, "retry", moderationRetries, "text", truncate(text, 100))
			if moderationRetries >= l.guards.MaxModerationRetries {
				return l.terminate(sessionID, ReasonModelError, limiter.Count()),
					fmt.Errorf("model refused to answer after %d retries", moderationRetries)
			}
			nudge = l.guards.ModerationNudge
			continue
		}

		if l.guards != nil && l.guards.IsPromisedAction(text) && promiseRetries < l.guards.MaxPromiseRetries {
			promiseRetries++
			l.metrics.promiseDetected.Add(1)
			l.logger.Warn("loop.promised_action", "session", sessionID, "retry", promiseRetries, "text", truncate(text, 150))
			nudge = l.guards.PromiseNudge
			continue
		}

		text = DedupAnswer(text)

		if err := l.store.Append(sessionID, core.NewAssistantTurn(text)); err != nil {
			return l.terminate(sessionID, ReasonModelError, limiter.Count()), err
		}

		l.logger.Info("loop.run.done", "session", sessionID, "rounds", limiter.Count(), "answer_len", len(text))
		return &Result{
			SessionID:   sessionID,
			FinalAnswer: text,
			Reason:      ReasonDone,
			Rounds:      limiter.Count(),
		}, nil
	}
}

// callModel builds the request from the trimmed history (plus a transient
// nudge, which is never persisted) and invokes the model under its deadline.
// With a non-nil onDelta and a streaming-capable backend the answer text is
// surfaced fragment by fragment as it arrives.
func (l *Loop) callModel(ctx context.Context, session *core.Session, nudge string, onDelta func(delta string)) (*model.Output, error) {
	turns := session.History(l.historyKeepHead, l.historyWindow)
	if nudge != "" {
		turns = append(turns, core.NewUserTurn(nudge))
	}

	req := model.Request{
		Instructions: l.instructions,
		Turns:        turns,
		Tools:        l.toolDefs,
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if l.modelTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, l.modelTimeout)
		defer cancel()
	}

	start := time.Now()
	var out *model.Output
	var err error
	if sm, ok := l.llm.(model.StreamingModel); ok && onDelta != nil {
		out, err = sm.GenerateStream(callCtx, req, onDelta)
	} else {
		out, err = l.llm.Generate(callCtx, req)
	}
	l.metrics.modelCalls.Add(1)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", core.ErrModelTimeout, l.modelTimeout)
		}
		return nil, err
	}

	l.logger.Debug("loop.model.ok",
		"session", session.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"calls", len(out.Calls),
		"text_len", len(out.Text),
	)
	return out, nil
}

// processCalls validates and dispatches one batch of calls, appending one
// tool_call and exactly one tool_result turn per call before returning.
// Validation and handler failures become failed results; only a store
// failure (capacity) is returned as an error.
func (l *Loop) processCalls(ctx context.Context, session *core.Session, calls []core.FunctionCall) error {
	for _, call := range calls {
		if call.ID == "" {
			call.ID = core.NewID()
		}

		if err := l.store.Append(session.ID, core.NewToolCallTurn(call)); err != nil {
			return err
		}

		result := l.executeCall(ctx, session, call)

		if err := l.store.Append(session.ID, core.NewToolResultTurn(result)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) executeCall(ctx context.Context, session *core.Session, call core.FunctionCall) core.FunctionResult {
	l.metrics.toolCalls.Add(1)

	validated, err := tool.Validate(call, l.registry)
	if err != nil {
		l.metrics.failedCalls.Add(1)
		var valErr *tool.ValidationError
		if errors.As(err, &valErr) {
			l.metrics.validationFailures.Add(1)
			l.logger.Warn("loop.call.invalid",
				"session", session.ID,
				"function", call.Name,
				"kind", string(valErr.Kind),
			)
			return core.NewErrorResult(call, valErr.Descriptor())
		}
		return core.NewErrorResult(call, "call validation failed")
	}

	toolCtx := core.NewToolContext(session, call.ID, l.logger)
	result := l.router.Dispatch(ctx, toolCtx, validated)
	if !result.Success {
		l.metrics.failedCalls.Add(1)
	}
	return result
}

func (l *Loop) terminate(sessionID string, reason Reason, rounds int) *Result {
	return &Result{SessionID: sessionID, Reason: reason, Rounds: rounds}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
