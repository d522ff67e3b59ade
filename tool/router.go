package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
	"github.com/philipppogosov54-dotcom/mgp-v1/logging"
	"github.com/philipppogosov54-dotcom/mgp-v1/schema"
)

// descriptorInternal is the model-visible text for failures whose details
// must stay inside the process (panics, unexpected errors).
const descriptorInternal = "internal handler failure"

// RouterOptions configures a Router.
type RouterOptions struct {
	// HandlerTimeout bounds each dispatch. 0 disables the deadline.
	HandlerTimeout time.Duration
	// Logger receives dispatch telemetry. Defaults to NoOp.
	Logger logging.Logger
}

// Router maps validated calls to their bound handlers and invokes them with
// full failure isolation: no handler outcome (error, panic, timeout) ever
// propagates out of Dispatch as anything but a failed FunctionResult.
type Router struct {
	handlers map[string]Handler
	timeout  time.Duration
	logger   logging.Logger
}

// NewRouter constructs an empty router.
func NewRouter(optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{
		HandlerTimeout: 30 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		handlers: make(map[string]Handler),
		timeout:  opts.HandlerTimeout,
		logger:   opts.Logger,
	}
}

// Register binds a function name to a handler. Rebinding a name is a
// configuration error.
func (r *Router) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("register: empty function name")
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handler", name)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("register %s: handler already bound", name)
	}
	r.handlers[name] = h
	return nil
}

// RegisterTool binds a self-describing tool under its own name.
func (r *Router) RegisterTool(t Tool) error {
	return r.Register(t.Name(), t)
}

// RegisterTools binds multiple tools, stopping at the first error.
func (r *Router) RegisterTools(tools ...Tool) error {
	for _, t := range tools {
		if err := r.RegisterTool(t); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether a handler is bound for name.
func (r *Router) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Bind verifies that every function declared in the registry has a bound
// handler. An unbound declaration is a startup-time configuration error,
// never a runtime one. Handlers without a declaration are tolerated (the
// model cannot reach them) but logged.
func (r *Router) Bind(reg *schema.Registry) error {
	var unbound []string
	for _, name := range reg.Names() {
		if !r.Has(name) {
			unbound = append(unbound, name)
		}
	}
	if len(unbound) > 0 {
		return fmt.Errorf("no handler bound for declared functions: %v", unbound)
	}
	for name := range r.handlers {
		if _, ok := reg.Lookup(name); !ok {
			r.logger.Warn("router.orphan_handler", "function", name)
		}
	}
	return nil
}

// Dispatch invokes the handler bound to a validated call and converts every
// outcome into a FunctionResult. Timeouts leave the handler goroutine to
// drain on its own: cancellation must stop the loop, not forcibly abort an
// in-flight handler.
func (r *Router) Dispatch(ctx context.Context, toolCtx *core.ToolContext, call *ValidatedCall) core.FunctionResult {
	origin := core.FunctionCall{ID: call.ID, Name: call.Name}

	h, ok := r.handlers[call.Name]
	if !ok {
		// Validation guarantees the name resolves; reaching this branch
		// means Bind was skipped.
		r.logger.Error("router.unbound", "function", call.Name)
		return core.NewErrorResult(origin, descriptorInternal)
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := r.invoke(execCtx, toolCtx, h, call)
	dur := time.Since(start)

	if err != nil {
		r.logger.Warn("router.dispatch.failed",
			"function", call.Name,
			"call_id", call.ID,
			"duration_ms", dur.Milliseconds(),
			"error", err.Error(),
		)
		return core.NewErrorResult(origin, descriptorFor(err))
	}

	r.logger.Info("router.dispatch.ok",
		"function", call.Name,
		"call_id", call.ID,
		"duration_ms", dur.Milliseconds(),
	)
	return core.NewSuccessResult(origin, payload)
}

type invokeOutcome struct {
	payload any
	err     error
}

// invoke runs the handler in its own goroutine so a deadline can be enforced
// even against a handler that ignores ctx. Panics are recovered inside the
// goroutine.
func (r *Router) invoke(ctx context.Context, toolCtx *core.ToolContext, h Handler, call *ValidatedCall) (any, error) {
	done := make(chan invokeOutcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("router.handler.panic",
					"function", call.Name,
					"recover", fmt.Sprintf("%v", rec),
					"stack", string(debug.Stack()),
				)
				done <- invokeOutcome{err: fmt.Errorf("handler panic: %v", rec)}
			}
		}()
		payload, err := h.Execute(ctx, toolCtx, call.Args)
		done <- invokeOutcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		return out.payload, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", call.Name, core.ErrHandlerTimeout)
		}
		return nil, ctx.Err()
	}
}

// descriptorFor maps a handler failure to the model-visible error text.
// Business errors pass their message through so the model can self-correct;
// everything internal is reported generically.
func descriptorFor(err error) string {
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr.Code == CodeBusiness {
		return toolErr.Message
	}
	if errors.Is(err, core.ErrHandlerTimeout) {
		return "handler timed out"
	}
	return descriptorInternal
}
