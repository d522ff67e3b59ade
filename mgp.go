// Package mgp provides a high-level façade over the function-calling engine:
// schema registry, call validation, dispatch routing, session state and the
// agent loop. Most applications interact with this package by:
//  1. Loading a config.Config and creating an App via New()
//  2. Registering tools (before New, via Options) whose names appear in the
//     function-schema document
//  3. Sending user messages with Chat()
//
// The façade delegates orchestration to runner.Runner while keeping setup
// concise. Defaults are safe for local development; production deployments
// typically supply a durable session store and a structured logger.
package mgp

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/philipppogosov54-dotcom/mgp-v1/agent"
	"github.com/philipppogosov54-dotcom/mgp-v1/config"
	"github.com/philipppogosov54-dotcom/mgp-v1/core"
	"github.com/philipppogosov54-dotcom/mgp-v1/logging"
	"github.com/philipppogosov54-dotcom/mgp-v1/model"
	anthropicmodel "github.com/philipppogosov54-dotcom/mgp-v1/model/anthropic"
	openaimodel "github.com/philipppogosov54-dotcom/mgp-v1/model/openai"
	"github.com/philipppogosov54-dotcom/mgp-v1/runner"
	"github.com/philipppogosov54-dotcom/mgp-v1/schema"
	"github.com/philipppogosov54-dotcom/mgp-v1/session"
	"github.com/philipppogosov54-dotcom/mgp-v1/tool"
)

// Options configures the App beyond what config.Config carries.
type Options struct {
	// Tools are self-describing handlers to register before binding.
	Tools []tool.Tool
	// Handlers maps function names to bare handlers, for functions whose
	// schemas come from the schema document rather than the tool itself.
	Handlers map[string]tool.Handler

	// Model overrides the backend built from the config. Required when the
	// config provider is "mock".
	Model model.Model
	// SessionStore defaults to an in-memory store bounded by the config's
	// history ceiling.
	SessionStore core.SessionStore
	// Logger defaults to a slog logger built from the config.
	Logger logging.Logger
}

// App aggregates the wired engine components.
type App struct {
	registry *schema.Registry
	router   *tool.Router
	store    core.SessionStore
	loop     *agent.Loop
	runner   *runner.Runner
	logger   logging.Logger
}

// New wires an App from configuration. The schema document is loaded and
// compiled, all tools are registered and the router is bound: a declared
// function without a handler fails here, at startup.
func New(cfg *config.Config, optFns ...func(o *Options)) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mgp: nil config")
	}

	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(&logging.Config{
			Level:  logging.ParseLevel(cfg.Logging.Level),
			Format: cfg.Logging.Format,
		})
	}

	// The catalog comes from the schema document when one is configured;
	// otherwise the registered tools describe themselves.
	var registry *schema.Registry
	var err error
	if cfg.SchemaPath != "" {
		registry, err = schema.LoadFile(cfg.SchemaPath)
	} else {
		decls := make([]schema.Declaration, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			decls = append(decls, schema.Declaration{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			})
		}
		registry, err = schema.FromDeclarations(decls)
	}
	if err != nil {
		return nil, fmt.Errorf("mgp: load schemas: %w", err)
	}

	router := tool.NewRouter(func(o *tool.RouterOptions) {
		o.HandlerTimeout = cfg.Loop.HandlerTimeout.Std()
		o.Logger = logger
	})
	if err := router.RegisterTools(opts.Tools...); err != nil {
		return nil, fmt.Errorf("mgp: %w", err)
	}
	for name, h := range opts.Handlers {
		if err := router.Register(name, h); err != nil {
			return nil, fmt.Errorf("mgp: %w", err)
		}
	}

	llm := opts.Model
	if llm == nil {
		llm, err = buildModel(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("mgp: %w", err)
		}
	}

	store := opts.SessionStore
	if store == nil {
		store = session.NewInMemoryStore(func(o *session.InMemoryStoreOptions) {
			o.MaxTurns = cfg.History.MaxTurns
		})
	}

	instructions, err := loadInstructions(cfg.SystemPromptPath)
	if err != nil {
		return nil, fmt.Errorf("mgp: %w", err)
	}

	loop, err := agent.New(llm, registry, router, store, func(o *agent.Options) {
		o.Instructions = instructions
		o.MaxToolRounds = cfg.Loop.MaxToolRounds
		o.ModelTimeout = cfg.Model.Timeout.Std()
		o.HistoryKeepHead = cfg.History.KeepHead
		o.HistoryWindow = cfg.History.Window
		o.Logger = logger
	})
	if err != nil {
		return nil, err
	}

	run := runner.New(loop, store, func(o *runner.Options) {
		o.Logger = logger
	})

	return &App{
		registry: registry,
		router:   router,
		store:    store,
		loop:     loop,
		runner:   run,
		logger:   logger,
	}, nil
}

// Chat processes one user message in the given session and returns the
// assistant's answer. Calls for the same session are serialized.
func (a *App) Chat(ctx context.Context, sessionID, text string) (string, error) {
	return a.runner.HandleMessage(ctx, sessionID, text)
}

// ChatStream is Chat with live answer text: onDelta receives each fragment
// of the assistant's answer as the model produces it, when the configured
// backend supports streaming. The returned string is the complete answer.
func (a *App) ChatStream(ctx context.Context, sessionID, text string, onDelta func(delta string)) (string, error) {
	return a.runner.HandleMessageStream(ctx, sessionID, text, onDelta)
}

// Cancel aborts the session's in-flight turn, if any.
func (a *App) Cancel(sessionID string) error { return a.runner.Cancel(sessionID) }

// Reset clears the session's conversation history.
func (a *App) Reset(sessionID string) error { return a.runner.Reset(sessionID) }

// Registry exposes the compiled function catalog.
func (a *App) Registry() *schema.Registry { return a.registry }

// Metrics returns a snapshot of the loop's quality counters.
func (a *App) Metrics() agent.MetricsSnapshot { return a.loop.Metrics() }

func buildModel(mc config.ModelConfig) (model.Model, error) {
	switch mc.Provider {
	case "openai":
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			o.Model = mc.Name
			o.Temperature = mc.Temperature
			o.MaxCompletionTokens = int64(mc.MaxTokens)
			o.BaseURL = mc.BaseURL
			o.APIKey = mc.APIKey
		}), nil
	case "anthropic":
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.Model = anthropic.Model(mc.Name)
			o.Temperature = mc.Temperature
			o.MaxTokens = int64(mc.MaxTokens)
			o.APIKey = mc.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("provider %q needs an explicit Model override", mc.Provider)
	}
}

func loadInstructions(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
