package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
	"github.com/philipppogosov54-dotcom/mgp-v1/model"
	"github.com/philipppogosov54-dotcom/mgp-v1/schema"
	"github.com/philipppogosov54-dotcom/mgp-v1/session"
	"github.com/philipppogosov54-dotcom/mgp-v1/tool"
)

func testCatalog(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Load([]byte(`{
	  "tools": [
	    {
	      "type": "function",
	      "name": "search_tours",
	      "description": "Ищет туры.",
	      "parameters": {
	        "type": "object",
	        "properties": {
	          "country": {"type": "string"},
	          "nights": {"type": "integer"}
	        },
	        "required": ["country"]
	      }
	    }
	  ]
	}`))
	require.NoError(t, err)
	return reg
}

type loopFixture struct {
	llm   *model.Mock
	store *session.InMemoryStore
	loop  *Loop
	calls []map[string]any
	fail  error
}

func newLoopFixture(t *testing.T, optFns ...func(o *Options)) *loopFixture {
	t.Helper()

	f := &loopFixture{
		llm:   model.NewMock("test"),
		store: session.NewInMemoryStore(),
	}

	router := tool.NewRouter()
	require.NoError(t, router.Register("search_tours", tool.HandlerFunc(
		func(ctx context.Context, tc *core.ToolContext, args map[string]any) (any, error) {
			f.calls = append(f.calls, args)
			if f.fail != nil {
				return nil, f.fail
			}
			return map[string]any{"found": 2}, nil
		},
	)))

	loop, err := New(f.llm, testCatalog(t), router, f.store, optFns...)
	require.NoError(t, err)
	f.loop = loop
	return f
}

func (f *loopFixture) turns(t *testing.T, sessionID string) []core.Turn {
	t.Helper()
	s, err := f.store.Get(sessionID)
	require.NoError(t, err)
	return s.Snapshot()
}

func TestLoop_FinalAnswerWithoutTools(t *testing.T) {
	f := newLoopFixture(t)
	f.llm.EnqueueText("Здравствуйте! Чем могу помочь?")

	res, err := f.loop.Run(context.Background(), "s1", "привет")
	require.NoError(t, err)

	assert.Equal(t, ReasonDone, res.Reason)
	assert.Equal(t, "Здравствуйте! Чем могу помочь?", res.FinalAnswer)
	assert.Equal(t, 1, res.Rounds)

	turns := f.turns(t, "s1")
	require.Len(t, turns, 2)
	assert.Equal(t, core.TurnUser, turns[0].Kind)
	assert.Equal(t, core.TurnAssistant, turns[1].Kind)
}

func TestLoop_ToolRoundThenAnswer(t *testing.T) {
	f := newLoopFixture(t)
	f.llm.EnqueueCalls(core.FunctionCall{
		ID:        "c1",
		Name:      "search_tours",
		Arguments: `{"country": "Турция", "nights": "7"}`,
	})
	f.llm.EnqueueText("Нашёл 2 тура в Турцию.")

	res, err := f.loop.Run(context.Background(), "s1", "найди туры в Турцию на неделю")
	require.NoError(t, err)
	assert.Equal(t, ReasonDone, res.Reason)
	assert.Equal(t, 2, res.Rounds)

	// The handler received the coerced arguments.
	require.Len(t, f.calls, 1)
	assert.Equal(t, "Турция", f.calls[0]["country"])
	assert.Equal(t, int64(7), f.calls[0]["nights"])

	// History: user, tool_call, tool_result, assistant.
	turns := f.turns(t, "s1")
	require.Len(t, turns, 4)
	assert.Equal(t, core.TurnToolCall, turns[1].Kind)
	assert.Equal(t, core.TurnToolResult, turns[2].Kind)
	require.NotNil(t, turns[2].Result)
	assert.True(t, turns[2].Result.Success)
	assert.Equal(t, "c1", turns[2].Result.CallID)

	// The second model request carried the tool result.
	reqs := f.llm.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Turns[len(reqs[1].Turns)-1]
	assert.Equal(t, core.TurnToolResult, last.Kind)
}

func TestLoop_InvalidCallFedBack(t *testing.T) {
	f := newLoopFixture(t)
	// Missing the required "country" parameter.
	f.llm.EnqueueCalls(core.FunctionCall{ID: "c1", Name: "search_tours", Arguments: `{"nights": 7}`})
	f.llm.EnqueueText("Уточните, в какую страну вы хотите полететь?")

	res, err := f.loop.Run(context.Background(), "s1", "найди туры")
	require.NoError(t, err)
	assert.Equal(t, ReasonDone, res.Reason)

	// The handler never ran; the failure went back to the model instead.
	assert.Empty(t, f.calls)

	turns := f.turns(t, "s1")
	require.Len(t, turns, 4)
	require.NotNil(t, turns[2].Result)
	assert.False(t, turns[2].Result.Success)
	assert.Contains(t, turns[2].Result.Error, "country")

	m := f.loop.Metrics()
	assert.Equal(t, int64(1), m.ValidationFailures)
	assert.Equal(t, int64(1), m.FailedCalls)
}

func TestLoop_HandlerFailureFedBack(t *testing.T) {
	f := newLoopFixture(t)
	f.fail = tool.NewBusinessError("search_tours", "нет туров на эти даты")
	f.llm.EnqueueCalls(core.FunctionCall{ID: "c1", Name: "search_tours", Arguments: `{"country": "Турция"}`})
	f.llm.EnqueueText("К сожалению, на эти даты туров нет. Посмотреть соседние?")

	res, err := f.loop.Run(context.Background(), "s1", "туры в Турцию на завтра")
	require.NoError(t, err)
	assert.Equal(t, ReasonDone, res.Reason)

	turns := f.turns(t, "s1")
	require.NotNil(t, turns[2].Result)
	assert.False(t, turns[2].Result.Success)
	assert.Equal(t, "нет туров на эти даты", turns[2].Result.Error)
}

func TestLoop_OneResultPerCall(t *testing.T) {
	f := newLoopFixture(t)
	f.llm.EnqueueCalls(
		core.FunctionCall{ID: "c1", Name: "search_tours", Arguments: `{"country": "Турция"}`},
		core.FunctionCall{ID: "c2", Name: "search_tours", Arguments: `{"country": "Египет"}`},
	)
	f.llm.EnqueueText("Сравнил оба направления.")

	_, err := f.loop.Run(context.Background(), "s1", "сравни Турцию и Египет")
	require.NoError(t, err)

	turns := f.turns(t, "s1")
	// user, (tool_call, tool_result) x2, assistant
	require.Len(t, turns, 6)
	assert.Equal(t, "c1", turns[2].Result.CallID)
	assert.Equal(t, "c2", turns[4].Result.CallID)
}

func TestLoop_MaxRounds(t *testing.T) {
	f := newLoopFixture(t, func(o *Options) {
		o.MaxToolRounds = 3
	})
	for i := 0; i < 3; i++ {
		f.llm.EnqueueCalls(core.FunctionCall{
			ID:        fmt.Sprintf("c%d", i),
			Name:      "search_tours",
			Arguments: `{"country": "Турция"}`,
		})
	}

	res, err := f.loop.Run(context.Background(), "s1", "ищи без остановки")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMaxTurnsExceeded)
	assert.Equal(t, ReasonMaxRounds, res.Reason)

	// All three rounds ran their calls; the fourth never reached the model.
	assert.Len(t, f.calls, 3)
	assert.Len(t, f.llm.Requests(), 3)
	assert.Equal(t, int64(1), f.loop.Metrics().MaxRoundTerminations)
}

func TestLoop_EmptyOutputRetriedWithNudge(t *testing.T) {
	f := newLoopFixture(t)
	f.llm.EnqueueText("   ")
	f.llm.EnqueueText("Готов помочь!")

	res, err := f.loop.Run(context.Background(), "s1", "привет")
	require.NoError(t, err)
	assert.Equal(t, "Готов помочь!", res.FinalAnswer)

	// The retry request carried a transient nudge turn...
	reqs := f.llm.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Turns[len(reqs[1].Turns)-1]
	assert.Equal(t, core.TurnUser, last.Kind)
	assert.Equal(t, DefaultGuardConfig().ModerationNudge, last.Text)

	// ...which is never persisted.
	turns := f.turns(t, "s1")
	require.Len(t, turns, 2)
	assert.Equal(t, "привет", turns[0].Text)
	assert.Equal(t, "Готов помочь!", turns[1].Text)
}

func TestLoop_SelfModerationRetried(t *testing.T) {
	f := newLoopFixture(t)
	f.llm.EnqueueText("Я не могу обсуждать эту тему.")
	f.llm.EnqueueText("Продолжаю подбор тура.")

	res, err := f.loop.Run(context.Background(), "s1", "продолжай")
	require.NoError(t, err)
	assert.Equal(t, "Продолжаю подбор тура.", res.FinalAnswer)
	assert.Equal(t, int64(1), f.loop.Metrics().ModerationDetected)
}

func TestLoop_SelfModerationGivesUp(t *testing.T) {
	f := newLoopFixture(t)
	for i := 0; i < 3; i++ {
		f.llm.EnqueueText("Я не могу обсуждать эту тему.")
	}

	res, err := f.loop.Run(context.Background(), "s1", "продолжай")
	require.Error(t, err)
	assert.Equal(t, ReasonModelError, res.Reason)
}

func TestLoop_PromisedActionRetried(t *testing.T) {
	f := newLoopFixture(t)
	f.llm.EnqueueText("Отлично! Сейчас поищу варианты.")
	f.llm.EnqueueCalls(core.FunctionCall{ID: "c1", Name: "search_tours", Arguments: `{"country": "Турция"}`})
	f.llm.EnqueueText("Нашёл 2 варианта.")

	res, err := f.loop.Run(context.Background(), "s1", "найди туры в Турцию")
	require.NoError(t, err)
	assert.Equal(t, "Нашёл 2 варианта.", res.FinalAnswer)
	assert.Len(t, f.calls, 1)
	assert.Equal(t, int64(1), f.loop.Metrics().PromiseDetected)
}

func TestLoop_PromisedActionReturnedWhenRetriesExhausted(t *testing.T) {
	f := newLoopFixture(t, func(o *Options) {
		g := DefaultGuardConfig()
		g.MaxPromiseRetries = 1
		o.Guards = g
	})
	f.llm.EnqueueText("Сейчас поищу варианты.")
	f.llm.EnqueueText("Сейчас поищу варианты, уже ищу.")

	res, err := f.loop.Run(context.Background(), "s1", "найди туры")
	require.NoError(t, err)
	// Retries exhausted: the promise text is returned rather than looping.
	assert.Equal(t, "Сейчас поищу варианты, уже ищу.", res.FinalAnswer)
}

func TestLoop_ModelError(t *testing.T) {
	f := newLoopFixture(t)
	f.llm.EnqueueError(errors.New("upstream 502"))

	res, err := f.loop.Run(context.Background(), "s1", "привет")
	require.Error(t, err)
	assert.Equal(t, ReasonModelError, res.Reason)
	assert.Empty(t, res.FinalAnswer)
}

func TestLoop_Canceled(t *testing.T) {
	f := newLoopFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.loop.Run(ctx, "s1", "привет")
	require.Error(t, err)
	assert.Equal(t, ReasonCanceled, res.Reason)
}

func TestLoop_RequestCarriesCatalogAndInstructions(t *testing.T) {
	f := newLoopFixture(t, func(o *Options) {
		o.Instructions = "Ты — ассистент туристического агентства."
	})
	f.llm.EnqueueText("ок")

	_, err := f.loop.Run(context.Background(), "s1", "привет")
	require.NoError(t, err)

	reqs := f.llm.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Ты — ассистент туристического агентства.", reqs[0].Instructions)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "search_tours", reqs[0].Tools[0].Name)
}

func TestLoop_HistoryWindowApplied(t *testing.T) {
	f := newLoopFixture(t, func(o *Options) {
		o.HistoryKeepHead = 1
		o.HistoryWindow = 3
	})

	s, err := f.store.Get("s1")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		s.Append(core.NewUserTurn(fmt.Sprintf("old-%d", i)))
	}

	f.llm.EnqueueText("ок")
	_, err = f.loop.Run(context.Background(), "s1", "новое сообщение")
	require.NoError(t, err)

	reqs := f.llm.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Turns, 3)
	assert.Equal(t, "old-0", reqs[0].Turns[0].Text)
	assert.Equal(t, "новое сообщение", reqs[0].Turns[2].Text)
}

func TestLoop_NewValidation(t *testing.T) {
	reg := testCatalog(t)
	store := session.NewInMemoryStore()

	// Unbound declared function fails at construction, not at runtime.
	_, err := New(model.NewMock("test"), reg, tool.NewRouter(), store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search_tours")

	_, err = New(nil, reg, tool.NewRouter(), store)
	assert.Error(t, err)
}

func TestLoop_RunStreamDeliversDeltas(t *testing.T) {
	f := newLoopFixture(t)
	f.llm.EnqueueText("Нашёл 2 тура в Турцию.")

	var deltas []string
	res, err := f.loop.RunStream(context.Background(), "s1", "найди туры", func(delta string) {
		deltas = append(deltas, delta)
	})
	require.NoError(t, err)

	assert.Equal(t, ReasonDone, res.Reason)
	// The fragments concatenate to exactly the final answer.
	require.NotEmpty(t, deltas)
	assert.Greater(t, len(deltas), 1)
	var joined string
	for _, d := range deltas {
		joined += d
	}
	assert.Equal(t, res.FinalAnswer, joined)

	// The transcript is the same as for a non-streaming run.
	turns := f.turns(t, "s1")
	require.Len(t, turns, 2)
	assert.Equal(t, core.TurnAssistant, turns[1].Kind)
	assert.Equal(t, res.FinalAnswer, turns[1].Text)
}

// plainModel hides the mock's streaming method so only Generate is visible.
type plainModel struct{ inner *model.Mock }

func (p plainModel) Generate(ctx context.Context, req model.Request) (*model.Output, error) {
	return p.inner.Generate(ctx, req)
}

func (p plainModel) Info() model.Info { return p.inner.Info() }

func TestLoop_RunStreamFallsBackWithoutStreaming(t *testing.T) {
	mock := model.NewMock("test").EnqueueText("Ответ без стриминга.")
	store := session.NewInMemoryStore()
	router := tool.NewRouter()
	require.NoError(t, router.Register("search_tours", tool.HandlerFunc(
		func(ctx context.Context, tc *core.ToolContext, args map[string]any) (any, error) {
			return nil, nil
		},
	)))
	loop, err := New(plainModel{inner: mock}, testCatalog(t), router, store)
	require.NoError(t, err)

	called := false
	res, err := loop.RunStream(context.Background(), "s1", "привет", func(delta string) {
		called = true
	})
	require.NoError(t, err)

	assert.Equal(t, "Ответ без стриминга.", res.FinalAnswer)
	assert.False(t, called)
}

func TestLoop_NarrationBesideCallsPersisted(t *testing.T) {
	f := newLoopFixture(t)
	f.llm.Enqueue(&model.Output{
		Text:  "Сейчас посмотрю варианты.",
		Calls: []core.FunctionCall{{ID: "c1", Name: "search_tours", Arguments: `{"country": "Турция"}`}},
	})
	f.llm.EnqueueText("Нашёл 2 тура.")

	res, err := f.loop.Run(context.Background(), "s1", "найди туры в Турцию")
	require.NoError(t, err)
	assert.Equal(t, ReasonDone, res.Reason)
	assert.Equal(t, "Нашёл 2 тура.", res.FinalAnswer)

	// History: user, narration, tool_call, tool_result, assistant.
	turns := f.turns(t, "s1")
	require.Len(t, turns, 5)
	assert.Equal(t, core.TurnAssistant, turns[1].Kind)
	assert.Equal(t, "Сейчас посмотрю варианты.", turns[1].Text)
	assert.Equal(t, core.TurnToolCall, turns[2].Kind)
	assert.Equal(t, core.TurnToolResult, turns[3].Kind)
	assert.Equal(t, core.TurnAssistant, turns[4].Kind)
}
