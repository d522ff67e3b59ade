// Package openai adapts the OpenAI Chat Completions API (including streaming
// and function/tool calling) to the generic model.Model interface. A custom
// base URL can be supplied so the adapter also fronts OpenAI-compatible
// endpoints such as Yandex's https://ai.api.cloud.yandex.net/v1.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
	"github.com/philipppogosov54-dotcom/mgp-v1/model"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// so complete calls can be reconstructed when the finish reason arrives.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// BaseURL overrides the API endpoint for OpenAI-compatible providers.
	BaseURL string
	// APIKey overrides the ambient OPENAI_API_KEY.
	APIKey string
}

// Model wraps the OpenAI Chat Completions API behind model.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

var _ model.StreamingModel = (*Model)(nil)

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Output, error) {
	params := m.buildParams(req)

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	msg := resp.Choices[0].Message
	out := &model.Output{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.Calls = append(out.Calls, core.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	out.Usage = &model.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return out, nil
}

// GenerateStream implements model.StreamingModel, forwarding answer text
// fragments to onDelta while aggregating tool call deltas.
func (m *Model) GenerateStream(ctx context.Context, req model.Request, onDelta func(delta string)) (*model.Output, error) {
	params := m.buildParams(req)

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	var textBuilder strings.Builder
	toolAgg := map[int64]*aggCall{}

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				textBuilder.WriteString(choice.Delta.Content)
				if onDelta != nil {
					onDelta(choice.Delta.Content)
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					ac.args += tc.Function.Arguments
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai streaming error: %w", err)
	}

	out := &model.Output{Text: textBuilder.String()}
	indexes := make([]int64, 0, len(toolAgg))
	for i := range toolAgg {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	for _, i := range indexes {
		ac := toolAgg[i]
		out.Calls = append(out.Calls, core.FunctionCall{ID: ac.id, Name: ac.name, Arguments: ac.args})
	}
	return out, nil
}

// buildParams assembles the request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts the turn snapshot into chat messages. Consecutive
// tool_call turns collapse into a single assistant message carrying all
// parallel calls, as the API requires.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	turns := req.Turns
	for i := 0; i < len(turns); i++ {
		t := turns[i]
		switch t.Kind {
		case core.TurnUser:
			messages = append(messages, openai.UserMessage(t.Text))
		case core.TurnAssistant:
			messages = append(messages, openai.AssistantMessage(t.Text))
		case core.TurnToolCall:
			var toolCalls []openai.ChatCompletionMessageToolCallParam
			for ; i < len(turns) && turns[i].Kind == core.TurnToolCall; i++ {
				call := turns[i].Call
				if call == nil {
					continue
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			i-- // loop increment re-consumes the first non-call turn
			if len(toolCalls) > 0 {
				messages = append(messages, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Role:      "assistant",
						ToolCalls: toolCalls,
					},
				})
			}
		case core.TurnToolResult:
			if t.Result != nil {
				messages = append(messages, openai.ToolMessage(encodeResult(t.Result), t.Result.CallID))
			}
		}
	}
	return messages
}

// encodeResult serializes a FunctionResult for the tool message body:
// successful payloads as plain JSON, failures as an error object the model
// can read and recover from.
func encodeResult(res *core.FunctionResult) string {
	if !res.Success {
		data, err := json.Marshal(map[string]string{"error": res.Error})
		if err != nil {
			return `{"error":"unserializable error"}`
		}
		return string(data)
	}
	if s, ok := res.Payload.(string); ok {
		return s
	}
	data, err := json.Marshal(res.Payload)
	if err != nil {
		return fmt.Sprintf("%v", res.Payload)
	}
	return string(data)
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
