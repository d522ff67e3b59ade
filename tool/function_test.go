package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
)

type searchArgs struct {
	Country string  `json:"country" jsonschema:"description=Destination country"`
	Nights  int     `json:"nights,omitempty"`
	Budget  float64 `json:"budget,omitempty"`
}

func TestNewFunctionToolFromStruct(t *testing.T) {
	ft, err := NewFunctionToolFromStruct(
		"search_tours",
		"Search tours by destination",
		searchArgs{},
		func(ctx context.Context, tc *core.ToolContext, args map[string]any) (any, error) {
			return args["country"], nil
		},
	)
	require.NoError(t, err)

	assert.Equal(t, "search_tours", ft.Name())
	assert.Equal(t, "Search tours by destination", ft.Description())

	params := ft.Parameters()
	require.NotNil(t, params)
	assert.Equal(t, "object", params["type"])
	assert.NotContains(t, params, "$schema")
	assert.NotContains(t, params, "$id")

	props, ok := params["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "country")
	assert.Contains(t, props, "nights")

	country, ok := props["country"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Destination country", country["description"])

	// Fields without omitempty are required.
	required, ok := params["required"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"country"}, required)

	out, err := ft.Execute(context.Background(), nil, map[string]any{"country": "Турция"})
	require.NoError(t, err)
	assert.Equal(t, "Турция", out)
}

func TestNewFunctionTool_NilParameters(t *testing.T) {
	ft := NewFunctionTool("noop", "does nothing", nil, func(ctx context.Context, tc *core.ToolContext, args map[string]any) (any, error) {
		return "ok", nil
	})

	params := ft.Parameters()
	assert.Equal(t, "object", params["type"])
	assert.NotNil(t, params["properties"])
}
