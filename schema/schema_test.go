package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogDoc = `{
  "tools": [
    {
      "type": "function",
      "name": "search_tours",
      "description": "Ищет туры по направлению и датам.",
      "parameters": {
        "type": "object",
        "properties": {
          "country": {"type": "string"},
          "nights": {"type": "integer"},
          "budget": {"type": "number"},
          "category": {"type": "string", "enum": ["эконом", "стандарт", "люкс"]}
        },
        "required": ["country"]
      }
    },
    {
      "type": "web_search",
      "name": "web_search"
    },
    {
      "type": "function",
      "name": "get_current_date",
      "description": "Возвращает текущую дату."
    }
  ]
}`

func TestLoad(t *testing.T) {
	reg, err := Load([]byte(catalogDoc))
	require.NoError(t, err)

	// Provider builtins are skipped; document order is preserved.
	assert.Equal(t, []string{"search_tours", "get_current_date"}, reg.Names())
	assert.Equal(t, 2, reg.Len())

	fs, ok := reg.Lookup("search_tours")
	require.True(t, ok)
	assert.Equal(t, "Ищет туры по направлению и датам.", fs.Description)

	typ, declared := fs.PropertyType("nights")
	require.True(t, declared)
	assert.Equal(t, "integer", typ)

	_, declared = fs.PropertyType("no_such_param")
	assert.False(t, declared)

	assert.True(t, fs.Required("country"))
	assert.False(t, fs.Required("nights"))
	assert.Equal(t, []string{"country"}, fs.RequiredNames())

	// A function without a parameters block accepts an empty object.
	date, ok := reg.Lookup("get_current_date")
	require.True(t, ok)
	assert.NoError(t, date.ValidateArguments(map[string]any{}))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"tools": [`},
		{"no tools array", `{"functions": []}`},
		{"empty catalog", `{"tools": []}`},
		{"only builtins", `{"tools": [{"type": "web_search", "name": "web_search"}]}`},
		{"missing name", `{"tools": [{"type": "function", "description": "x"}]}`},
		{
			"duplicate name",
			`{"tools": [
				{"type": "function", "name": "f"},
				{"type": "function", "name": "f"}
			]}`,
		},
		{
			"parameters not an object",
			`{"tools": [{"type": "function", "name": "f", "parameters": [1, 2]}]}`,
		},
		{
			"required references undeclared property",
			`{"tools": [{"type": "function", "name": "f", "parameters": {
				"type": "object",
				"properties": {"a": {"type": "string"}},
				"required": ["b"]
			}}]}`,
		},
		{
			"schema does not compile",
			`{"tools": [{"type": "function", "name": "f", "parameters": {
				"type": "object",
				"properties": {"a": {"type": 42}}
			}}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc))
			require.Error(t, err)

			var schemaErr *SchemaError
			assert.ErrorAs(t, err, &schemaErr)
		})
	}
}

func TestFunctionSchema_ValidateArguments(t *testing.T) {
	reg, err := Load([]byte(catalogDoc))
	require.NoError(t, err)

	fs, ok := reg.Lookup("search_tours")
	require.True(t, ok)

	assert.NoError(t, fs.ValidateArguments(map[string]any{
		"country":  "Турция",
		"nights":   int64(7),
		"category": "люкс",
	}))

	// Enum violations surface through the compiled schema.
	assert.Error(t, fs.ValidateArguments(map[string]any{
		"country":  "Турция",
		"category": "президентский",
	}))
}

func TestFromDeclarations(t *testing.T) {
	reg, err := FromDeclarations([]Declaration{
		{
			Name:        "calculate_sum",
			Description: "Calculate the sum of two numbers",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "number"},
					"b": map[string]any{"type": "number"},
				},
				"required": []any{"a", "b"},
			},
		},
		{Name: "noop"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"calculate_sum", "noop"}, reg.Names())

	fs, ok := reg.Lookup("calculate_sum")
	require.True(t, ok)
	assert.True(t, fs.Required("a"))
	assert.NoError(t, fs.ValidateArguments(map[string]any{"a": 1.5, "b": 2.0}))
	assert.Error(t, fs.ValidateArguments(map[string]any{"a": "not a number", "b": 2.0}))
}

func TestFromDeclarations_Duplicate(t *testing.T) {
	_, err := FromDeclarations([]Declaration{{Name: "f"}, {Name: "f"}})
	require.Error(t, err)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "f", schemaErr.Function)
}
