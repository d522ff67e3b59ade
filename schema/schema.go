// Package schema loads and indexes the declarative function catalog exposed
// to the model. The catalog document (conventionally function_schemas.json)
// is the single source of truth for which calls are valid; it is parsed once
// at process start and the resulting Registry is read-only thereafter.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
)

// FunctionSchema is the declaration of one callable function: its unique
// name, human-readable description and JSON-Schema parameter specification.
// Immutable after load.
type FunctionSchema struct {
	Name        string
	Description string
	// Parameters is the raw JSON-Schema object handed to the model layer
	// when presenting the tool catalog.
	Parameters map[string]any

	compiled  *jsonschema.Schema
	propTypes map[string]string
	required  map[string]struct{}
}

// PropertyType returns the declared JSON-Schema type of a parameter and
// whether the parameter is declared at all. An empty type with ok=true means
// the property exists but declares no type.
func (fs *FunctionSchema) PropertyType(name string) (string, bool) {
	t, ok := fs.propTypes[name]
	return t, ok
}

// Required reports whether a parameter is declared required.
func (fs *FunctionSchema) Required(name string) bool {
	_, ok := fs.required[name]
	return ok
}

// RequiredNames returns the declared required parameter names, sorted so
// callers report the same parameter first on every run.
func (fs *FunctionSchema) RequiredNames() []string {
	names := make([]string, 0, len(fs.required))
	for name := range fs.required {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateArguments runs the compiled parameter schema against an argument
// map. Used by the call validator after the coercion pass to enforce enum
// and other declarative constraints.
func (fs *FunctionSchema) ValidateArguments(args map[string]any) error {
	if fs.compiled == nil {
		return nil
	}
	return fs.compiled.Validate(normalizeForValidation(args))
}

// SchemaError reports a fatal problem in the catalog document. Per the error
// taxonomy it aborts process startup; it is never produced at call time.
type SchemaError struct {
	Function string // offending function name, if known
	Reason   string
	Err      error
}

func (e *SchemaError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("schema error in %q: %s", e.Function, e.Reason)
	}
	return fmt.Sprintf("schema error: %s", e.Reason)
}

// Unwrap supports errors.Is / errors.As on the wrapped cause.
func (e *SchemaError) Unwrap() error { return e.Err }

// Registry indexes FunctionSchemas by name while preserving document order.
// Loaded once at startup; no mutation API is exposed.
type Registry struct {
	byName  map[string]*FunctionSchema
	ordered []*FunctionSchema
}

// Load parses a catalog document into a Registry. The document is an object
// with a "tools" array of declarations shaped as
//
//	{"type": "function", "name": ..., "description": ..., "parameters": {...}}
//
// Entries with a non-"function" type (provider builtins such as web_search)
// are skipped: they carry no parameter contract the engine could enforce.
// Duplicate names, missing names and parameter specs that fail JSON-Schema
// compilation yield a *SchemaError.
func Load(doc []byte) (*Registry, error) {
	if !gjson.ValidBytes(doc) {
		return nil, &SchemaError{Reason: "document is not valid JSON"}
	}

	tools := gjson.GetBytes(doc, "tools")
	if !tools.Exists() || !tools.IsArray() {
		return nil, &SchemaError{Reason: `document has no "tools" array`}
	}

	reg := &Registry{byName: make(map[string]*FunctionSchema)}

	compiler := jsonschema.NewCompiler()

	var loadErr error
	tools.ForEach(func(_, entry gjson.Result) bool {
		typ := entry.Get("type").String()
		if typ != "" && typ != "function" {
			return true // provider builtin, skip
		}

		fs, err := parseFunction(compiler, entry)
		if err != nil {
			loadErr = err
			return false
		}

		if _, exists := reg.byName[fs.Name]; exists {
			loadErr = &SchemaError{Function: fs.Name, Reason: "duplicate function name"}
			return false
		}

		reg.byName[fs.Name] = fs
		reg.ordered = append(reg.ordered, fs)
		return true
	})
	if loadErr != nil {
		return nil, loadErr
	}

	if len(reg.ordered) == 0 {
		return nil, &SchemaError{Reason: "catalog declares no functions"}
	}

	return reg, nil
}

// Declaration is a programmatic function declaration, for catalogs built
// from self-describing tools rather than a document.
type Declaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// FromDeclarations builds a Registry from in-process declarations. The same
// rules as Load apply: names must be unique and non-empty, parameter specs
// must compile.
func FromDeclarations(decls []Declaration) (*Registry, error) {
	if len(decls) == 0 {
		return nil, &SchemaError{Reason: "catalog declares no functions"}
	}

	reg := &Registry{byName: make(map[string]*FunctionSchema)}
	compiler := jsonschema.NewCompiler()

	for _, d := range decls {
		if strings.TrimSpace(d.Name) == "" {
			return nil, &SchemaError{Reason: "function declaration has no name"}
		}
		if _, exists := reg.byName[d.Name]; exists {
			return nil, &SchemaError{Function: d.Name, Reason: "duplicate function name"}
		}

		fs := &FunctionSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
			propTypes:   map[string]string{},
			required:    map[string]struct{}{},
		}
		if fs.Parameters == nil {
			fs.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		raw, err := json.Marshal(fs.Parameters)
		if err != nil {
			return nil, &SchemaError{Function: d.Name, Reason: "malformed parameters object", Err: err}
		}
		if err := derivePropertyTable(fs, fs.Parameters); err != nil {
			return nil, err
		}
		compiled, err := compileParameters(compiler, d.Name, string(raw))
		if err != nil {
			return nil, &SchemaError{Function: d.Name, Reason: "parameter schema does not compile", Err: err}
		}
		fs.compiled = compiled

		reg.byName[fs.Name] = fs
		reg.ordered = append(reg.ordered, fs)
	}

	return reg, nil
}

// LoadFile reads and parses a catalog document from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("read %s", path), Err: err}
	}
	return Load(data)
}

// Lookup returns the schema registered under name.
func (r *Registry) Lookup(name string) (*FunctionSchema, bool) {
	fs, ok := r.byName[name]
	return fs, ok
}

// List returns all schemas in document order.
func (r *Registry) List() []*FunctionSchema {
	out := make([]*FunctionSchema, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Names returns all function names in document order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, fs := range r.ordered {
		names[i] = fs.Name
	}
	return names
}

// Len returns the number of registered functions.
func (r *Registry) Len() int { return len(r.ordered) }

func parseFunction(compiler *jsonschema.Compiler, entry gjson.Result) (*FunctionSchema, error) {
	name := entry.Get("name").String()
	if strings.TrimSpace(name) == "" {
		return nil, &SchemaError{Reason: "function declaration has no name"}
	}

	fs := &FunctionSchema{
		Name:        name,
		Description: entry.Get("description").String(),
		propTypes:   map[string]string{},
		required:    map[string]struct{}{},
	}

	params := entry.Get("parameters")
	if !params.Exists() {
		// No parameters declared: the function accepts an empty object.
		fs.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		return fs, nil
	}
	if !params.IsObject() {
		return nil, &SchemaError{Function: name, Reason: "parameters is not a JSON-Schema object"}
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(params.Raw), &raw); err != nil {
		return nil, &SchemaError{Function: name, Reason: "malformed parameters object", Err: err}
	}
	fs.Parameters = raw

	if err := derivePropertyTable(fs, raw); err != nil {
		return nil, err
	}

	compiled, err := compileParameters(compiler, name, params.Raw)
	if err != nil {
		return nil, &SchemaError{Function: name, Reason: "parameter schema does not compile", Err: err}
	}
	fs.compiled = compiled

	return fs, nil
}

// derivePropertyTable extracts the per-property declared types and the
// required set used by the coercion pass of the call validator.
func derivePropertyTable(fs *FunctionSchema, raw map[string]any) error {
	if props, ok := raw["properties"]; ok {
		propsMap, ok := props.(map[string]any)
		if !ok {
			return &SchemaError{Function: fs.Name, Reason: "properties is not an object"}
		}
		for propName, spec := range propsMap {
			specMap, ok := spec.(map[string]any)
			if !ok {
				return &SchemaError{Function: fs.Name, Reason: fmt.Sprintf("property %q spec is not an object", propName)}
			}
			declared := ""
			if t, ok := specMap["type"]; ok {
				s, ok := t.(string)
				if !ok {
					return &SchemaError{Function: fs.Name, Reason: fmt.Sprintf("property %q has a non-string type", propName)}
				}
				declared = s
			}
			fs.propTypes[propName] = declared
		}
	}

	if req, ok := raw["required"]; ok {
		reqList, ok := req.([]any)
		if !ok {
			return &SchemaError{Function: fs.Name, Reason: "required is not an array"}
		}
		for _, v := range reqList {
			s, ok := v.(string)
			if !ok {
				return &SchemaError{Function: fs.Name, Reason: "required contains a non-string entry"}
			}
			if _, declared := fs.propTypes[s]; !declared {
				return &SchemaError{Function: fs.Name, Reason: fmt.Sprintf("required parameter %q is not declared in properties", s)}
			}
			fs.required[s] = struct{}{}
		}
	}

	return nil
}

func compileParameters(compiler *jsonschema.Compiler, name, raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("mgp:///functions/%s.json", name)
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeForValidation round-trips the argument map through JSON-typed
// values (float64 numbers, []any arrays) so the compiled validator sees the
// same shapes it would after decoding a wire payload.
func normalizeForValidation(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return args
	}
	return v
}
