package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
	"github.com/philipppogosov54-dotcom/mgp-v1/schema"
)

// ValidationKind classifies the ways a requested call can fail validation.
type ValidationKind string

const (
	// KindUnknownFunction means the call names no registered schema.
	KindUnknownFunction ValidationKind = "unknown_function"
	// KindMalformedArguments means the raw argument payload is not a JSON object.
	KindMalformedArguments ValidationKind = "malformed_arguments"
	// KindMissingParameter means a required parameter is absent.
	KindMissingParameter ValidationKind = "missing_parameter"
	// KindTypeMismatch means a supplied value violates its declared type or
	// constraint and could not be coerced.
	KindTypeMismatch ValidationKind = "type_mismatch"
	// KindUnexpectedParameter means the call supplies a parameter the schema
	// does not declare. Rejected rather than dropped so model/schema drift
	// surfaces early.
	KindUnexpectedParameter ValidationKind = "unexpected_parameter"
)

// ValidationError reports why a call failed validation. It is recoverable:
// the loop converts it into a failed FunctionResult fed back to the model.
type ValidationError struct {
	Kind      ValidationKind `json:"kind"`
	Function  string         `json:"function"`
	Parameter string         `json:"parameter,omitempty"`
	Expected  string         `json:"expected,omitempty"`
	Actual    string         `json:"actual,omitempty"`
	Message   string         `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s] for %s: %s", e.Kind, e.Function, e.Message)
}

// Descriptor returns the model-visible error text. Validation errors are
// deliberately verbose so the model can self-correct on the next turn.
func (e *ValidationError) Descriptor() string { return e.Error() }

// ValidatedCall is a FunctionCall that passed validation, carrying the
// coerced argument values ready for dispatch.
type ValidatedCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Validate checks a requested call against the registry, in order: the name
// must resolve to a schema, all required parameters must be present, each
// supplied value must match (or coerce to) its declared type, and no
// undeclared parameter may be present. Finally the compiled parameter schema
// enforces declarative constraints such as enums.
//
// On success the returned ValidatedCall holds deterministically coerced
// argument values: a given (declared type, raw value) pair always produces
// the same coerced value or the same rejection.
func Validate(call core.FunctionCall, reg *schema.Registry) (*ValidatedCall, error) {
	fs, ok := reg.Lookup(call.Name)
	if !ok {
		return nil, &ValidationError{
			Kind:     KindUnknownFunction,
			Function: call.Name,
			Message:  fmt.Sprintf("function %q is not declared in the catalog", call.Name),
		}
	}

	args, err := decodeArguments(call)
	if err != nil {
		return nil, err
	}

	for _, name := range fs.RequiredNames() {
		if _, present := args[name]; !present {
			return nil, &ValidationError{
				Kind:      KindMissingParameter,
				Function:  call.Name,
				Parameter: name,
				Message:   fmt.Sprintf("required parameter %q is missing", name),
			}
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	// Declared values are type-checked before undeclared names are
	// reported, so a call carrying both defects always yields the type
	// mismatch. Sorted iteration keeps the reported parameter stable.
	coerced := make(map[string]any, len(args))
	for _, name := range names {
		declared, known := fs.PropertyType(name)
		if !known {
			continue
		}
		cv, ok := coerceValue(declared, args[name])
		if !ok {
			return nil, &ValidationError{
				Kind:      KindTypeMismatch,
				Function:  call.Name,
				Parameter: name,
				Expected:  declared,
				Actual:    fmt.Sprintf("%T", args[name]),
				Message:   fmt.Sprintf("parameter %q: expected %s, got %v", name, declared, args[name]),
			}
		}
		coerced[name] = cv
	}

	for _, name := range names {
		if _, known := fs.PropertyType(name); !known {
			return nil, &ValidationError{
				Kind:      KindUnexpectedParameter,
				Function:  call.Name,
				Parameter: name,
				Message:   fmt.Sprintf("parameter %q is not declared by %q", name, call.Name),
			}
		}
	}

	if err := fs.ValidateArguments(coerced); err != nil {
		return nil, &ValidationError{
			Kind:     KindTypeMismatch,
			Function: call.Name,
			Message:  fmt.Sprintf("arguments violate the parameter schema: %v", err),
		}
	}

	return &ValidatedCall{ID: call.ID, Name: call.Name, Args: coerced}, nil
}

// decodeArguments parses the raw wire payload. An empty payload is an empty
// object; anything that is not a JSON object is rejected.
func decodeArguments(call core.FunctionCall) (map[string]any, error) {
	if call.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return nil, &ValidationError{
			Kind:     KindMalformedArguments,
			Function: call.Name,
			Message:  fmt.Sprintf("arguments are not a JSON object: %v", err),
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// coerceValue applies the total, deterministic coercion table for a declared
// JSON-Schema type. The second return is false when the value is rejected.
//
// Table:
//
//	string  <- string | number (formatted)
//	number  <- number | numeric string
//	integer <- integral number | integral numeric string
//	boolean <- bool | "true" | "false"
//	array   <- array
//	object  <- object
//	""      <- anything (no declared type)
func coerceValue(declared string, v any) (any, bool) {
	if v == nil {
		return nil, true
	}

	switch declared {
	case "":
		return v, true

	case "string":
		switch t := v.(type) {
		case string:
			return t, true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case int:
			return strconv.Itoa(t), true
		case int64:
			return strconv.FormatInt(t, 10), true
		}
		return nil, false

	case "number":
		if f, ok := asFloat(v); ok {
			return f, true
		}
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
		return nil, false

	case "integer":
		if f, ok := asFloat(v); ok {
			return asInteger(f)
		}
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return asInteger(f)
			}
		}
		return nil, false

	case "boolean":
		switch t := v.(type) {
		case bool:
			return t, true
		case string:
			if t == "true" {
				return true, true
			}
			if t == "false" {
				return false, true
			}
		}
		return nil, false

	case "array":
		if a, ok := v.([]any); ok {
			return a, true
		}
		return nil, false

	case "object":
		if m, ok := v.(map[string]any); ok {
			return m, true
		}
		return nil, false
	}

	// Unknown declared types were rejected at schema compile time; the
	// compiled-schema pass still checks whatever reaches here.
	return v, true
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

// asInteger accepts only integral values: 3 and "3" coerce, 3.7 is rejected
// rather than truncated so drift between model and schema stays visible.
func asInteger(f float64) (any, bool) {
	if math.Trunc(f) != f || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, false
	}
	return int64(f), true
}
