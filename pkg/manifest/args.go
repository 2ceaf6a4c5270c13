package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/baton/pkg/canonicalize"
)

// Deterministic error codes for tool argument/output boundary violations.
const (
	ErrArgsUnknownField    = "ERR_ARGS_UNKNOWN_FIELD"
	ErrArgsMissingRequired = "ERR_ARGS_MISSING_REQUIRED"
	ErrArgsTypeMismatch    = "ERR_ARGS_TYPE_MISMATCH"
	ErrArgsCanonFailed     = "ERR_ARGS_CANONICALIZATION_FAILED"
)

// ArgSchema is the lightweight shape descriptor a ToolSpec declares for its
// input and output. It supports required fields and scalar type checks
// without the weight of full JSON Schema. The same descriptor type serves
// both directions; tool outputs validate through the same routine.
type ArgSchema struct {
	// Fields maps field name to its spec.
	Fields map[string]FieldSpec `json:"fields" yaml:"fields"`
	// AllowExtra permits fields not declared in the schema.
	AllowExtra bool `json:"allow_extra,omitempty" yaml:"allow_extra,omitempty"`
}

// FieldSpec describes a single argument or output field.
// Type is one of "string", "number", "boolean", "object", "array", "any".
type FieldSpec struct {
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// ArgsResult is the successful result of boundary validation.
type ArgsResult struct {
	CanonicalJSON []byte `json:"-"`
	Hash          string `json:"hash"` // sha256:<hex> of canonical JSON
}

// ArgError is a typed boundary error.
type ArgError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ArgError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidateArgs validates a JSON-shaped value against a descriptor, then
// returns the canonical bytes and content hash. A nil schema skips the
// shape check but still canonicalizes.
func ValidateArgs(schema *ArgSchema, args any) (*ArgsResult, error) {
	argsMap, err := toMap(args)
	if err != nil {
		return nil, &ArgError{
			Code:    ErrArgsCanonFailed,
			Message: fmt.Sprintf("value must be a JSON object: %v", err),
		}
	}

	if schema != nil {
		if err := validateFields(schema, argsMap); err != nil {
			return nil, err
		}
	}

	canonical, err := canonicalize.JCS(argsMap)
	if err != nil {
		return nil, &ArgError{
			Code:    ErrArgsCanonFailed,
			Message: fmt.Sprintf("canonicalization failed: %v", err),
		}
	}

	return &ArgsResult{
		CanonicalJSON: canonical,
		Hash:          canonicalize.HashBytes(canonical),
	}, nil
}

func validateFields(schema *ArgSchema, args map[string]interface{}) error {
	for name, spec := range schema.Fields {
		val, exists := args[name]
		if spec.Required && !exists {
			return &ArgError{
				Code:    ErrArgsMissingRequired,
				Message: fmt.Sprintf("required field %q is missing", name),
				Field:   name,
			}
		}
		if exists && spec.Type != "any" {
			if err := checkType(name, val, spec.Type); err != nil {
				return err
			}
		}
	}

	if !schema.AllowExtra {
		for name := range args {
			if _, ok := schema.Fields[name]; !ok {
				return &ArgError{
					Code:    ErrArgsUnknownField,
					Message: fmt.Sprintf("unknown field %q not in schema", name),
					Field:   name,
				}
			}
		}
	}

	return nil
}

func checkType(field string, val interface{}, expected string) *ArgError {
	var ok bool
	switch expected {
	case "string":
		_, ok = val.(string)
	case "number":
		switch val.(type) {
		case float64, json.Number, int, int64:
			ok = true
		}
	case "boolean":
		_, ok = val.(bool)
	case "object":
		_, ok = val.(map[string]interface{})
	case "array":
		_, ok = val.([]interface{})
	case "any":
		ok = true
	default:
		ok = true // unknown type spec is permissive; Validate rejects it at registration
	}

	if !ok {
		return &ArgError{
			Code:    ErrArgsTypeMismatch,
			Message: fmt.Sprintf("field %q expected type %s, got %T", field, expected, val),
			Field:   field,
		}
	}
	return nil
}

func toMap(v any) (map[string]interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, nil
	case nil:
		return map[string]interface{}{}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
}
