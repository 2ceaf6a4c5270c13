package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchemaURL anchors the embedded schema for compiler resolution.
const manifestSchemaURL = "https://baton.schemas.local/orchestra-manifest.schema.json"

// manifestSchema is the JSON Schema (draft 2020-12) an incoming manifest
// document must satisfy before it is decoded into OrchestraManifest. It
// guards shape only; semantic checks (semver, known domains, self-deps)
// live in Validate.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://baton.schemas.local/orchestra-manifest.schema.json",
  "type": "object",
  "required": ["name", "version", "domain", "agents"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "domain": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "agents": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "role"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "role": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "capabilities": {"type": "array", "items": {"type": "string"}},
          "tools": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "tools": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "input": {"type": "object"},
          "output": {"type": "object"},
          "required_permissions": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "policies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "rule"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "domain": {"type": "string"},
          "rule": {"type": "string", "minLength": 1},
          "precedence": {"type": "string"},
          "enforced": {"type": "boolean"}
        }
      }
    },
    "depends_on": {"type": "array", "items": {"type": "string"}},
    "mcp_servers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "transport": {"type": "string"},
          "endpoint": {"type": "string"}
        }
      }
    },
    "metadata": {
      "type": "object",
      "properties": {
        "author": {"type": "string"},
        "tags": {"type": "array", "items": {"type": "string"}},
        "priority": {"type": "integer"}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(manifestSchemaURL, strings.NewReader(manifestSchema)); err != nil {
			schemaErr = fmt.Errorf("manifest schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(manifestSchemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a decoded JSON/YAML document (maps, slices,
// scalars) against the embedded manifest schema.
func ValidateDocument(doc any) error {
	s, err := compiled()
	if err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		var sve *jsonschema.ValidationError
		if errors.As(err, &sve) {
			return fmt.Errorf("manifest document rejected by schema: %w", schemaViolation(sve))
		}
		return fmt.Errorf("manifest document rejected by schema: %w", err)
	}
	return nil
}

// schemaViolation flattens the schema error tree into the typed error the
// semantic validator produces, so callers handle both through one path.
func schemaViolation(e *jsonschema.ValidationError) *ValidationError {
	var errs []*FieldError
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			errs = append(errs, &FieldError{
				Code:    ErrManifestSchema,
				Message: v.Message,
				Field:   strings.TrimPrefix(v.InstanceLocation, "/"),
			})
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(e)
	return &ValidationError{Errors: errs}
}

// ValidateJSON checks raw JSON bytes against the embedded manifest schema.
func ValidateJSON(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("manifest document is not valid JSON: %w", err)
	}
	return ValidateDocument(doc)
}
