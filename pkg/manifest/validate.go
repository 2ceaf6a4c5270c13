package manifest

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Deterministic error codes for structural manifest violations.
const (
	ErrManifestNameRequired   = "ERR_MANIFEST_NAME_REQUIRED"
	ErrManifestVersionInvalid = "ERR_MANIFEST_VERSION_INVALID"
	ErrManifestDomainInvalid  = "ERR_MANIFEST_DOMAIN_INVALID"
	ErrManifestAgentsEmpty    = "ERR_MANIFEST_AGENTS_EMPTY"
	ErrManifestAgentInvalid   = "ERR_MANIFEST_AGENT_INVALID"
	ErrManifestToolInvalid    = "ERR_MANIFEST_TOOL_INVALID"
	ErrManifestPolicyInvalid  = "ERR_MANIFEST_POLICY_INVALID"
	ErrManifestDepInvalid     = "ERR_MANIFEST_DEPENDENCY_INVALID"
	ErrManifestSchema         = "ERR_MANIFEST_SCHEMA"
)

// FieldError is a typed structural validation error.
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *FieldError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationError aggregates every structural problem found in a manifest.
// Registration reports all problems at once rather than stopping at the
// first.
type ValidationError struct {
	Errors []*FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "manifest validation failed: " + strings.Join(msgs, "; ")
}

// Validate checks the structural invariants of a manifest: required name,
// semver-shaped version, known domain, at least one agent, and well-formed
// agents, tools, policies and dependency declarations. Returns nil when the
// manifest is valid, otherwise a *ValidationError listing every violation.
func Validate(m *OrchestraManifest) error {
	var errs []*FieldError

	if strings.TrimSpace(m.Name) == "" {
		errs = append(errs, &FieldError{
			Code:    ErrManifestNameRequired,
			Message: "manifest name is required",
			Field:   "name",
		})
	}

	if _, err := semver.NewVersion(m.Version); err != nil {
		errs = append(errs, &FieldError{
			Code:    ErrManifestVersionInvalid,
			Message: fmt.Sprintf("version %q is not valid semver: %v", m.Version, err),
			Field:   "version",
		})
	}

	if !m.Domain.Valid() {
		errs = append(errs, &FieldError{
			Code:    ErrManifestDomainInvalid,
			Message: fmt.Sprintf("unknown domain %q", m.Domain),
			Field:   "domain",
		})
	}

	if len(m.Agents) == 0 {
		errs = append(errs, &FieldError{
			Code:    ErrManifestAgentsEmpty,
			Message: "manifest must declare at least one agent",
			Field:   "agents",
		})
	}
	for i, a := range m.Agents {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, &FieldError{
				Code:    ErrManifestAgentInvalid,
				Message: "agent name is required",
				Field:   fmt.Sprintf("agents[%d].name", i),
			})
		}
		if strings.TrimSpace(a.Role) == "" {
			errs = append(errs, &FieldError{
				Code:    ErrManifestAgentInvalid,
				Message: "agent role is required",
				Field:   fmt.Sprintf("agents[%d].role", i),
			})
		}
	}

	for i, tool := range m.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			errs = append(errs, &FieldError{
				Code:    ErrManifestToolInvalid,
				Message: "tool name is required",
				Field:   fmt.Sprintf("tools[%d].name", i),
			})
		}
		if err := validateDescriptor(tool.Input); err != nil {
			errs = append(errs, &FieldError{
				Code:    ErrManifestToolInvalid,
				Message: err.Error(),
				Field:   fmt.Sprintf("tools[%d].input", i),
			})
		}
		if err := validateDescriptor(tool.Output); err != nil {
			errs = append(errs, &FieldError{
				Code:    ErrManifestToolInvalid,
				Message: err.Error(),
				Field:   fmt.Sprintf("tools[%d].output", i),
			})
		}
	}

	for i, p := range m.Policies {
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, &FieldError{
				Code:    ErrManifestPolicyInvalid,
				Message: "policy id is required",
				Field:   fmt.Sprintf("policies[%d].id", i),
			})
		}
		if strings.TrimSpace(p.Rule) == "" {
			errs = append(errs, &FieldError{
				Code:    ErrManifestPolicyInvalid,
				Message: "policy rule text is required",
				Field:   fmt.Sprintf("policies[%d].rule", i),
			})
		}
		if p.Domain != "" && !p.Domain.Valid() {
			errs = append(errs, &FieldError{
				Code:    ErrManifestPolicyInvalid,
				Message: fmt.Sprintf("unknown policy domain %q", p.Domain),
				Field:   fmt.Sprintf("policies[%d].domain", i),
			})
		}
	}

	for i, dep := range m.DependsOn {
		if !dep.Valid() {
			errs = append(errs, &FieldError{
				Code:    ErrManifestDepInvalid,
				Message: fmt.Sprintf("unknown dependency domain %q", dep),
				Field:   fmt.Sprintf("depends_on[%d]", i),
			})
		}
		if m.Domain.Valid() && dep == m.Domain {
			errs = append(errs, &FieldError{
				Code:    ErrManifestDepInvalid,
				Message: "manifest cannot depend on its own domain",
				Field:   fmt.Sprintf("depends_on[%d]", i),
			})
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateDescriptor(s *ArgSchema) error {
	if s == nil {
		return nil
	}
	for name, spec := range s.Fields {
		switch spec.Type {
		case "string", "number", "boolean", "object", "array", "any":
		default:
			return fmt.Errorf("field %q declares unknown type %q", name, spec.Type)
		}
	}
	return nil
}
