package api

import (
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/baton/pkg/auth"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"orchestras": len(s.registry.ListActive()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "baton",
		"version": s.version,
	})
}

// actionPayload is the wire form of a coordination request. The execution
// context is never taken from the body; it derives from the authenticated
// principal so callers cannot impersonate tenants.
type actionPayload struct {
	Domain          string         `json:"domain"`
	Action          string         `json:"action"`
	Arguments       map[string]any `json:"arguments,omitempty"`
	OrchestrationID string         `json:"orchestration_id,omitempty"`
}

func (p *actionPayload) toRequest(ec *orchestra.ExecutionContext) *orchestra.ActionRequest {
	return &orchestra.ActionRequest{
		Domain:    orchestra.Domain(p.Domain),
		Action:    p.Action,
		Arguments: p.Arguments,
		Context:   ec,
	}
}

func (p *actionPayload) validate() string {
	if p.Domain == "" || p.Action == "" {
		return "Missing required fields: domain, action"
	}
	if !orchestra.Domain(p.Domain).Valid() {
		return fmt.Sprintf("Unknown domain %q", p.Domain)
	}
	return ""
}

// executionContext builds the per-request context from the authenticated
// principal and the request id.
func (s *Server) executionContext(r *http.Request, orchestrationID string) *orchestra.ExecutionContext {
	ec := &orchestra.ExecutionContext{
		OrchestrationID: orchestrationID,
		TraceID:         GetRequestID(r.Context()),
	}
	if p, err := auth.GetPrincipal(r.Context()); err == nil {
		ec.TenantID = p.GetTenantID()
		ec.UserID = p.GetID()
		ec.Roles = p.GetRoles()
		ec.Permissions = p.GetPermissions()
	}
	return ec
}

// statusForResult maps an action outcome to an HTTP status. Collaborator
// business codes fall through to 422 so callers can distinguish "the engine
// refused" from "your request never reached an executor".
func statusForResult(res *orchestra.ActionResult) int {
	if res.Success {
		return http.StatusOK
	}
	code := ""
	if res.Error != nil {
		code = res.Error.Code
	}
	switch code {
	case orchestra.ErrCodeNotFound:
		return http.StatusNotFound
	case orchestra.ErrCodeNotImplemented:
		return http.StatusNotImplemented
	case orchestra.ErrCodeDisabled, orchestra.ErrCodeDependenciesMissing:
		return http.StatusConflict
	case orchestra.ErrCodePolicyDenied, orchestra.ErrCodeHITLDenied:
		return http.StatusForbidden
	case orchestra.ErrCodePolicyError, orchestra.ErrCodeHITLFailed, orchestra.ErrCodeExecutionError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) handleCoordinateAction(w http.ResponseWriter, r *http.Request) {
	var payload actionPayload
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	if msg := payload.validate(); msg != "" {
		WriteBadRequest(w, msg)
		return
	}

	req := payload.toRequest(s.executionContext(r, payload.OrchestrationID))
	result := s.conductor.CoordinateAction(r.Context(), req)
	writeJSON(w, statusForResult(result), result)
}

type workflowPayload struct {
	Parallel bool            `json:"parallel"`
	Actions  []actionPayload `json:"actions"`
}

// handleCoordinateWorkflow runs a multi-step workflow. The response is
// always 200 with per-step results; workflow-level failure shows up as
// failed steps, mirroring how the coordinator itself reports.
func (s *Server) handleCoordinateWorkflow(w http.ResponseWriter, r *http.Request) {
	var payload workflowPayload
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	if len(payload.Actions) == 0 {
		WriteBadRequest(w, "Missing required field: actions")
		return
	}

	requests := make([]*orchestra.ActionRequest, 0, len(payload.Actions))
	for i := range payload.Actions {
		step := &payload.Actions[i]
		if msg := step.validate(); msg != "" {
			WriteBadRequest(w, fmt.Sprintf("Step %d: %s", i, msg))
			return
		}
		requests = append(requests, step.toRequest(s.executionContext(r, step.OrchestrationID)))
	}

	results := s.conductor.CoordinateCrossOrchestra(r.Context(), requests, payload.Parallel)

	succeeded := 0
	for _, res := range results {
		if res != nil && res.Success {
			succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"parallel":  payload.Parallel,
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}
