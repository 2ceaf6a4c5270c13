package api

import (
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/baton/pkg/authz"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

type authzCheckPayload struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Action string `json:"action"`
}

// handleAuthzCheck evaluates a cross-domain call against the authorization
// graph without dispatching anything. Useful for orchestras probing what
// they may call before committing to a workflow.
func (s *Server) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Authorization graph not configured")
		return
	}

	var payload authzCheckPayload
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	if payload.Source == "" || payload.Target == "" {
		WriteBadRequest(w, "Missing required fields: source, target")
		return
	}
	source := orchestra.Domain(payload.Source)
	target := orchestra.Domain(payload.Target)
	if !source.Valid() {
		WriteBadRequest(w, fmt.Sprintf("Unknown domain %q", payload.Source))
		return
	}
	if !target.Valid() {
		WriteBadRequest(w, fmt.Sprintf("Unknown domain %q", payload.Target))
		return
	}

	decision := s.graph.Authorize(r.Context(), authz.Request{
		Source:  source,
		Target:  target,
		Action:  payload.Action,
		Context: s.executionContext(r, ""),
	})
	writeJSON(w, http.StatusOK, decision)
}
