package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/baton/pkg/approval"
	"github.com/Mindburn-Labs/baton/pkg/auth"
)

// approvalsConfigured guards the approval routes; a 503 here means the
// deployment runs without a human-in-the-loop engine, not that the request
// was wrong.
func (s *Server) approvalsConfigured(w http.ResponseWriter) bool {
	if s.approvals == nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Approval engine not configured")
		return false
	}
	return true
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if !s.approvalsConfigured(w) {
		return
	}
	pending := s.approvals.Pending()
	writeJSON(w, http.StatusOK, map[string]any{
		"approvals": pending,
		"count":     len(pending),
	})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	if !s.approvalsConfigured(w) {
		return
	}
	id := r.PathValue("id")
	status, ok := s.approvals.Get(id)
	if !ok {
		WriteNotFound(w, fmt.Sprintf("No approval request %q", id))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// decidedBy attributes the decision to the authenticated principal; an
// unauthenticated test server falls back to a generic operator label.
func decidedBy(r *http.Request) string {
	if p, err := auth.GetPrincipal(r.Context()); err == nil {
		return p.GetID()
	}
	return "operator"
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if !s.approvalsConfigured(w) {
		return
	}
	id := r.PathValue("id")
	by := decidedBy(r)
	if err := s.approvals.Approve(r.Context(), id, by); err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			WriteNotFound(w, fmt.Sprintf("No approval request %q", id))
			return
		}
		WriteConflict(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":         id,
		"decision":   string(approval.DecisionApproved),
		"decided_by": by,
	})
}

type denyPayload struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	if !s.approvalsConfigured(w) {
		return
	}
	id := r.PathValue("id")

	reason := "denied by operator"
	if r.ContentLength != 0 {
		var payload denyPayload
		if !s.decodeJSON(w, r, &payload) {
			return
		}
		if payload.Reason != "" {
			reason = payload.Reason
		}
	}

	by := decidedBy(r)
	if err := s.approvals.Deny(r.Context(), id, by, reason); err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			WriteNotFound(w, fmt.Sprintf("No approval request %q", id))
			return
		}
		WriteConflict(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":         id,
		"decision":   string(approval.DecisionDenied),
		"decided_by": by,
		"reason":     reason,
	})
}
