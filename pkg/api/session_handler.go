package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/baton/pkg/conductor"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.conductor.ListActiveSessions(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := s.conductor.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, conductor.ErrSessionNotFound) {
			WriteNotFound(w, fmt.Sprintf("No coordination session %q", id))
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleAbortSession force-terminates an active session. Aborting a session
// that already reached a terminal status returns it unchanged, so the call
// is safe to retry.
func (s *Server) handleAbortSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := s.conductor.AbortSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, conductor.ErrSessionNotFound) {
			WriteNotFound(w, fmt.Sprintf("No coordination session %q", id))
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
