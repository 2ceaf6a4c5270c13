package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/baton/pkg/manifest"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// handleRegisterManifest accepts a manifest document, YAML or JSON, and
// registers it. Schema and semantic violations come back as a 422 with the
// per-field error list.
func (s *Server) handleRegisterManifest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	data, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Unable to read request body")
		return
	}
	if len(data) == 0 {
		WriteBadRequest(w, "Missing manifest document")
		return
	}

	m, err := manifest.Parse(data)
	if err != nil {
		var ve *manifest.ValidationError
		if errors.As(err, &ve) {
			WriteValidationError(w, "Manifest validation failed", ve.Errors)
			return
		}
		WriteBadRequest(w, err.Error())
		return
	}

	hash, err := s.registry.Register(r.Context(), m)
	if err != nil {
		var ve *manifest.ValidationError
		if errors.As(err, &ve) {
			WriteValidationError(w, "Manifest validation failed", ve.Errors)
			return
		}
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"domain": m.Domain.String(),
		"hash":   hash,
	})
}

type orchestraSummary struct {
	Domain       orchestra.Domain   `json:"domain"`
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Status       string             `json:"status"`
	StatusReason string             `json:"status_reason,omitempty"`
	Hash         string             `json:"hash"`
	RegisteredAt time.Time          `json:"registered_at"`
	Agents       int                `json:"agents"`
	DependsOn    []orchestra.Domain `json:"depends_on,omitempty"`
}

// handleListManifests lists every registered orchestra, disabled ones
// included; operators need to see what Disable took out of rotation.
func (s *Server) handleListManifests(w http.ResponseWriter, r *http.Request) {
	domains := s.registry.ListDomains()
	summaries := make([]orchestraSummary, 0, len(domains))
	for _, d := range domains {
		entry, ok := s.registry.GetByDomain(d)
		if !ok {
			continue
		}
		summaries = append(summaries, orchestraSummary{
			Domain:       entry.Manifest.Domain,
			Name:         entry.Manifest.Name,
			Version:      entry.Manifest.Version,
			Status:       string(entry.Status),
			StatusReason: entry.StatusReason,
			Hash:         entry.Hash,
			RegisteredAt: entry.RegisteredAt,
			Agents:       len(entry.Manifest.Agents),
			DependsOn:    entry.Manifest.DependsOn,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orchestras": summaries,
		"count":      len(summaries),
	})
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	domain := orchestra.Domain(r.PathValue("domain"))
	entry, ok := s.registry.GetByDomain(domain)
	if !ok {
		WriteNotFound(w, fmt.Sprintf("No orchestra registered for domain %q", domain))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type disablePayload struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDisableOrchestra(w http.ResponseWriter, r *http.Request) {
	domain := orchestra.Domain(r.PathValue("domain"))

	reason := "disabled by operator"
	if r.ContentLength != 0 {
		var payload disablePayload
		if !s.decodeJSON(w, r, &payload) {
			return
		}
		if payload.Reason != "" {
			reason = payload.Reason
		}
	}

	if !s.registry.Disable(r.Context(), domain, reason) {
		WriteNotFound(w, fmt.Sprintf("No orchestra registered for domain %q", domain))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"domain": domain.String(),
		"status": "disabled",
		"reason": reason,
	})
}

func (s *Server) handleEnableOrchestra(w http.ResponseWriter, r *http.Request) {
	domain := orchestra.Domain(r.PathValue("domain"))
	if !s.registry.Enable(r.Context(), domain) {
		WriteNotFound(w, fmt.Sprintf("No orchestra registered for domain %q", domain))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"domain": domain.String(),
		"status": "active",
	})
}
