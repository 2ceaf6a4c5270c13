package conductor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// SessionStatus is the coordination session state. Sessions move one way:
// active to exactly one terminal status, never back.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionAborted   SessionStatus = "aborted"
)

// Terminal reports whether the status ends a session.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionAborted
}

// Session tracks one orchestration. The involved-domain set grows while the
// session is active as further domains join under the same orchestration id;
// terminal sessions are retained for inspection until an explicit clear.
type Session struct {
	OrchestrationID string                      `json:"orchestration_id"`
	InitiatedBy     orchestra.Domain            `json:"initiated_by"`
	InvolvedDomains []orchestra.Domain          `json:"involved_domains"`
	StartedAt       time.Time                   `json:"started_at"`
	Status          SessionStatus               `json:"status"`
	Context         *orchestra.ExecutionContext `json:"context,omitempty"`
}

// ErrSessionNotFound reports an orchestration id with no stored session.
var ErrSessionNotFound = errors.New("coordination session not found")

// Store holds coordination sessions keyed by orchestration id. It must be
// safe under concurrent insert, update and read.
type Store interface {
	// Open creates a session for orchestrationID with domain as initiator.
	// When an active session already exists under that id, the call joins
	// it instead: domain is added to the involved set and created is false.
	// A terminal session under the same id is overwritten (id reuse is the
	// caller's problem).
	Open(ctx context.Context, orchestrationID string, domain orchestra.Domain, ec *orchestra.ExecutionContext) (created bool, err error)
	// Complete moves an active session to the given terminal status.
	// Returns false without touching the session when it is already
	// terminal, and ErrSessionNotFound for an unknown id.
	Complete(ctx context.Context, orchestrationID string, status SessionStatus) (changed bool, err error)
	// Get returns the session, active or terminal.
	Get(ctx context.Context, orchestrationID string) (*Session, error)
	// ListActive returns the sessions still active.
	ListActive(ctx context.Context) ([]*Session, error)
	// Clear drops every session. Test and administrative reset only.
	Clear(ctx context.Context) error
}

// MemoryStore is the default Store: a mutex-guarded map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Open(ctx context.Context, orchestrationID string, domain orchestra.Domain, ec *orchestra.ExecutionContext) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[orchestrationID]; ok && s.Status == SessionActive {
		if !involvesDomain(s.InvolvedDomains, domain) {
			s.InvolvedDomains = append(s.InvolvedDomains, domain)
		}
		return false, nil
	}

	m.sessions[orchestrationID] = &Session{
		OrchestrationID: orchestrationID,
		InitiatedBy:     domain,
		InvolvedDomains: []orchestra.Domain{domain},
		StartedAt:       time.Now().UTC(),
		Status:          SessionActive,
		Context:         ec.Clone(),
	}
	return true, nil
}

func (m *MemoryStore) Complete(ctx context.Context, orchestrationID string, status SessionStatus) (bool, error) {
	if !status.Terminal() {
		return false, errors.New("completion status must be terminal")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[orchestrationID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if s.Status != SessionActive {
		return false, nil
	}
	s.Status = status
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, orchestrationID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[orchestrationID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.Status == SessionActive {
			out = append(out, copySession(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*Session)
	return nil
}

func involvesDomain(domains []orchestra.Domain, d orchestra.Domain) bool {
	for _, existing := range domains {
		if existing == d {
			return true
		}
	}
	return false
}

func copySession(s *Session) *Session {
	dup := *s
	dup.InvolvedDomains = append([]orchestra.Domain(nil), s.InvolvedDomains...)
	dup.Context = s.Context.Clone()
	return &dup
}
