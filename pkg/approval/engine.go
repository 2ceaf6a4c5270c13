// Package approval implements the human-in-the-loop gate: a risk classifier
// that grades actions and an approval engine that parks high-risk actions
// until an operator decides. The conductor blocks on WaitForApproval, so the
// engine resolves every request exactly once, whether by a human decision,
// a cancellation, or the per-request expiry.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/Mindburn-Labs/baton/pkg/events"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// Decision is the terminal outcome of an approval request.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionDenied    Decision = "denied"
	DecisionExpired   Decision = "expired"
	DecisionCancelled Decision = "cancelled"
)

// ErrNotFound reports an approval id the engine is not tracking.
var ErrNotFound = errors.New("approval request not found")

// AutoPrefix marks request ids the engine approved without a human.
const AutoPrefix = "auto-"

// AutoApproved reports whether id names an auto-approved request.
func AutoApproved(id string) bool {
	return strings.HasPrefix(id, AutoPrefix)
}

// Request describes the action awaiting a decision.
type Request struct {
	ActionType  string
	RequestedBy string
	TenantID    string
	Description string
	Resources   []string
	RiskLevel   RiskLevel
	Context     *orchestra.ExecutionContext
}

// Resolution is what a wait resolves to.
type Resolution struct {
	Decision  Decision
	Reason    string
	DecidedBy string
}

// Engine is the approval collaborator the conductor consumes.
type Engine interface {
	// RequestApproval submits a request and returns its id. Ids carrying
	// AutoPrefix were approved on submission and never block.
	RequestApproval(ctx context.Context, req Request) (string, error)
	// WaitForApproval blocks until the request resolves, the request
	// expires, or ctx is cancelled. Expiry is a Resolution, not an error;
	// only the wait itself failing returns one.
	WaitForApproval(ctx context.Context, id string) (Resolution, error)
}

// Status is an observational snapshot of a request.
type Status struct {
	ID          string     `json:"id"`
	ActionType  string     `json:"action_type"`
	RiskLevel   RiskLevel  `json:"risk_level"`
	RequestedBy string     `json:"requested_by"`
	TenantID    string     `json:"tenant_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Resolved    bool       `json:"resolved"`
	Resolution  Resolution `json:"resolution,omitempty"`
}

type pendingRequest struct {
	req        Request
	createdAt  time.Time
	expiresAt  time.Time
	done       chan struct{}
	resolution Resolution
	resolved   bool
}

// Manager is the in-memory Engine. Each pending request carries a channel
// the resolver closes; waiters select on it against their context and the
// request deadline. Resolved requests are retained for inspection.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	ttl     time.Duration
	auto    func(Request) bool
	clock   func() time.Time
	audit   *audit.BestEffort
	events  *events.BestEffort
	logger  *slog.Logger
}

const defaultTTL = 5 * time.Minute

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the approval window for new requests.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithAutoApprove installs a predicate that approves matching requests on
// submission. Without one, every request waits for a human.
func WithAutoApprove(fn func(Request) bool) Option {
	return func(m *Manager) {
		m.auto = fn
	}
}

// WithClock overrides the clock for deterministic testing.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		m.clock = fn
	}
}

// WithAudit records approval requests and decisions to l.
func WithAudit(l audit.Logger) Option {
	return func(m *Manager) {
		m.audit = audit.NewBestEffort(l)
	}
}

// WithEvents publishes approval lifecycle events to e.
func WithEvents(e events.Emitter) Option {
	return func(m *Manager) {
		m.events = events.NewBestEffort(e)
	}
}

// NewManager creates an approval engine with a 5 minute window.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		pending: make(map[string]*pendingRequest),
		ttl:     defaultTTL,
		clock:   time.Now,
		logger:  slog.Default().With("component", "approval"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequestApproval registers the request and returns its id. Requests the
// auto-approve predicate accepts resolve immediately with an AutoPrefix id.
func (m *Manager) RequestApproval(ctx context.Context, req Request) (string, error) {
	if req.ActionType == "" {
		return "", fmt.Errorf("approval: request has no action type")
	}

	if m.auto != nil && m.auto(req) {
		id := AutoPrefix + uuid.New().String()
		m.audit.Log(ctx, audit.Entry{
			Category: audit.CategoryApproval,
			Actor:    req.RequestedBy,
			TenantID: req.TenantID,
			Resource: req.ActionType,
			Action:   "approval_request",
			Decision: "auto-approved",
			Details: map[string]any{
				"request_id": id,
				"risk_level": string(req.RiskLevel),
			},
		})
		m.events.Publish(ctx, events.Event{
			Type:     events.TypeApprovalResolved,
			TenantID: req.TenantID,
			Action:   req.ActionType,
			Payload: map[string]any{
				"request_id": id,
				"decision":   string(DecisionApproved),
				"auto":       true,
			},
		})
		return id, nil
	}

	now := m.clock()
	id := uuid.New().String()
	p := &pendingRequest{
		req:       req,
		createdAt: now,
		expiresAt: now.Add(m.ttl),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.pending[id] = p
	m.mu.Unlock()

	m.audit.Log(ctx, audit.Entry{
		Category: audit.CategoryApproval,
		Actor:    req.RequestedBy,
		TenantID: req.TenantID,
		Resource: req.ActionType,
		Action:   "approval_request",
		Decision: "pending",
		Details: map[string]any{
			"request_id": id,
			"risk_level": string(req.RiskLevel),
			"resources":  req.Resources,
			"expires_at": p.expiresAt,
		},
	})
	m.events.Publish(ctx, events.Event{
		Type:     events.TypeApprovalRequested,
		TenantID: req.TenantID,
		Action:   req.ActionType,
		Payload: map[string]any{
			"request_id":   id,
			"risk_level":   string(req.RiskLevel),
			"requested_by": req.RequestedBy,
		},
	})
	m.logger.InfoContext(ctx, "approval requested",
		"request_id", id,
		"action_type", req.ActionType,
		"risk_level", string(req.RiskLevel))

	return id, nil
}

// WaitForApproval blocks until the request resolves or its window elapses.
// Context cancellation aborts the wait with the context's error.
func (m *Manager) WaitForApproval(ctx context.Context, id string) (Resolution, error) {
	if AutoApproved(id) {
		return Resolution{Decision: DecisionApproved, Reason: "auto-approved"}, nil
	}

	m.mu.Lock()
	p, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return Resolution{}, fmt.Errorf("approval: request %q: %w", id, ErrNotFound)
	}

	timer := time.NewTimer(p.expiresAt.Sub(m.clock()))
	defer timer.Stop()

	select {
	case <-p.done:
		return p.resolution, nil
	case <-timer.C:
		// A resolver may win the race against the deadline; expire is a
		// no-op then and the recorded resolution stands.
		m.expire(ctx, id, p)
		<-p.done
		return p.resolution, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Approve resolves the request as approved.
func (m *Manager) Approve(ctx context.Context, id, approvedBy string) error {
	return m.resolve(ctx, id, Resolution{Decision: DecisionApproved, DecidedBy: approvedBy})
}

// Deny resolves the request as denied.
func (m *Manager) Deny(ctx context.Context, id, deniedBy, reason string) error {
	return m.resolve(ctx, id, Resolution{Decision: DecisionDenied, DecidedBy: deniedBy, Reason: reason})
}

// Cancel withdraws the request before a decision lands.
func (m *Manager) Cancel(ctx context.Context, id, reason string) error {
	return m.resolve(ctx, id, Resolution{Decision: DecisionCancelled, Reason: reason})
}

func (m *Manager) resolve(ctx context.Context, id string, res Resolution) error {
	if AutoApproved(id) {
		return fmt.Errorf("approval: request %q was auto-approved", id)
	}

	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("approval: request %q: %w", id, ErrNotFound)
	}
	if p.resolved {
		decision := p.resolution.Decision
		m.mu.Unlock()
		return fmt.Errorf("approval: request %q already resolved (decision=%s)", id, decision)
	}
	if m.clock().After(p.expiresAt) {
		p.resolution = Resolution{Decision: DecisionExpired, Reason: "approval window elapsed"}
		p.resolved = true
		close(p.done)
		m.mu.Unlock()
		m.record(ctx, id, p)
		return fmt.Errorf("approval: request %q expired", id)
	}
	p.resolution = res
	p.resolved = true
	close(p.done)
	m.mu.Unlock()

	m.record(ctx, id, p)
	return nil
}

func (m *Manager) expire(ctx context.Context, id string, p *pendingRequest) {
	m.mu.Lock()
	if p.resolved {
		m.mu.Unlock()
		return
	}
	p.resolution = Resolution{Decision: DecisionExpired, Reason: "approval window elapsed"}
	p.resolved = true
	close(p.done)
	m.mu.Unlock()

	m.record(ctx, id, p)
}

func (m *Manager) record(ctx context.Context, id string, p *pendingRequest) {
	severity := audit.SeverityInfo
	if p.resolution.Decision != DecisionApproved {
		severity = audit.SeverityWarning
	}
	m.audit.Log(ctx, audit.Entry{
		Category: audit.CategoryApproval,
		Severity: severity,
		Actor:    p.resolution.DecidedBy,
		TenantID: p.req.TenantID,
		Resource: p.req.ActionType,
		Action:   "approval_decision",
		Decision: string(p.resolution.Decision),
		Reason:   p.resolution.Reason,
		Details:  map[string]any{"request_id": id},
	})
	m.events.Publish(ctx, events.Event{
		Type:     events.TypeApprovalResolved,
		TenantID: p.req.TenantID,
		Action:   p.req.ActionType,
		Payload: map[string]any{
			"request_id": id,
			"decision":   string(p.resolution.Decision),
			"reason":     p.resolution.Reason,
		},
	})
	m.logger.InfoContext(ctx, "approval resolved",
		"request_id", id,
		"decision", string(p.resolution.Decision))
}

// CheckTimeouts resolves every pending request whose window has elapsed and
// returns their ids. Waiters unblock with the expired resolution.
func (m *Manager) CheckTimeouts(ctx context.Context) []string {
	now := m.clock()

	m.mu.Lock()
	var lapsed []string
	var entries []*pendingRequest
	for id, p := range m.pending {
		if !p.resolved && now.After(p.expiresAt) {
			p.resolution = Resolution{Decision: DecisionExpired, Reason: "approval window elapsed"}
			p.resolved = true
			close(p.done)
			lapsed = append(lapsed, id)
			entries = append(entries, p)
		}
	}
	m.mu.Unlock()

	for i, id := range lapsed {
		m.record(ctx, id, entries[i])
	}
	return lapsed
}

// Get returns a snapshot of the request, resolved or not.
func (m *Manager) Get(id string) (*Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok {
		return nil, false
	}
	return &Status{
		ID:          id,
		ActionType:  p.req.ActionType,
		RiskLevel:   p.req.RiskLevel,
		RequestedBy: p.req.RequestedBy,
		TenantID:    p.req.TenantID,
		CreatedAt:   p.createdAt,
		ExpiresAt:   p.expiresAt,
		Resolved:    p.resolved,
		Resolution:  p.resolution,
	}, true
}

// Pending returns snapshots of the unresolved requests, oldest first.
func (m *Manager) Pending() []*Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Status
	for id, p := range m.pending {
		if p.resolved {
			continue
		}
		out = append(out, &Status{
			ID:          id,
			ActionType:  p.req.ActionType,
			RiskLevel:   p.req.RiskLevel,
			RequestedBy: p.req.RequestedBy,
			TenantID:    p.req.TenantID,
			CreatedAt:   p.createdAt,
			ExpiresAt:   p.expiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingCount returns the number of unresolved requests.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.pending {
		if !p.resolved {
			n++
		}
	}
	return n
}
