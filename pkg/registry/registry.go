// Package registry is the source of truth for registered domain orchestras.
// It stores one manifest per domain, content-addressed by canonical hash,
// and tracks the active/disabled lifecycle the conductor gates on.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/Mindburn-Labs/baton/pkg/canonicalize"
	"github.com/Mindburn-Labs/baton/pkg/events"
	"github.com/Mindburn-Labs/baton/pkg/manifest"
	"github.com/Mindburn-Labs/baton/pkg/observability"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// Status is the lifecycle state of a registry entry.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	// StatusError marks an entry an operator has quarantined, e.g. after a
	// restore surfaced a manifest its domain executor cannot serve. The
	// registry never sets it on its own.
	StatusError Status = "error"
)

// Entry is a registered orchestra manifest plus registration metadata.
// Hash is the canonical content hash of the manifest, so two registrations
// of the same logical manifest always carry the same hash.
type Entry struct {
	Manifest     *manifest.OrchestraManifest `json:"manifest"`
	Hash         string                      `json:"hash"`
	RegisteredAt time.Time                   `json:"registered_at"`
	Status       Status                      `json:"status"`
	StatusReason string                      `json:"status_reason,omitempty"`
}

// Store mirrors registry entries to durable storage. The read path stays in
// memory; Restore hydrates from the store at startup.
type Store interface {
	Save(ctx context.Context, e *Entry) error
	LoadAll(ctx context.Context) ([]*Entry, error)
}

// Registry is a thread-safe in-memory registry keyed by domain. Writes are
// serialized; a reader never observes a half-updated entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[orchestra.Domain]*Entry

	store   Store
	audit   *audit.BestEffort
	events  *events.BestEffort
	metrics *observability.Instruments
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore mirrors every accepted registration to a durable store.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithAudit records manifest lifecycle changes through the audit logger.
func WithAudit(l audit.Logger) Option {
	return func(r *Registry) { r.audit = audit.NewBestEffort(l) }
}

// WithEvents publishes manifest lifecycle events through the emitter.
func WithEvents(em events.Emitter) Option {
	return func(r *Registry) { r.events = events.NewBestEffort(em) }
}

// WithInstruments wires registration metrics.
func WithInstruments(ins *observability.Instruments) Option {
	return func(r *Registry) { r.metrics = ins }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[orchestra.Domain]*Entry),
		logger:  slog.Default().With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates m, content-addresses it and stores the entry for its
// domain with status active. An existing entry for the domain is overwritten.
// Validation or persistence failure leaves the registry unchanged.
func (r *Registry) Register(ctx context.Context, m *manifest.OrchestraManifest) (string, error) {
	if m == nil {
		r.metrics.RecordRegistration(ctx, "", false)
		return "", errors.New("registry: nil manifest")
	}

	domain := m.Domain
	if err := manifest.Validate(m); err != nil {
		r.metrics.RecordRegistration(ctx, domain.String(), false)
		r.audit.Log(ctx, audit.Entry{
			Category: audit.CategoryManifest,
			Severity: audit.SeverityWarning,
			Actor:    "registry",
			Resource: domain.String(),
			Action:   "manifest.register",
			Decision: "rejected",
			Reason:   err.Error(),
		})
		return "", err
	}

	hash, err := canonicalize.CanonicalHash(m)
	if err != nil {
		r.metrics.RecordRegistration(ctx, domain.String(), false)
		return "", fmt.Errorf("registry: hash manifest: %w", err)
	}

	entry := &Entry{
		Manifest:     m,
		Hash:         hash,
		RegisteredAt: time.Now().UTC(),
		Status:       StatusActive,
	}

	r.mu.Lock()
	if r.store != nil {
		if err := r.store.Save(ctx, entry); err != nil {
			r.mu.Unlock()
			r.metrics.RecordRegistration(ctx, domain.String(), false)
			return "", fmt.Errorf("registry: persist entry: %w", err)
		}
	}
	r.entries[domain] = entry
	r.mu.Unlock()

	r.metrics.RecordRegistration(ctx, domain.String(), true)
	r.metrics.RecordAgentCount(ctx, domain.String(), int64(len(m.Agents)))
	r.audit.Log(ctx, audit.Entry{
		Category: audit.CategoryManifest,
		Actor:    "registry",
		Resource: domain.String(),
		Action:   "manifest.register",
		Decision: "registered",
		Details: map[string]any{
			"name":    m.Name,
			"version": m.Version,
			"hash":    hash,
			"agents":  len(m.Agents),
		},
	})
	r.events.Publish(ctx, events.Event{
		Type:   events.TypeManifestRegistered,
		Domain: domain,
		Payload: map[string]any{
			"name":    m.Name,
			"version": m.Version,
			"hash":    hash,
		},
	})
	r.logger.InfoContext(ctx, "manifest registered",
		"domain", domain.String(),
		"name", m.Name,
		"version", m.Version,
		"hash", hash,
	)

	return hash, nil
}

// RegisterFile loads a YAML or JSON manifest from disk and registers it.
func (r *Registry) RegisterFile(ctx context.Context, path string) (string, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return "", err
	}
	return r.Register(ctx, m)
}

// Restore hydrates the in-memory map from the durable store. Entries loaded
// this way do not re-emit registration side effects.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	loaded, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("registry: restore: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range loaded {
		if e == nil || e.Manifest == nil {
			continue
		}
		r.entries[e.Manifest.Domain] = e
	}
	return nil
}

// GetByDomain returns a copy of the entry for domain, or false if none.
func (r *Registry) GetByDomain(domain orchestra.Domain) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[domain]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// ListActive returns the active entries ordered by domain.
func (r *Registry) ListActive() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Status != StatusActive {
			continue
		}
		cp := *e
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Manifest.Domain < list[j].Manifest.Domain
	})
	return list
}

// ListDomains returns every registered domain, active or not, ordered.
func (r *Registry) ListDomains() []orchestra.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	domains := make([]orchestra.Domain, 0, len(r.entries))
	for d := range r.entries {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	return domains
}

// Disable marks the domain's entry disabled and records the reason. Returns
// false without side effects when the domain is unknown.
func (r *Registry) Disable(ctx context.Context, domain orchestra.Domain, reason string) bool {
	r.mu.Lock()
	e, ok := r.entries[domain]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.Status = StatusDisabled
	e.StatusReason = reason
	snapshot := *e
	if r.store != nil {
		if err := r.store.Save(ctx, &snapshot); err != nil {
			r.logger.WarnContext(ctx, "registry mirror save failed",
				"domain", domain.String(), "error", err)
		}
	}
	r.mu.Unlock()

	r.audit.Log(ctx, audit.Entry{
		Category: audit.CategoryManifest,
		Severity: audit.SeverityWarning,
		Actor:    "registry",
		Resource: domain.String(),
		Action:   "manifest.disable",
		Decision: "disabled",
		Reason:   reason,
	})
	r.events.Publish(ctx, events.Event{
		Type:    events.TypeManifestDisabled,
		Domain:  domain,
		Payload: map[string]any{"reason": reason},
	})
	r.logger.InfoContext(ctx, "manifest disabled", "domain", domain.String(), "reason", reason)
	return true
}

// Enable reverses Disable. Returns false when the domain is unknown.
func (r *Registry) Enable(ctx context.Context, domain orchestra.Domain) bool {
	r.mu.Lock()
	e, ok := r.entries[domain]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.Status = StatusActive
	e.StatusReason = ""
	snapshot := *e
	if r.store != nil {
		if err := r.store.Save(ctx, &snapshot); err != nil {
			r.logger.WarnContext(ctx, "registry mirror save failed",
				"domain", domain.String(), "error", err)
		}
	}
	r.mu.Unlock()

	r.audit.Log(ctx, audit.Entry{
		Category: audit.CategoryManifest,
		Actor:    "registry",
		Resource: domain.String(),
		Action:   "manifest.enable",
		Decision: "enabled",
	})
	r.events.Publish(ctx, events.Event{
		Type:   events.TypeManifestEnabled,
		Domain: domain,
	})
	r.logger.InfoContext(ctx, "manifest enabled", "domain", domain.String())
	return true
}

// IsActive reports whether the domain is registered and active.
func (r *Registry) IsActive(domain orchestra.Domain) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[domain]
	return ok && e.Status == StatusActive
}

// GetDependencies returns the domains the given domain declares it depends
// on. Empty for unregistered domains.
func (r *Registry) GetDependencies(domain orchestra.Domain) []orchestra.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[domain]
	if !ok || len(e.Manifest.DependsOn) == 0 {
		return nil
	}
	deps := make([]orchestra.Domain, len(e.Manifest.DependsOn))
	copy(deps, e.Manifest.DependsOn)
	return deps
}

// MissingDependencies returns the declared direct dependencies of domain
// that are not currently active. The check is single-level; transitive
// dependencies are each domain's own concern.
func (r *Registry) MissingDependencies(domain orchestra.Domain) []orchestra.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[domain]
	if !ok {
		return nil
	}

	var missing []orchestra.Domain
	for _, dep := range e.Manifest.DependsOn {
		if d, ok := r.entries[dep]; !ok || d.Status != StatusActive {
			missing = append(missing, dep)
		}
	}
	return missing
}

// ValidateDependencies reports whether every declared direct dependency of
// domain is registered and active.
func (r *Registry) ValidateDependencies(domain orchestra.Domain) bool {
	return len(r.MissingDependencies(domain)) == 0
}

// Clear removes every entry. Test and administrative reset only; the
// durable mirror is not touched.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[orchestra.Domain]*Entry)
}
