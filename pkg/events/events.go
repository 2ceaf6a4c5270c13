// Package events carries the engine's typed event stream: manifest
// lifecycle, authorization decisions, coordination progress and approval
// outcomes. Emission is a side channel; publishing failures are logged
// and dropped, never propagated into the primary result path.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// Type names an engine event.
type Type string

const (
	TypeManifestRegistered    Type = "manifest.registered"
	TypeManifestDisabled      Type = "manifest.disabled"
	TypeManifestEnabled       Type = "manifest.enabled"
	TypeAuthzChecked          Type = "authz.checked"
	TypeCoordinationStarted   Type = "coordination.started"
	TypeCoordinationCompleted Type = "coordination.completed"
	TypeCoordinationFailed    Type = "coordination.failed"
	TypeCoordinationAborted   Type = "coordination.aborted"
	TypeActionCompleted       Type = "action.completed"
	TypeActionFailed          Type = "action.failed"
	TypeApprovalRequested     Type = "approval.requested"
	TypeApprovalResolved      Type = "approval.resolved"
)

// Event is the envelope every emitter receives. Sequence and PayloadHash
// are assigned by the log when the event commits; producers leave them
// zero.
type Event struct {
	ID              string           `json:"id"`
	Type            Type             `json:"type"`
	OrchestrationID string           `json:"orchestration_id,omitempty"`
	TenantID        string           `json:"tenant_id,omitempty"`
	Domain          orchestra.Domain `json:"domain,omitempty"`
	Action          string           `json:"action,omitempty"`
	Payload         map[string]any   `json:"payload,omitempty"`
	Sequence        uint64           `json:"sequence,omitempty"`
	PayloadHash     string           `json:"payload_hash,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Emitter publishes engine events. Implementations must be safe for
// concurrent use.
type Emitter interface {
	Publish(ctx context.Context, e Event) error
}

// stamp fills producer-optional fields.
func stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// Multi fans an event out to several emitters, returning the first error.
type Multi []Emitter

func (m Multi) Publish(ctx context.Context, e Event) error {
	var firstErr error
	for _, em := range m {
		if err := em.Publish(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BestEffort wraps an Emitter so publish failures are swallowed and logged.
// A nil receiver or inner emitter is a no-op.
type BestEffort struct {
	inner Emitter
	log   *slog.Logger
}

// NewBestEffort wraps inner. Pass nil to get a no-op emitter.
func NewBestEffort(inner Emitter) *BestEffort {
	return &BestEffort{
		inner: inner,
		log:   slog.Default().With("component", "events"),
	}
}

// Publish emits the event, dropping it with a warning on failure.
func (b *BestEffort) Publish(ctx context.Context, e Event) {
	if b == nil || b.inner == nil {
		return
	}
	if err := b.inner.Publish(ctx, e); err != nil {
		b.log.Warn("event dropped", "type", string(e.Type), "error", err)
	}
}
