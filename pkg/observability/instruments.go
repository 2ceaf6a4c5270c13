package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Engine-specific semantic convention attributes.
var (
	AttrDomain    = attribute.Key("baton.domain")
	AttrCaller    = attribute.Key("baton.caller")
	AttrTarget    = attribute.Key("baton.target")
	AttrAction    = attribute.Key("baton.action")
	AttrDecision  = attribute.Key("baton.decision")
	AttrOutcome   = attribute.Key("baton.outcome")
	AttrErrorCode = attribute.Key("baton.error.code")
	AttrTenantID  = attribute.Key("baton.tenant.id")
)

// Instruments bundles the engine's metric instruments. A nil *Instruments is
// a valid no-op receiver, so wiring metrics into the hot path never requires
// a guard at the call site.
type Instruments struct {
	registrations  metric.Int64Counter
	authzDecisions metric.Int64Counter
	actionErrors   metric.Int64Counter
	actionDuration metric.Float64Histogram
	orchestraAgent metric.Int64Gauge
	activeSessions metric.Int64UpDownCounter
}

// NewInstruments creates the engine instrument set on the given meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	i := &Instruments{}
	var err error

	i.registrations, err = meter.Int64Counter("baton.manifest.registrations",
		metric.WithDescription("Manifest registrations by domain and outcome"),
		metric.WithUnit("{registration}"),
	)
	if err != nil {
		return nil, err
	}

	i.authzDecisions, err = meter.Int64Counter("baton.authz.decisions",
		metric.WithDescription("Authorization decisions by caller, target and verdict"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	i.actionErrors, err = meter.Int64Counter("baton.actions.errors",
		metric.WithDescription("Failed coordinations by domain and error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	i.actionDuration, err = meter.Float64Histogram("baton.action.duration",
		metric.WithDescription("End-to-end coordination duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	i.orchestraAgent, err = meter.Int64Gauge("baton.orchestra.agents",
		metric.WithDescription("Agents declared by the registered manifest per domain"),
		metric.WithUnit("{agent}"),
	)
	if err != nil {
		return nil, err
	}

	i.activeSessions, err = meter.Int64UpDownCounter("baton.sessions.active",
		metric.WithDescription("Coordination sessions currently active"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	return i, nil
}

// Instruments creates the engine instrument set on the provider's meter.
// With a disabled provider the global no-op meter backs the instruments.
func (p *Provider) Instruments() (*Instruments, error) {
	return NewInstruments(p.Meter())
}

// RecordRegistration counts a manifest registration attempt.
func (i *Instruments) RecordRegistration(ctx context.Context, domain string, accepted bool) {
	if i == nil || i.registrations == nil {
		return
	}
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	i.registrations.Add(ctx, 1, metric.WithAttributes(
		AttrDomain.String(domain),
		AttrOutcome.String(outcome),
	))
}

// RecordAuthzDecision counts an authorization graph evaluation.
func (i *Instruments) RecordAuthzDecision(ctx context.Context, caller, target, action string, allowed bool) {
	if i == nil || i.authzDecisions == nil {
		return
	}
	verdict := "allow"
	if !allowed {
		verdict = "deny"
	}
	i.authzDecisions.Add(ctx, 1, metric.WithAttributes(
		AttrCaller.String(caller),
		AttrTarget.String(target),
		AttrAction.String(action),
		AttrDecision.String(verdict),
	))
}

// RecordActionError counts a failed coordination by stable error code.
func (i *Instruments) RecordActionError(ctx context.Context, domain, code string) {
	if i == nil || i.actionErrors == nil {
		return
	}
	i.actionErrors.Add(ctx, 1, metric.WithAttributes(
		AttrDomain.String(domain),
		AttrErrorCode.String(code),
	))
}

// RecordActionDuration records the end-to-end duration of a coordination.
func (i *Instruments) RecordActionDuration(ctx context.Context, domain, action string, d time.Duration) {
	if i == nil || i.actionDuration == nil {
		return
	}
	i.actionDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		AttrDomain.String(domain),
		AttrAction.String(action),
	))
}

// RecordAgentCount records the agent count declared by a domain's manifest.
func (i *Instruments) RecordAgentCount(ctx context.Context, domain string, agents int64) {
	if i == nil || i.orchestraAgent == nil {
		return
	}
	i.orchestraAgent.Record(ctx, agents, metric.WithAttributes(
		AttrDomain.String(domain),
	))
}

// SessionOpened increments the active session gauge.
func (i *Instruments) SessionOpened(ctx context.Context, domain string) {
	if i == nil || i.activeSessions == nil {
		return
	}
	i.activeSessions.Add(ctx, 1, metric.WithAttributes(AttrDomain.String(domain)))
}

// SessionClosed decrements the active session gauge.
func (i *Instruments) SessionClosed(ctx context.Context, domain string) {
	if i == nil || i.activeSessions == nil {
		return
	}
	i.activeSessions.Add(ctx, -1, metric.WithAttributes(AttrDomain.String(domain)))
}

// CoordinationAttrs builds span attributes for a coordination dispatch.
func CoordinationAttrs(domain, action, tenantID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDomain.String(domain),
		AttrAction.String(action),
		AttrTenantID.String(tenantID),
	}
}

// AuthzAttrs builds span attributes for an authorization evaluation.
func AuthzAttrs(caller, target, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCaller.String(caller),
		AttrTarget.String(target),
		AttrAction.String(action),
	}
}
