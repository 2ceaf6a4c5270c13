package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "baton", config.ServiceName)
	require.Equal(t, "1.0.0", config.ServiceVersion)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Disabled providers still hand out usable tracers and meters.
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestStartSpanDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "coordinate.action")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdownDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestInstrumentsOnDisabledProvider(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ins, err := p.Instruments()
	require.NoError(t, err)
	require.NotNil(t, ins)

	// No-op meter backs these; none should panic.
	ctx := context.Background()
	ins.RecordRegistration(ctx, "database", true)
	ins.RecordRegistration(ctx, "finance", false)
	ins.RecordAuthzDecision(ctx, "bff-api", "database", "query", true)
	ins.RecordActionError(ctx, "compliance", "POLICY_DENIED")
	ins.RecordActionDuration(ctx, "database", "schema_review", 42*time.Millisecond)
	ins.RecordAgentCount(ctx, "ux-ui", 3)
	ins.SessionOpened(ctx, "backend-infra")
	ins.SessionClosed(ctx, "backend-infra")
}

func TestNilInstrumentsAreNoOps(t *testing.T) {
	var ins *Instruments
	ctx := context.Background()

	ins.RecordRegistration(ctx, "database", true)
	ins.RecordAuthzDecision(ctx, "bff-api", "database", "query", false)
	ins.RecordActionError(ctx, "database", "EXECUTION_ERROR")
	ins.RecordActionDuration(ctx, "database", "query", time.Second)
	ins.RecordAgentCount(ctx, "database", 1)
	ins.SessionOpened(ctx, "database")
	ins.SessionClosed(ctx, "database")
}

func TestCoordinationAttrs(t *testing.T) {
	attrs := CoordinationAttrs("database", "schema_review", "tenant-1")
	require.Len(t, attrs, 3)
	require.Equal(t, "baton.domain", string(attrs[0].Key))
	require.Equal(t, "database", attrs[0].Value.AsString())
	require.Equal(t, "baton.tenant.id", string(attrs[2].Key))
	require.Equal(t, "tenant-1", attrs[2].Value.AsString())
}

func TestAuthzAttrs(t *testing.T) {
	attrs := AuthzAttrs("bff-api", "database", "query")
	require.Len(t, attrs, 3)
	require.Equal(t, "baton.caller", string(attrs[0].Key))
	require.Equal(t, "bff-api", attrs[0].Value.AsString())
	require.Equal(t, "baton.target", string(attrs[1].Key))
	require.Equal(t, "database", attrs[1].Value.AsString())
}

func TestSpanFromContext(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span) // no-op span when none is active
}

func TestAddSpanEvent(t *testing.T) {
	AddSpanEvent(context.Background(), "gate.passed", attribute.String("gate", "policy"))
}

func TestSetSpanStatus(t *testing.T) {
	SetSpanStatus(context.Background(), errors.New("dispatch failed"))
	SetSpanStatus(context.Background(), nil)
}
