package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

func TestNewCELEnforcerValidation(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{
			name:  "missing id",
			rules: []Rule{{Expression: `true`, Effect: EffectDeny}},
		},
		{
			name:  "missing expression",
			rules: []Rule{{ID: "r1", Effect: EffectDeny}},
		},
		{
			name:  "invalid effect",
			rules: []Rule{{ID: "r1", Expression: `true`, Effect: "maybe"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCELEnforcer(tt.rules)
			require.Error(t, err)
		})
	}

	t.Run("empty rule set is valid", func(t *testing.T) {
		e, err := NewCELEnforcer(nil)
		require.NoError(t, err)
		require.NotNil(t, e)
	})
}

func TestCELEnforcerOrdering(t *testing.T) {
	ctx := context.Background()

	e, err := NewCELEnforcer([]Rule{
		{
			ID:         "no-prod-drops",
			Expression: `domain == "database" && action == "drop_schema"`,
			Effect:     EffectDeny,
			Reason:     "schema drops are forbidden",
		},
		{
			ID:         "admins-pass",
			Expression: `"admin" in roles`,
			Effect:     EffectAllow,
		},
		{
			ID:         "no-finance-writes",
			Expression: `domain == "finance"`,
			Effect:     EffectDeny,
		},
	})
	require.NoError(t, err)

	t.Run("first matching deny wins", func(t *testing.T) {
		d, err := e.Enforce(ctx, Request{
			Domain: orchestra.DomainDatabase,
			Action: "drop_schema",
			Context: &orchestra.ExecutionContext{
				Roles: []string{"admin"},
			},
		})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, orchestra.ErrCodePolicyDenied, d.Code)
		assert.Equal(t, "schema drops are forbidden", d.Reason)
	})

	t.Run("earlier allow shadows later deny", func(t *testing.T) {
		d, err := e.Enforce(ctx, Request{
			Domain: orchestra.DomainFinance,
			Action: "close_books",
			Context: &orchestra.ExecutionContext{
				Roles: []string{"admin"},
			},
		})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("later deny applies without the allow", func(t *testing.T) {
		d, err := e.Enforce(ctx, Request{
			Domain: orchestra.DomainFinance,
			Action: "close_books",
		})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "no-finance-writes")
	})

	t.Run("no matching rule allows", func(t *testing.T) {
		d, err := e.Enforce(ctx, Request{
			Domain: orchestra.DomainUXUI,
			Action: "render_review",
		})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestCELEnforcerVariables(t *testing.T) {
	ctx := context.Background()

	t.Run("args are visible", func(t *testing.T) {
		e, err := NewCELEnforcer([]Rule{
			{
				ID:         "no-users-table",
				Expression: `has(args.table) && args.table == "users"`,
				Effect:     EffectDeny,
			},
		})
		require.NoError(t, err)

		d, err := e.Enforce(ctx, Request{
			Domain:    orchestra.DomainDatabase,
			Action:    "query",
			Arguments: map[string]any{"table": "users"},
		})
		require.NoError(t, err)
		assert.False(t, d.Allowed)

		d, err = e.Enforce(ctx, Request{
			Domain:    orchestra.DomainDatabase,
			Action:    "query",
			Arguments: map[string]any{"table": "orders"},
		})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("tenant and permissions are visible", func(t *testing.T) {
		e, err := NewCELEnforcer([]Rule{
			{
				ID:         "trusted-tenant",
				Expression: `tenant == "tenant-1" && "orchestra.database.query" in permissions`,
				Effect:     EffectAllow,
			},
			{
				ID:         "deny-rest",
				Expression: `true`,
				Effect:     EffectDeny,
				Code:       "TENANT_BLOCKED",
			},
		})
		require.NoError(t, err)

		d, err := e.Enforce(ctx, Request{
			Domain: orchestra.DomainDatabase,
			Action: "query",
			Context: &orchestra.ExecutionContext{
				TenantID:    "tenant-1",
				Permissions: []string{"orchestra.database.query"},
			},
		})
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = e.Enforce(ctx, Request{
			Domain: orchestra.DomainDatabase,
			Action: "query",
			Context: &orchestra.ExecutionContext{TenantID: "tenant-2"},
		})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, "TENANT_BLOCKED", d.Code)
	})

	t.Run("nil context is safe", func(t *testing.T) {
		e, err := NewCELEnforcer([]Rule{
			{ID: "admins", Expression: `"admin" in roles`, Effect: EffectDeny},
		})
		require.NoError(t, err)

		d, err := e.Enforce(ctx, Request{Domain: orchestra.DomainDatabase, Action: "query"})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestCELEnforcerFailClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("runtime error surfaces", func(t *testing.T) {
		e, err := NewCELEnforcer([]Rule{
			{ID: "bad-key", Expression: `args.missing == 1`, Effect: EffectDeny},
		})
		require.NoError(t, err)

		_, err = e.Enforce(ctx, Request{Domain: orchestra.DomainDatabase, Action: "query"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad-key")
	})

	t.Run("compile error surfaces", func(t *testing.T) {
		e, err := NewCELEnforcer([]Rule{
			{ID: "syntax", Expression: `domain ==`, Effect: EffectDeny},
		})
		require.NoError(t, err)

		_, err = e.Enforce(ctx, Request{Domain: orchestra.DomainDatabase, Action: "query"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "compile")
	})
}

func TestCELEnforcerProgramCache(t *testing.T) {
	ctx := context.Background()
	e, err := NewCELEnforcer([]Rule{
		{ID: "r1", Expression: `action == "query"`, Effect: EffectAllow},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.Enforce(ctx, Request{Domain: orchestra.DomainDatabase, Action: "query"})
		require.NoError(t, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestAllowAll(t *testing.T) {
	d, err := AllowAll{}.Enforce(context.Background(), Request{
		Domain: orchestra.DomainDatabase,
		Action: "anything",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
