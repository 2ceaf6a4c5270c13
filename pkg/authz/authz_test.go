package authz

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/Mindburn-Labs/baton/pkg/events"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

type stubChecker map[orchestra.Domain]bool

func (s stubChecker) IsActive(d orchestra.Domain) bool { return s[d] }

func allActive() stubChecker {
	s := make(stubChecker)
	for _, d := range orchestra.AllDomains() {
		s[d] = true
	}
	return s
}

type captureAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureAudit) Log(_ context.Context, e audit.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

type captureEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEvents) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func TestAuthorizeStepOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("inactive source denied first", func(t *testing.T) {
		checker := allActive()
		checker[orchestra.DomainBFFAPI] = false
		g := New(checker)

		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainBFFAPI,
			Target: orchestra.DomainDatabase,
			Action: "query",
		})
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "source domain not active")
	})

	t.Run("inactive target denied second", func(t *testing.T) {
		checker := allActive()
		checker[orchestra.DomainDatabase] = false
		g := New(checker)

		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainBFFAPI,
			Target: orchestra.DomainDatabase,
			Action: "query",
		})
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "target domain not active")
	})

	t.Run("missing rule denied third", func(t *testing.T) {
		rules := DefaultRules()
		delete(rules, orchestra.DomainBFFAPI)
		g := New(allActive(), WithRules(rules))

		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainBFFAPI,
			Target: orchestra.DomainDatabase,
			Action: "query",
		})
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "no rules defined")
	})

	t.Run("undeclared edge denied fourth", func(t *testing.T) {
		g := New(allActive())

		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainUXUI,
			Target: orchestra.DomainDatabase,
			Action: "query",
		})
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "not authorized to call")
	})

	t.Run("restricted action denied fifth", func(t *testing.T) {
		g := New(allActive())

		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainBFFAPI,
			Target: orchestra.DomainDatabase,
			Action: "drop_schema",
		})
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "action restricted")
	})

	t.Run("missing permission denied sixth", func(t *testing.T) {
		g := New(allActive())

		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainBFFAPI,
			Target: orchestra.DomainDatabase,
			Action: "query",
			Context: &orchestra.ExecutionContext{
				Permissions: []string{"orchestra.finance.report"},
			},
		})
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "missing required permission")
		assert.Equal(t, []string{"orchestra.database.query"}, d.RequiredPermissions)
	})
}

func TestAuthorizeAllows(t *testing.T) {
	ctx := context.Background()
	g := New(allActive())

	t.Run("declared edge without permission list", func(t *testing.T) {
		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainBFFAPI,
			Target: orchestra.DomainDatabase,
			Action: "query",
		})
		assert.True(t, d.Allowed)
		assert.Empty(t, d.Reason)
	})

	t.Run("permission present", func(t *testing.T) {
		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainBFFAPI,
			Target: orchestra.DomainDatabase,
			Action: "query",
			Context: &orchestra.ExecutionContext{
				Permissions: []string{"orchestra.database.query"},
			},
		})
		assert.True(t, d.Allowed)
	})

	t.Run("admin role overrides missing permission", func(t *testing.T) {
		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainBFFAPI,
			Target: orchestra.DomainDatabase,
			Action: "query",
			Context: &orchestra.ExecutionContext{
				Roles:       []string{AdminRole},
				Permissions: []string{"something.else"},
			},
		})
		assert.True(t, d.Allowed)
	})

	t.Run("admin role does not bypass earlier steps", func(t *testing.T) {
		d := g.Authorize(ctx, Request{
			Source: orchestra.DomainBFFAPI,
			Target: orchestra.DomainDatabase,
			Action: "drop_schema",
			Context: &orchestra.ExecutionContext{
				Roles: []string{AdminRole},
			},
		})
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "action restricted")

		d = g.Authorize(ctx, Request{
			Source: orchestra.DomainUXUI,
			Target: orchestra.DomainDatabase,
			Action: "query",
			Context: &orchestra.ExecutionContext{
				Roles: []string{AdminRole},
			},
		})
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "not authorized")
	})
}

func TestDeclaredEdgesAllowedReverseDenied(t *testing.T) {
	ctx := context.Background()
	g := New(allActive())
	rules := DefaultRules()

	for source, rule := range rules {
		for _, target := range rule.CanCall {
			d := g.Authorize(ctx, Request{Source: source, Target: target, Action: "status"})
			assert.True(t, d.Allowed, "%s -> %s should be allowed", source, target)

			reverse := false
			for _, back := range rules[target].CanCall {
				if back == source {
					reverse = true
				}
			}
			if !reverse {
				rd := g.Authorize(ctx, Request{Source: target, Target: source, Action: "status"})
				assert.False(t, rd.Allowed, "%s -> %s should be denied", target, source)
				assert.Contains(t, rd.Reason, "not authorized")
			}
		}
	}
}

func TestDefaultRulesSymmetry(t *testing.T) {
	rules := DefaultRules()

	for source, rule := range rules {
		for _, target := range rule.CanCall {
			targetRule, ok := rules[target]
			require.True(t, ok, "target %s has no rule", target)
			assert.Contains(t, targetRule.CallableBy, source,
				"%s declares CanCall %s but %s does not declare CallableBy %s",
				source, target, target, source)
		}
		for _, caller := range rule.CallableBy {
			callerRule, ok := rules[caller]
			require.True(t, ok, "caller %s has no rule", caller)
			assert.Contains(t, callerRule.CanCall, source,
				"%s declares CallableBy %s but %s does not declare CanCall %s",
				source, caller, caller, source)
		}
	}

	t.Run("every domain has a rule", func(t *testing.T) {
		for _, d := range orchestra.AllDomains() {
			_, ok := rules[d]
			assert.True(t, ok, "no rule for %s", d)
		}
	})

	t.Run("observability is a pure sink", func(t *testing.T) {
		assert.Empty(t, rules[orchestra.DomainObservability].CanCall)
	})
}

func TestReadOnlyQueries(t *testing.T) {
	evs := &captureEvents{}
	g := New(allActive(), WithEvents(evs))

	t.Run("CanBeCalled", func(t *testing.T) {
		assert.True(t, g.CanBeCalled(orchestra.DomainDatabase, orchestra.DomainBFFAPI))
		assert.False(t, g.CanBeCalled(orchestra.DomainDatabase, orchestra.DomainUXUI))
		assert.False(t, g.CanBeCalled("unknown", orchestra.DomainBFFAPI))
	})

	t.Run("AllowedTargets", func(t *testing.T) {
		targets := g.AllowedTargets(orchestra.DomainBFFAPI)
		assert.Equal(t, []orchestra.Domain{
			orchestra.DomainDatabase,
			orchestra.DomainBackendInfra,
			orchestra.DomainFinance,
		}, targets)
		assert.Empty(t, g.AllowedTargets(orchestra.DomainObservability))
	})

	t.Run("AllowedCallers", func(t *testing.T) {
		callers := g.AllowedCallers(orchestra.DomainCompliance)
		assert.Equal(t, []orchestra.Domain{orchestra.DomainFinance}, callers)
	})

	t.Run("queries emit no events", func(t *testing.T) {
		assert.Empty(t, evs.events)
	})
}

func TestAuthorizeSideChannels(t *testing.T) {
	ctx := context.Background()
	aud := &captureAudit{}
	evs := &captureEvents{}
	g := New(allActive(), WithAudit(aud), WithEvents(evs))

	allow := g.Authorize(ctx, Request{
		Source: orchestra.DomainBFFAPI,
		Target: orchestra.DomainDatabase,
		Action: "query",
	})
	require.True(t, allow.Allowed)

	denyD := g.Authorize(ctx, Request{
		Source: orchestra.DomainUXUI,
		Target: orchestra.DomainDatabase,
		Action: "query",
	})
	require.False(t, denyD.Allowed)

	require.Len(t, aud.entries, 2)
	assert.Equal(t, audit.CategoryAuthorization, aud.entries[0].Category)
	assert.Equal(t, "allow", aud.entries[0].Decision)
	assert.Equal(t, "bff-api", aud.entries[0].Actor)
	assert.Equal(t, "database", aud.entries[0].Resource)
	assert.Equal(t, "deny", aud.entries[1].Decision)
	assert.Equal(t, audit.SeverityWarning, aud.entries[1].Severity)

	require.Len(t, evs.events, 2)
	assert.Equal(t, events.TypeAuthzChecked, evs.events[0].Type)
	assert.Equal(t, true, evs.events[0].Payload["allowed"])
	assert.Equal(t, false, evs.events[1].Payload["allowed"])
}

func TestPermissionFor(t *testing.T) {
	assert.Equal(t, "orchestra.database.query", PermissionFor(orchestra.DomainDatabase, "query"))
	assert.Equal(t, "orchestra.finance.close_books", PermissionFor(orchestra.DomainFinance, "close_books"))
}
