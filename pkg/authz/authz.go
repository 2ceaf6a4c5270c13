// Package authz implements the static cross-orchestra authorization graph.
// Rules are compiled into the binary: each domain declares which domains it
// may call, which may call it, and which actions it may never request.
// Evaluation is a fixed-order short-circuit; every evaluation, allowed or
// denied, is recorded through the audit/event/metrics side channels.
package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/Mindburn-Labs/baton/pkg/events"
	"github.com/Mindburn-Labs/baton/pkg/observability"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// AdminRole short-circuits the permission step of Authorize. It has no effect
// on the earlier steps: an admin still cannot reach a disabled domain or an
// edge the graph does not declare.
const AdminRole = "admin"

// Rule declares one domain's edges. Directional: CanCall and CallableBy are
// independent declarations, not mirrors of each other, and the table author
// is responsible for keeping them consistent.
type Rule struct {
	CanCall           []orchestra.Domain
	CallableBy        []orchestra.Domain
	RestrictedActions []string
}

// Request is one authorization question: may Source call Action on Target?
type Request struct {
	Source  orchestra.Domain
	Target  orchestra.Domain
	Action  string
	Context *orchestra.ExecutionContext
}

// Decision is the outcome of an evaluation. RequiredPermissions names the
// permission whose absence caused a step-6 denial.
type Decision struct {
	Allowed             bool     `json:"allowed"`
	Reason              string   `json:"reason,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
}

// ActivityChecker reports domain liveness. The registry implements it.
type ActivityChecker interface {
	IsActive(domain orchestra.Domain) bool
}

// PermissionFor builds the permission string Authorize requires for an
// action on a target domain.
func PermissionFor(target orchestra.Domain, action string) string {
	return fmt.Sprintf("orchestra.%s.%s", target, action)
}

// Graph evaluates authorization requests against the static rule table.
type Graph struct {
	rules   map[orchestra.Domain]Rule
	canCall map[orchestra.Domain]map[orchestra.Domain]bool

	checker ActivityChecker
	audit   *audit.BestEffort
	events  *events.BestEffort
	metrics *observability.Instruments
	logger  *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithRules replaces the compiled-in default table.
func WithRules(rules map[orchestra.Domain]Rule) Option {
	return func(g *Graph) { g.rules = rules }
}

// WithAudit records every evaluation through the audit logger.
func WithAudit(l audit.Logger) Option {
	return func(g *Graph) { g.audit = audit.NewBestEffort(l) }
}

// WithEvents publishes an authz.checked event per evaluation.
func WithEvents(em events.Emitter) Option {
	return func(g *Graph) { g.events = events.NewBestEffort(em) }
}

// WithInstruments wires the decision counter.
func WithInstruments(ins *observability.Instruments) Option {
	return func(g *Graph) { g.metrics = ins }
}

// New builds a graph over the default rule table. The checker gates steps 1
// and 2 of every evaluation.
func New(checker ActivityChecker, opts ...Option) *Graph {
	g := &Graph{
		rules:   DefaultRules(),
		checker: checker,
		logger:  slog.Default().With("component", "authz"),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.canCall = make(map[orchestra.Domain]map[orchestra.Domain]bool, len(g.rules))
	for source, rule := range g.rules {
		set := make(map[orchestra.Domain]bool, len(rule.CanCall))
		for _, target := range rule.CanCall {
			set[target] = true
		}
		g.canCall[source] = set
	}
	return g
}

// Authorize evaluates req in fixed order, short-circuiting on the first
// failing step:
//
//  1. source registered and active
//  2. target registered and active
//  3. a rule exists for source
//  4. target is in source's CanCall set
//  5. action is not in source's restricted set
//  6. context permissions include orchestra.<target>.<action>; an explicit
//     admin role short-circuits this step (and only this step) to allow
//
// A context that carries no explicit permission list passes step 6: plain
// domain-to-domain calls over a declared edge are allowed.
func (g *Graph) Authorize(ctx context.Context, req Request) Decision {
	d := g.evaluate(req)
	g.record(ctx, req, d)
	return d
}

func (g *Graph) evaluate(req Request) Decision {
	if !g.checker.IsActive(req.Source) {
		return deny(fmt.Sprintf("source domain not active: %s", req.Source))
	}
	if !g.checker.IsActive(req.Target) {
		return deny(fmt.Sprintf("target domain not active: %s", req.Target))
	}

	rule, ok := g.rules[req.Source]
	if !ok {
		return deny(fmt.Sprintf("no rules defined for domain: %s", req.Source))
	}

	if !g.canCall[req.Source][req.Target] {
		return deny(fmt.Sprintf("%s is not authorized to call %s", req.Source, req.Target))
	}

	for _, restricted := range rule.RestrictedActions {
		if restricted == req.Action {
			return deny(fmt.Sprintf("action restricted for %s: %s", req.Source, req.Action))
		}
	}

	required := PermissionFor(req.Target, req.Action)
	if req.Context != nil {
		if req.Context.HasRole(AdminRole) {
			return Decision{Allowed: true}
		}
		if len(req.Context.Permissions) > 0 && !req.Context.HasPermission(required) {
			return Decision{
				Allowed:             false,
				Reason:              fmt.Sprintf("missing required permission: %s", required),
				RequiredPermissions: []string{required},
			}
		}
	}

	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// record emits the evaluation to every configured side channel.
func (g *Graph) record(ctx context.Context, req Request, d Decision) {
	verdict := "deny"
	severity := audit.SeverityWarning
	if d.Allowed {
		verdict = "allow"
		severity = audit.SeverityInfo
	}

	g.metrics.RecordAuthzDecision(ctx, req.Source.String(), req.Target.String(), req.Action, d.Allowed)
	g.audit.Log(ctx, audit.Entry{
		Category: audit.CategoryAuthorization,
		Severity: severity,
		Actor:    req.Source.String(),
		Resource: req.Target.String(),
		Action:   req.Action,
		Decision: verdict,
		Reason:   d.Reason,
	})
	g.events.Publish(ctx, events.Event{
		Type:   events.TypeAuthzChecked,
		Domain: req.Source,
		Action: req.Action,
		Payload: map[string]any{
			"source":  req.Source.String(),
			"target":  req.Target.String(),
			"allowed": d.Allowed,
			"reason":  d.Reason,
		},
	})
	if !d.Allowed {
		g.logger.DebugContext(ctx, "authorization denied",
			"source", req.Source.String(),
			"target", req.Target.String(),
			"action", req.Action,
			"reason", d.Reason,
		)
	}
}

// CanBeCalled reports whether the target's rule declares source as a caller.
// Pure table lookup, no side effects.
func (g *Graph) CanBeCalled(target, source orchestra.Domain) bool {
	rule, ok := g.rules[target]
	if !ok {
		return false
	}
	for _, caller := range rule.CallableBy {
		if caller == source {
			return true
		}
	}
	return false
}

// AllowedTargets returns the domains source may call, in declaration order.
// Pure table lookup, no side effects.
func (g *Graph) AllowedTargets(source orchestra.Domain) []orchestra.Domain {
	rule, ok := g.rules[source]
	if !ok || len(rule.CanCall) == 0 {
		return nil
	}
	targets := make([]orchestra.Domain, len(rule.CanCall))
	copy(targets, rule.CanCall)
	return targets
}

// AllowedCallers returns the domains that may call target, in declaration
// order. Pure table lookup, no side effects.
func (g *Graph) AllowedCallers(target orchestra.Domain) []orchestra.Domain {
	rule, ok := g.rules[target]
	if !ok || len(rule.CallableBy) == 0 {
		return nil
	}
	callers := make([]orchestra.Domain, len(rule.CallableBy))
	copy(callers, rule.CallableBy)
	return callers
}
