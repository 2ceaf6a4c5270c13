package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// Effect is what a matching rule does.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule is one ordered CEL rule. The first rule whose expression evaluates
// true decides the request; rule order is the only precedence mechanism.
type Rule struct {
	ID         string `json:"id" yaml:"id"`
	Expression string `json:"expression" yaml:"expression"`
	Effect     Effect `json:"effect" yaml:"effect"`
	// Code overrides the POLICY_DENIED default on deny rules.
	Code   string `json:"code,omitempty" yaml:"code,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// CELEnforcer evaluates ordered CEL rules over the request. Expressions see
// the variables domain, action, args, tenant, roles and permissions. With no
// matching rule the request is allowed.
type CELEnforcer struct {
	env   *cel.Env
	rules []Rule

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEnforcer validates the rules and builds the evaluation environment.
// Expressions are compiled lazily on first evaluation and cached.
func NewCELEnforcer(rules []Rule) (*CELEnforcer, error) {
	env, err := cel.NewEnv(
		cel.Variable("domain", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("args", cel.DynType),
		cel.Variable("tenant", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("permissions", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}

	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("policy: rule %d has no id", i)
		}
		if r.Expression == "" {
			return nil, fmt.Errorf("policy: rule %s has no expression", r.ID)
		}
		if r.Effect != EffectAllow && r.Effect != EffectDeny {
			return nil, fmt.Errorf("policy: rule %s has invalid effect %q", r.ID, r.Effect)
		}
	}

	return &CELEnforcer{
		env:   env,
		rules: rules,
		cache: make(map[string]cel.Program),
	}, nil
}

// Enforce walks the rules in order. The first matching rule wins; an
// evaluation error stops the walk and is returned for the caller to map to
// POLICY_ERROR.
func (e *CELEnforcer) Enforce(ctx context.Context, req Request) (Decision, error) {
	input := buildInput(req)

	for _, rule := range e.rules {
		matched, err := e.evaluate(rule.Expression, input)
		if err != nil {
			return Decision{}, fmt.Errorf("policy: rule %s: %w", rule.ID, err)
		}
		if !matched {
			continue
		}

		if rule.Effect == EffectDeny {
			code := rule.Code
			if code == "" {
				code = orchestra.ErrCodePolicyDenied
			}
			reason := rule.Reason
			if reason == "" {
				reason = fmt.Sprintf("denied by policy rule %s", rule.ID)
			}
			return Decision{Allowed: false, Code: code, Reason: reason}, nil
		}
		return Decision{Allowed: true}, nil
	}

	return Decision{Allowed: true}, nil
}

func buildInput(req Request) map[string]any {
	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}

	tenant := ""
	roles := []string{}
	permissions := []string{}
	if req.Context != nil {
		tenant = req.Context.TenantID
		if req.Context.Roles != nil {
			roles = req.Context.Roles
		}
		if req.Context.Permissions != nil {
			permissions = req.Context.Permissions
		}
	}

	return map[string]any{
		"domain":      req.Domain.String(),
		"action":      req.Action,
		"args":        args,
		"tenant":      tenant,
		"roles":       roles,
		"permissions": permissions,
	}
}

func (e *CELEnforcer) evaluate(expr string, input map[string]any) (bool, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		// double check under the write lock
		if prg, hit = e.cache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			e.cache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
