// Package policy defines the pre-dispatch policy gate the conductor
// delegates to. Implementations must be fail-closed: an evaluation error is
// as much a stop as an explicit deny, and the conductor maps it to the
// POLICY_ERROR code.
package policy

import (
	"context"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// Request is the structured input to a policy evaluation.
type Request struct {
	Domain    orchestra.Domain            `json:"domain"`
	Action    string                      `json:"action"`
	Arguments map[string]any              `json:"arguments,omitempty"`
	Context   *orchestra.ExecutionContext `json:"context,omitempty"`
}

// Decision is the evaluation outcome. Code carries the collaborator's stable
// denial code; the conductor echoes it on the rejected ActionResult.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Enforcer evaluates policy for an action before dispatch.
type Enforcer interface {
	Enforce(ctx context.Context, req Request) (Decision, error)
}

// AllowAll permits everything. Wiring default for deployments without a
// policy engine.
type AllowAll struct{}

func (AllowAll) Enforce(context.Context, Request) (Decision, error) {
	return Decision{Allowed: true}, nil
}
