// Package conductor is the engine's top-level façade. CoordinateAction runs
// one action through the full gate sequence (existence, active status,
// dependency health, policy, risk approval), then opens a coordination
// session, dispatches to the domain executor, completes the session and
// records the outcome. CoordinateCrossOrchestra composes several such
// actions into one workflow under a shared orchestration id. Failures are
// result values with stable codes; nothing escapes as a panic.
package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/baton/pkg/approval"
	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/Mindburn-Labs/baton/pkg/events"
	"github.com/Mindburn-Labs/baton/pkg/executor"
	"github.com/Mindburn-Labs/baton/pkg/observability"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
	"github.com/Mindburn-Labs/baton/pkg/policy"
	"github.com/Mindburn-Labs/baton/pkg/registry"
)

// Conductor validates and dispatches orchestra actions.
type Conductor struct {
	registry   *registry.Registry
	executors  *executor.Set
	policy     policy.Enforcer
	classifier approval.Classifier
	approvals  approval.Engine
	sessions   Store
	audit      *audit.BestEffort
	events     *events.BestEffort
	metrics    *observability.Instruments
	logger     *slog.Logger
}

// Option configures a Conductor.
type Option func(*Conductor)

// WithPolicy installs the policy collaborator. Default allows everything.
func WithPolicy(e policy.Enforcer) Option {
	return func(c *Conductor) {
		c.policy = e
	}
}

// WithClassifier installs the risk classifier.
func WithClassifier(cl approval.Classifier) Option {
	return func(c *Conductor) {
		c.classifier = cl
	}
}

// WithApprovals installs the approval engine.
func WithApprovals(e approval.Engine) Option {
	return func(c *Conductor) {
		c.approvals = e
	}
}

// WithSessions installs the session store. Default is in-memory.
func WithSessions(s Store) Option {
	return func(c *Conductor) {
		c.sessions = s
	}
}

// WithAudit records coordination and action outcomes to l.
func WithAudit(l audit.Logger) Option {
	return func(c *Conductor) {
		c.audit = audit.NewBestEffort(l)
	}
}

// WithEvents publishes coordination and action events to e.
func WithEvents(e events.Emitter) Option {
	return func(c *Conductor) {
		c.events = events.NewBestEffort(e)
	}
}

// WithInstruments records action duration, error and workflow metrics.
func WithInstruments(ins *observability.Instruments) Option {
	return func(c *Conductor) {
		c.metrics = ins
	}
}

// New creates a Conductor over the given registry and executor set. Without
// options the policy allows everything, risk uses the default table with an
// in-memory approval engine, and sessions live in memory.
func New(reg *registry.Registry, execs *executor.Set, opts ...Option) *Conductor {
	c := &Conductor{
		registry:   reg,
		executors:  execs,
		policy:     policy.AllowAll{},
		classifier: approval.DefaultClassifier(),
		approvals:  approval.NewManager(),
		sessions:   NewMemoryStore(),
		logger:     slog.Default().With("component", "conductor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CoordinateAction runs req through the full dispatch pipeline and always
// returns a well-formed result: on any gate failure a stable error code, and
// on every path ExecutionTimeMs measured from entry to exit.
func (c *Conductor) CoordinateAction(ctx context.Context, req *orchestra.ActionRequest) *orchestra.ActionResult {
	start := time.Now()

	if req == nil {
		res := &orchestra.ActionResult{
			Success:  false,
			Error:    &orchestra.ActionError{Code: orchestra.ErrCodeExecutionError, Message: "nil action request"},
			Metadata: &orchestra.ResultMetadata{ExecutionTimeMs: time.Since(start).Milliseconds()},
		}
		return res
	}

	var orchestrationID string
	res := c.pipeline(ctx, req, &orchestrationID)
	c.record(ctx, req, res, orchestrationID, start)
	return res
}

// pipeline walks the gates in order, returning at the first failure.
func (c *Conductor) pipeline(ctx context.Context, req *orchestra.ActionRequest, orchestrationID *string) *orchestra.ActionResult {
	// Existence.
	entry, ok := c.registry.GetByDomain(req.Domain)
	if !ok {
		return orchestra.Failure(req, orchestra.ErrCodeNotFound,
			fmt.Sprintf("no orchestra registered for domain: %s", req.Domain))
	}

	// Active status.
	if entry.Status != registry.StatusActive {
		return orchestra.Failure(req, orchestra.ErrCodeDisabled,
			fmt.Sprintf("orchestra %s is not active (status: %s)", req.Domain, entry.Status))
	}

	// Dependency health.
	if missing := c.registry.MissingDependencies(req.Domain); len(missing) > 0 {
		return orchestra.Failure(req, orchestra.ErrCodeDependenciesMissing,
			fmt.Sprintf("dependencies not available for %s: %s", req.Domain, joinDomains(missing)))
	}

	// Policy gate.
	if res := c.policyGate(ctx, req); res != nil {
		return res
	}

	// Risk and human approval gate.
	if res := c.approvalGate(ctx, req); res != nil {
		return res
	}

	// Session. Created sessions are this action's to complete; joining an
	// active workflow session leaves completion to the workflow.
	id := ""
	if req.Context != nil {
		id = req.Context.OrchestrationID
	}
	if id == "" {
		id = uuid.New().String()
	}
	*orchestrationID = id

	created, err := c.sessions.Open(ctx, id, req.Domain, req.Context)
	if err != nil {
		return orchestra.Failure(req, orchestra.ErrCodeExecutionError,
			fmt.Sprintf("failed to open coordination session: %v", err))
	}
	if created {
		c.events.Publish(ctx, events.Event{
			Type:            events.TypeCoordinationStarted,
			OrchestrationID: id,
			TenantID:        tenantOf(req.Context),
			Domain:          req.Domain,
			Action:          req.Action,
			Payload:         map[string]any{"initiated_by": string(req.Domain)},
		})
	}

	// Dispatch.
	res := c.dispatch(ctx, req)

	// Session completion, creator only.
	if created {
		status := SessionCompleted
		if !res.Success {
			status = SessionFailed
		}
		c.closeSession(ctx, req, id, status)
	}

	return res
}

func (c *Conductor) policyGate(ctx context.Context, req *orchestra.ActionRequest) *orchestra.ActionResult {
	decision, err := c.policy.Enforce(ctx, policy.Request{
		Domain:    req.Domain,
		Action:    req.Action,
		Arguments: req.Arguments,
		Context:   req.Context,
	})
	if err != nil {
		return orchestra.Failure(req, orchestra.ErrCodePolicyError,
			fmt.Sprintf("policy evaluation failed: %v", err))
	}
	if !decision.Allowed {
		code := decision.Code
		if code == "" {
			code = orchestra.ErrCodePolicyDenied
		}
		reason := decision.Reason
		if reason == "" {
			reason = "denied by policy"
		}
		return orchestra.Failure(req, code, reason)
	}
	return nil
}

func (c *Conductor) approvalGate(ctx context.Context, req *orchestra.ActionRequest) *orchestra.ActionResult {
	actionType := fmt.Sprintf("%s.%s", req.Domain, req.Action)
	level := c.classifier.Classify(actionType, req.Context)
	if !c.classifier.RequiresApproval(level) {
		return nil
	}

	requestID, err := c.approvals.RequestApproval(ctx, approval.Request{
		ActionType:  actionType,
		RequestedBy: requesterOf(req.Context),
		TenantID:    tenantOf(req.Context),
		Description: fmt.Sprintf("%s risk action %s on %s orchestra", level, req.Action, req.Domain),
		Resources:   []string{fmt.Sprintf("urn:baton:%s:%s", req.Domain, req.Action)},
		RiskLevel:   level,
		Context:     req.Context,
	})
	if err != nil {
		return orchestra.Failure(req, orchestra.ErrCodeHITLFailed,
			fmt.Sprintf("approval request failed: %v", err))
	}
	if approval.AutoApproved(requestID) {
		return nil
	}

	c.logger.InfoContext(ctx, "action awaiting approval",
		"domain", string(req.Domain),
		"action", req.Action,
		"risk_level", string(level),
		"request_id", requestID)

	resolution, err := c.approvals.WaitForApproval(ctx, requestID)
	if err != nil {
		return orchestra.Failure(req, orchestra.ErrCodeHITLFailed,
			fmt.Sprintf("approval wait failed: %v", err))
	}
	if resolution.Decision != approval.DecisionApproved {
		reason := resolution.Reason
		if reason == "" {
			reason = string(resolution.Decision)
		}
		return orchestra.Failure(req, orchestra.ErrCodeHITLDenied,
			fmt.Sprintf("action not approved: %s", reason))
	}
	return nil
}

// dispatch invokes the domain executor, converting a missing executor, an
// executor error or a panic into failure results.
func (c *Conductor) dispatch(ctx context.Context, req *orchestra.ActionRequest) *orchestra.ActionResult {
	ex, ok := c.executors.Get(req.Domain)
	if !ok {
		return orchestra.Failure(req, orchestra.ErrCodeNotImplemented,
			fmt.Sprintf("no executor registered for domain: %s", req.Domain))
	}

	res, err := c.safeExecute(ctx, ex, req)
	if err != nil {
		return orchestra.Failure(req, orchestra.ErrCodeExecutionError, err.Error())
	}
	if res == nil {
		return orchestra.Failure(req, orchestra.ErrCodeExecutionError, "executor returned no result")
	}
	if res.Domain == "" {
		res.Domain = req.Domain
	}
	if res.Action == "" {
		res.Action = req.Action
	}
	return res
}

func (c *Conductor) safeExecute(ctx context.Context, ex executor.Executor, req *orchestra.ActionRequest) (res *orchestra.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return ex.Execute(ctx, req)
}

// closeSession completes the session and emits the coordination event and
// audit record. Completion failures are logged, never surfaced: the action
// already ran.
func (c *Conductor) closeSession(ctx context.Context, req *orchestra.ActionRequest, orchestrationID string, status SessionStatus) {
	if _, err := c.sessions.Complete(ctx, orchestrationID, status); err != nil {
		c.logger.WarnContext(ctx, "session completion failed",
			"orchestration_id", orchestrationID,
			"status", string(status),
			"error", err)
	}

	evType := events.TypeCoordinationCompleted
	severity := audit.SeverityInfo
	if status != SessionCompleted {
		evType = events.TypeCoordinationFailed
		severity = audit.SeverityWarning
	}
	c.events.Publish(ctx, events.Event{
		Type:            evType,
		OrchestrationID: orchestrationID,
		TenantID:        tenantOf(req.Context),
		Domain:          req.Domain,
		Action:          req.Action,
		Payload:         map[string]any{"status": string(status)},
	})
	c.audit.Log(ctx, audit.Entry{
		Category:        audit.CategoryCoordination,
		Severity:        severity,
		Actor:           requesterOf(req.Context),
		TenantID:        tenantOf(req.Context),
		Resource:        string(req.Domain),
		Action:          req.Action,
		Decision:        string(status),
		OrchestrationID: orchestrationID,
	})
}

// record is the final pipeline stage: stamp execution time, then append the
// action audit record, the action event and the metrics, always after the
// outcome is known regardless of which gate produced it.
func (c *Conductor) record(ctx context.Context, req *orchestra.ActionRequest, res *orchestra.ActionResult, orchestrationID string, start time.Time) {
	elapsed := time.Since(start)
	if res.Metadata == nil {
		res.Metadata = &orchestra.ResultMetadata{}
	}
	res.Metadata.ExecutionTimeMs = elapsed.Milliseconds()

	decision := "completed"
	severity := audit.SeverityInfo
	evType := events.TypeActionCompleted
	payload := map[string]any{}
	if !res.Success {
		decision = "failed"
		severity = audit.SeverityWarning
		evType = events.TypeActionFailed
		if res.Error != nil {
			payload["code"] = res.Error.Code
			payload["message"] = res.Error.Message
		}
	}

	c.audit.Log(ctx, audit.Entry{
		Category:        audit.CategoryAction,
		Severity:        severity,
		Actor:           requesterOf(req.Context),
		TenantID:        tenantOf(req.Context),
		Resource:        string(req.Domain),
		Action:          req.Action,
		Decision:        decision,
		Reason:          errorMessage(res),
		OrchestrationID: orchestrationID,
		Details:         map[string]any{"execution_time_ms": res.Metadata.ExecutionTimeMs},
	})
	c.events.Publish(ctx, events.Event{
		Type:            evType,
		OrchestrationID: orchestrationID,
		TenantID:        tenantOf(req.Context),
		Domain:          req.Domain,
		Action:          req.Action,
		Payload:         payload,
	})
	c.metrics.RecordActionDuration(ctx, string(req.Domain), req.Action, elapsed)
	if !res.Success && res.Error != nil {
		c.metrics.RecordActionError(ctx, string(req.Domain), res.Error.Code)
	}

	if res.Success {
		c.logger.InfoContext(ctx, "action coordinated",
			"domain", string(req.Domain),
			"action", req.Action,
			"orchestration_id", orchestrationID,
			"duration_ms", res.Metadata.ExecutionTimeMs)
	} else {
		code := ""
		if res.Error != nil {
			code = res.Error.Code
		}
		c.logger.WarnContext(ctx, "action rejected or failed",
			"domain", string(req.Domain),
			"action", req.Action,
			"code", code,
			"orchestration_id", orchestrationID,
			"duration_ms", res.Metadata.ExecutionTimeMs)
	}
}

// GetSession returns the session for an orchestration id.
func (c *Conductor) GetSession(ctx context.Context, orchestrationID string) (*Session, error) {
	return c.sessions.Get(ctx, orchestrationID)
}

// ListActiveSessions returns the sessions still active.
func (c *Conductor) ListActiveSessions(ctx context.Context) ([]*Session, error) {
	return c.sessions.ListActive(ctx)
}

// ClearSessions drops all sessions. Test and administrative reset.
func (c *Conductor) ClearSessions(ctx context.Context) error {
	return c.sessions.Clear(ctx)
}

// AbortSession is the operator cancellation path: it moves an active session
// to aborted. Terminal sessions are left as they are.
func (c *Conductor) AbortSession(ctx context.Context, orchestrationID string) (*Session, error) {
	changed, err := c.sessions.Complete(ctx, orchestrationID, SessionAborted)
	if err != nil {
		return nil, err
	}
	if changed {
		sess, err := c.sessions.Get(ctx, orchestrationID)
		if err != nil {
			return nil, err
		}
		c.events.Publish(ctx, events.Event{
			Type:            events.TypeCoordinationAborted,
			OrchestrationID: orchestrationID,
			TenantID:        tenantOf(sess.Context),
			Domain:          sess.InitiatedBy,
			Payload:         map[string]any{"status": string(SessionAborted)},
		})
		c.audit.Log(ctx, audit.Entry{
			Category:        audit.CategoryCoordination,
			Severity:        audit.SeverityWarning,
			Actor:           "operator",
			TenantID:        tenantOf(sess.Context),
			Resource:        string(sess.InitiatedBy),
			Action:          "abort",
			Decision:        string(SessionAborted),
			OrchestrationID: orchestrationID,
		})
		return sess, nil
	}
	return c.sessions.Get(ctx, orchestrationID)
}

func requesterOf(ec *orchestra.ExecutionContext) string {
	switch {
	case ec == nil:
		return "system"
	case ec.UserID != "":
		return ec.UserID
	case ec.ParentDomain != "":
		return string(ec.ParentDomain)
	default:
		return "system"
	}
}

func tenantOf(ec *orchestra.ExecutionContext) string {
	if ec == nil {
		return ""
	}
	return ec.TenantID
}

func errorMessage(res *orchestra.ActionResult) string {
	if res.Error == nil {
		return ""
	}
	return res.Error.Message
}

func joinDomains(domains []orchestra.Domain) string {
	parts := make([]string, len(domains))
	for i, d := range domains {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}
