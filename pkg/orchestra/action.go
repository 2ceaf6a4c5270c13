package orchestra

// ExecutionContext carries the tenant, caller identity and correlation keys
// for one action. A context is immutable from the engine's point of view
// except for OrchestrationID, which the workflow coordinator stamps before
// dispatch so every downstream record correlates.
type ExecutionContext struct {
	TenantID        string   `json:"tenant_id"`
	UserID          string   `json:"user_id,omitempty"`
	TraceID         string   `json:"trace_id,omitempty"`
	SessionID       string   `json:"session_id,omitempty"`
	OrchestrationID string   `json:"orchestration_id,omitempty"`
	ParentDomain    Domain   `json:"parent_domain,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
	Roles           []string `json:"roles,omitempty"`
}

// HasRole reports whether the context carries the given role.
func (c *ExecutionContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the context's explicit permission list
// contains perm. A context with no permission list returns false; callers
// decide whether an absent list means "unrestricted".
func (c *ExecutionContext) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Clone returns a copy with independent slices, so a workflow can stamp an
// orchestration id without mutating the caller's request.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return &ExecutionContext{}
	}
	dup := *c
	dup.Permissions = append([]string(nil), c.Permissions...)
	dup.Roles = append([]string(nil), c.Roles...)
	return &dup
}

// ActionRequest asks one orchestra to perform a named action.
type ActionRequest struct {
	Domain    Domain            `json:"domain"`
	Action    string            `json:"action"`
	Arguments map[string]any    `json:"arguments,omitempty"`
	Context   *ExecutionContext `json:"context"`
}

// ActionResult is the uniform outcome envelope. Failures are values here,
// never panics: every gate in the dispatch pipeline converts its denial into
// a result with a stable error code.
type ActionResult struct {
	Success  bool            `json:"success"`
	Domain   Domain          `json:"domain"`
	Action   string          `json:"action"`
	Data     map[string]any  `json:"data,omitempty"`
	Error    *ActionError    `json:"error,omitempty"`
	Metadata *ResultMetadata `json:"metadata,omitempty"`
}

// ActionError carries a machine-readable code plus a human-readable message.
type ActionError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ActionError) Error() string {
	return e.Code + ": " + e.Message
}

// ResultMetadata records how an action was carried out. ExecutionTimeMs is
// measured from pipeline entry to exit and is present on every result,
// including early rejects.
type ResultMetadata struct {
	ExecutionTimeMs   int64    `json:"execution_time_ms"`
	AgentsInvolved    []string `json:"agents_involved,omitempty"`
	ToolsUsed         []string `json:"tools_used,omitempty"`
	DownstreamDomains []Domain `json:"downstream_domains,omitempty"`
}

// Stable error codes surfaced on ActionResult. Executor-defined business
// codes pass through unchanged; these cover the engine's own gates.
const (
	ErrCodeNotFound            = "ORCHESTRA_NOT_FOUND"
	ErrCodeDisabled            = "ORCHESTRA_DISABLED"
	ErrCodeDependenciesMissing = "DEPENDENCIES_MISSING"
	ErrCodeNotImplemented      = "NOT_IMPLEMENTED"
	ErrCodePolicyDenied        = "POLICY_DENIED"
	ErrCodePolicyError         = "POLICY_ERROR"
	ErrCodeHITLDenied          = "HITL_DENIED"
	ErrCodeHITLFailed          = "HITL_FAILED"
	ErrCodeExecutionError      = "EXECUTION_ERROR"
)

// Failure builds a failed result for req with the given code and message.
func Failure(req *ActionRequest, code, message string) *ActionResult {
	return &ActionResult{
		Success: false,
		Domain:  req.Domain,
		Action:  req.Action,
		Error:   &ActionError{Code: code, Message: message},
	}
}

// Succeed builds a successful result for req carrying data.
func Succeed(req *ActionRequest, data map[string]any) *ActionResult {
	return &ActionResult{
		Success: true,
		Domain:  req.Domain,
		Action:  req.Action,
		Data:    data,
	}
}
