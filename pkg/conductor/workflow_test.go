package conductor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/Mindburn-Labs/baton/pkg/events"
	"github.com/Mindburn-Labs/baton/pkg/executor"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// idCapture collects the orchestration ids the executors observe.
type idCapture struct {
	mu  sync.Mutex
	ids []string
}

func (c *idCapture) add(req *orchestra.ActionRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := ""
	if req.Context != nil {
		id = req.Context.OrchestrationID
	}
	c.ids = append(c.ids, id)
}

func (c *idCapture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func capturingExecutor(capture *idCapture, calls *atomic.Int32) executor.Func {
	return func(ctx context.Context, req *orchestra.ActionRequest) (*orchestra.ActionResult, error) {
		if calls != nil {
			calls.Add(1)
		}
		if capture != nil {
			capture.add(req)
		}
		return orchestra.Succeed(req, map[string]any{"ok": true}), nil
	}
}

func failingExecutor(capture *idCapture, code, message string) executor.Func {
	return func(ctx context.Context, req *orchestra.ActionRequest) (*orchestra.ActionResult, error) {
		if capture != nil {
			capture.add(req)
		}
		return orchestra.Failure(req, code, message), nil
	}
}

func TestCrossOrchestraParallel(t *testing.T) {
	ctx := context.Background()
	auditSink := &captureAudit{}
	eventSink := &captureEvents{}
	capture := &idCapture{}
	var dbCalls, finCalls atomic.Int32

	reg := newTestRegistry(t,
		testManifest(orchestra.DomainDatabase),
		testManifest(orchestra.DomainFinance),
	)
	execs := executor.NewSet()
	execs.Register(orchestra.DomainDatabase, capturingExecutor(capture, &dbCalls))
	execs.Register(orchestra.DomainFinance, executor.Func(func(ctx context.Context, req *orchestra.ActionRequest) (*orchestra.ActionResult, error) {
		finCalls.Add(1)
		capture.add(req)
		return orchestra.Failure(req, "LEDGER_LOCKED", "books are closed"), nil
	}))
	c := New(reg, execs, WithAudit(auditSink), WithEvents(eventSink))

	dbReq := &orchestra.ActionRequest{
		Domain: orchestra.DomainDatabase,
		Action: "query",
		Context: &orchestra.ExecutionContext{
			TenantID:        "tenant-1",
			OrchestrationID: "caller-set",
		},
	}
	finReq := &orchestra.ActionRequest{Domain: orchestra.DomainFinance, Action: "post_entry"}

	results := c.CoordinateCrossOrchestra(ctx, []*orchestra.ActionRequest{dbReq, finReq}, true)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, orchestra.DomainDatabase, results[0].Domain)
	require.False(t, results[1].Success)
	assert.Equal(t, orchestra.DomainFinance, results[1].Domain)
	assert.Equal(t, "LEDGER_LOCKED", results[1].Error.Code)

	assert.Equal(t, int32(1), dbCalls.Load())
	assert.Equal(t, int32(1), finCalls.Load())

	ids := capture.all()
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1])
	assert.NotEqual(t, "caller-set", ids[0])
	assert.Equal(t, "caller-set", dbReq.Context.OrchestrationID)

	workflowID := ids[0]
	sess, err := c.GetSession(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, SessionFailed, sess.Status)
	assert.Equal(t, orchestra.DomainDatabase, sess.InitiatedBy)
	assert.ElementsMatch(t,
		[]orchestra.Domain{orchestra.DomainDatabase, orchestra.DomainFinance},
		sess.InvolvedDomains)

	active, err := c.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	evs := eventSink.all()
	require.NotEmpty(t, evs)
	assert.Equal(t, events.TypeCoordinationStarted, evs[0].Type)
	assert.Equal(t, 2, evs[0].Payload["steps"])
	assert.Equal(t, "parallel", evs[0].Payload["mode"])
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeCoordinationFailed, last.Type)
	assert.Equal(t, string(SessionFailed), last.Payload["status"])
	assert.Equal(t, workflowID, last.OrchestrationID)

	entries := auditSink.all()
	var workflowEntry *audit.Entry
	for i := range entries {
		if entries[i].Action == "cross_orchestra_workflow" {
			workflowEntry = &entries[i]
			break
		}
	}
	require.NotNil(t, workflowEntry)
	assert.Equal(t, audit.CategoryCoordination, workflowEntry.Category)
	assert.Equal(t, string(SessionFailed), workflowEntry.Decision)
	assert.Equal(t, "parallel", workflowEntry.Details["mode"])
}

func TestCrossOrchestraSequentialHaltsOnFailure(t *testing.T) {
	ctx := context.Background()
	var obsCalls atomic.Int32

	reg := newTestRegistry(t,
		testManifest(orchestra.DomainDatabase),
		testManifest(orchestra.DomainFinance),
		testManifest(orchestra.DomainObservability),
	)
	execs := executor.NewSet()
	execs.Register(orchestra.DomainDatabase, capturingExecutor(nil, nil))
	execs.Register(orchestra.DomainFinance, failingExecutor(nil, "LEDGER_LOCKED", "books are closed"))
	execs.Register(orchestra.DomainObservability, capturingExecutor(nil, &obsCalls))
	c := New(reg, execs)

	results := c.CoordinateCrossOrchestra(ctx, []*orchestra.ActionRequest{
		{Domain: orchestra.DomainDatabase, Action: "snapshot"},
		{Domain: orchestra.DomainFinance, Action: "post_entry"},
		{Domain: orchestra.DomainObservability, Action: "emit_metrics"},
	}, false)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, int32(0), obsCalls.Load(), "steps after the failure must not run")
}

func TestCrossOrchestraSequentialSuccess(t *testing.T) {
	ctx := context.Background()
	capture := &idCapture{}

	reg := newTestRegistry(t,
		testManifest(orchestra.DomainDatabase),
		testManifest(orchestra.DomainObservability),
	)
	execs := executor.NewSet()

	// The first step looks at the session list mid-run: the workflow session
	// must be visible as active while steps execute.
	var c *Conductor
	var midRun []*Session
	execs.Register(orchestra.DomainDatabase, executor.Func(func(ctx context.Context, req *orchestra.ActionRequest) (*orchestra.ActionResult, error) {
		capture.add(req)
		midRun, _ = c.ListActiveSessions(ctx)
		return orchestra.Succeed(req, nil), nil
	}))
	execs.Register(orchestra.DomainObservability, capturingExecutor(capture, nil))
	c = New(reg, execs)

	results := c.CoordinateCrossOrchestra(ctx, []*orchestra.ActionRequest{
		{Domain: orchestra.DomainDatabase, Action: "snapshot"},
		{Domain: orchestra.DomainObservability, Action: "emit_metrics"},
	}, false)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)

	ids := capture.all()
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])

	require.Len(t, midRun, 1)
	assert.Equal(t, ids[0], midRun[0].OrchestrationID)
	assert.Equal(t, SessionActive, midRun[0].Status)

	sess, err := c.GetSession(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, sess.Status)
	assert.ElementsMatch(t,
		[]orchestra.Domain{orchestra.DomainDatabase, orchestra.DomainObservability},
		sess.InvolvedDomains)
}

func TestCrossOrchestraEmpty(t *testing.T) {
	c := New(newTestRegistry(t), executor.NewSet())
	results := c.CoordinateCrossOrchestra(context.Background(), nil, true)
	require.NotNil(t, results)
	assert.Len(t, results, 0)
}

func TestCrossOrchestraNilStep(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, testManifest(orchestra.DomainDatabase))
	execs := executor.NewSet()
	execs.Register(orchestra.DomainDatabase, capturingExecutor(nil, nil))
	c := New(reg, execs)

	results := c.CoordinateCrossOrchestra(ctx, []*orchestra.ActionRequest{
		nil,
		{Domain: orchestra.DomainDatabase, Action: "query"},
	}, true)

	require.Len(t, results, 2)
	require.NotNil(t, results[0])
	assert.False(t, results[0].Success)
	assert.Equal(t, orchestra.ErrCodeExecutionError, results[0].Error.Code)
	assert.True(t, results[1].Success)
}

func TestCrossOrchestraGateFailureFolds(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, testManifest(orchestra.DomainDatabase))
	execs := executor.NewSet()
	execs.Register(orchestra.DomainDatabase, capturingExecutor(nil, nil))
	c := New(reg, execs)

	// Second step targets a domain nobody registered.
	results := c.CoordinateCrossOrchestra(ctx, []*orchestra.ActionRequest{
		{Domain: orchestra.DomainDatabase, Action: "query"},
		{Domain: orchestra.DomainFinance, Action: "post_entry"},
	}, true)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	require.False(t, results[1].Success)
	assert.Equal(t, orchestra.ErrCodeNotFound, results[1].Error.Code)
}
