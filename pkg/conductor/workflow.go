package conductor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/Mindburn-Labs/baton/pkg/events"
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// CoordinateCrossOrchestra runs the requests as one workflow under a single
// generated orchestration id, stamped over every request's context so all
// downstream records correlate. Parallel mode dispatches everything
// concurrently and returns the full ordered result slice; sequential mode
// halts at the first failure and returns the results produced up to and
// including it. Succeeded steps are never compensated.
func (c *Conductor) CoordinateCrossOrchestra(ctx context.Context, requests []*orchestra.ActionRequest, parallel bool) []*orchestra.ActionResult {
	if len(requests) == 0 {
		return []*orchestra.ActionResult{}
	}

	workflowID := uuid.New().String()
	stamped := make([]*orchestra.ActionRequest, len(requests))
	var initiator orchestra.Domain
	var initiatorCtx *orchestra.ExecutionContext
	for i, req := range requests {
		if req == nil {
			continue
		}
		dup := *req
		ec := req.Context.Clone()
		ec.OrchestrationID = workflowID
		dup.Context = ec
		stamped[i] = &dup
		if initiator == "" {
			initiator = req.Domain
			initiatorCtx = ec
		}
	}

	mode := "sequential"
	if parallel {
		mode = "parallel"
	}
	c.logger.InfoContext(ctx, "cross-orchestra workflow started",
		"workflow_id", workflowID,
		"steps", len(requests),
		"mode", mode)

	// The workflow owns the shared session: it opens before the first step
	// and completes after the last, so each step joins instead of creating
	// and the active-workflow counter brackets the whole run.
	opened := false
	if initiator != "" {
		created, err := c.sessions.Open(ctx, workflowID, initiator, initiatorCtx)
		if err != nil {
			c.logger.WarnContext(ctx, "workflow session open failed",
				"workflow_id", workflowID,
				"error", err)
		} else if created {
			opened = true
			c.events.Publish(ctx, events.Event{
				Type:            events.TypeCoordinationStarted,
				OrchestrationID: workflowID,
				TenantID:        tenantOf(initiatorCtx),
				Domain:          initiator,
				Payload: map[string]any{
					"initiated_by": string(initiator),
					"steps":        len(requests),
					"mode":         mode,
				},
			})
		}
		c.metrics.SessionOpened(ctx, string(initiator))
		defer c.metrics.SessionClosed(ctx, string(initiator))
	}

	var results []*orchestra.ActionResult
	if parallel {
		results = c.runParallel(ctx, stamped)
	} else {
		results = c.runSequential(ctx, stamped)
	}

	if opened {
		status := SessionCompleted
		for _, r := range results {
			if r == nil || !r.Success {
				status = SessionFailed
				break
			}
		}
		c.completeWorkflow(ctx, workflowID, initiator, initiatorCtx, status, mode, len(requests), len(results))
	}

	return results
}

func (c *Conductor) runParallel(ctx context.Context, requests []*orchestra.ActionRequest) []*orchestra.ActionResult {
	results := make([]*orchestra.ActionResult, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req *orchestra.ActionRequest) {
			defer wg.Done()
			results[i] = c.CoordinateAction(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

func (c *Conductor) runSequential(ctx context.Context, requests []*orchestra.ActionRequest) []*orchestra.ActionResult {
	results := make([]*orchestra.ActionResult, 0, len(requests))
	for _, req := range requests {
		res := c.CoordinateAction(ctx, req)
		results = append(results, res)
		if !res.Success {
			break
		}
	}
	return results
}

func (c *Conductor) completeWorkflow(ctx context.Context, workflowID string, initiator orchestra.Domain, ec *orchestra.ExecutionContext, status SessionStatus, mode string, steps, produced int) {
	if _, err := c.sessions.Complete(ctx, workflowID, status); err != nil {
		c.logger.WarnContext(ctx, "workflow session completion failed",
			"workflow_id", workflowID,
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
		OrchestrationID: workflowID,
		TenantID:        tenantOf(ec),
		Domain:          initiator,
		Payload: map[string]any{
			"status":  string(status),
			"steps":   steps,
			"results": produced,
		},
	})
	c.audit.Log(ctx, audit.Entry{
		Category:        audit.CategoryCoordination,
		Severity:        severity,
		Actor:           requesterOf(ec),
		TenantID:        tenantOf(ec),
		Resource:        string(initiator),
		Action:          "cross_orchestra_workflow",
		Decision:        string(status),
		OrchestrationID: workflowID,
		Details: map[string]any{
			"mode":    mode,
			"steps":   steps,
			"results": produced,
		},
	})
	c.logger.InfoContext(ctx, "cross-orchestra workflow finished",
		"workflow_id", workflowID,
		"status", string(status),
		"steps", steps,
		"results", produced)
}
