// Package deadline enforces the outer per-job wall-clock budget (§5) using
// Temporal as an external workflow state machine, per the teacher's own
// engine/temporal adapter style (runtime/agent/engine/temporal/engine.go):
// a thin wrapper around a *client.Client plus a durable workflow definition.
// The core step orchestrator never depends on Temporal for step-to-step
// sequencing — only this guard does, matching spec §1's framing of workflow
// state machines as an external collaborator rather than the core engine.
package deadline

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the Temporal task queue the outer-deadline workflow and its
// worker run on.
const TaskQueue = "leadengine-job-deadline"

// WorkflowName is the registered name of GuardWorkflow.
const WorkflowName = "JobDeadlineGuard"

// Guard starts and cancels per-job outer-deadline workflows.
type Guard struct {
	client client.Client
}

// New constructs a Guard backed by an already-connected Temporal client.
func New(c client.Client) *Guard {
	return &Guard{client: c}
}

// Start launches a durable timer workflow for jobID that completes once
// budget elapses; callers poll Expired to observe expiry. budget is the
// job's total wall-clock allowance
// (§5).
func (g *Guard) Start(ctx context.Context, jobID string, budget time.Duration) error {
	opts := client.StartWorkflowOptions{
		ID:                       "job-deadline-" + jobID,
		TaskQueue:                TaskQueue,
		WorkflowExecutionTimeout: budget + time.Minute,
	}
	_, err := g.client.ExecuteWorkflow(ctx, opts, GuardWorkflow, budget)
	if err != nil {
		return fmt.Errorf("deadline: start guard for job %s: %w", jobID, err)
	}
	return nil
}

// Cancel terminates the outer-deadline workflow for jobID, e.g. once the job
// has reached a terminal status and no longer needs the guard.
func (g *Guard) Cancel(ctx context.Context, jobID string) error {
	if err := g.client.TerminateWorkflow(ctx, "job-deadline-"+jobID, "", "job reached terminal status"); err != nil {
		return fmt.Errorf("deadline: cancel guard for job %s: %w", jobID, err)
	}
	return nil
}

// Expired reports whether the outer-deadline workflow for jobID has already
// completed, i.e. the budget elapsed before the job finished.
func (g *Guard) Expired(ctx context.Context, jobID string) (bool, error) {
	resp, err := g.client.DescribeWorkflowExecution(ctx, "job-deadline-"+jobID, "")
	if err != nil {
		return false, fmt.Errorf("deadline: describe guard for job %s: %w", jobID, err)
	}
	status := resp.GetWorkflowExecutionInfo().GetStatus()
	return status.String() == "WORKFLOW_EXECUTION_STATUS_COMPLETED", nil
}

// GuardWorkflow sleeps for budget and then returns, marking the workflow
// complete. It carries no business logic: its only purpose is to exist as
// an externally observable, durable wall-clock timer (§5).
func GuardWorkflow(ctx workflow.Context, budget time.Duration) error {
	return workflow.NewTimer(ctx, budget).Get(ctx, nil)
}
