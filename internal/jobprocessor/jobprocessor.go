// Package jobprocessor implements C11: the entry point a worker process
// drives per invocation. It resolves a Job from the id alone, takes an
// exclusive lease on it, marks it processing, loads its Workflow,
// Submission, and Form, delegates to the Orchestrator (C9) in the
// requested mode, and writes back the terminal status/output/error,
// grounded on the teacher's top-level runner pattern (resolve inputs,
// delegate to the engine, translate its outcome into a process-level
// result) and on original_source's worker entrypoint (load job, set
// processing, run, set completed/failed) (§4.11).
package jobprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
	"github.com/grandcanyonsmith/leadengine/internal/orchestrator"
)

// DefaultLeaseTTL bounds how long a worker may hold exclusive ownership of
// a job before another worker is allowed to reclaim it (§5: "a single
// Job's record set is owned by one worker at a time").
const DefaultLeaseTTL = 15 * time.Minute

// Request is the Job Processor's invocation contract input (§6).
type Request struct {
	JobID         string
	StepIndex     *int
	ContinueAfter bool
}

// Result is the Job Processor's invocation contract output (§6).
type Result struct {
	Success   bool
	Error     string
	ErrorType string
	StepIndex *int
}

// Processor implements C11.
type Processor struct {
	KV           capability.KVStore
	Lease        capability.Lease
	Clock        capability.Clock
	Orchestrator *orchestrator.Orchestrator

	// LeaseTTL bounds exclusive ownership of a job; defaults to
	// DefaultLeaseTTL when zero.
	LeaseTTL time.Duration
}

// ErrLeaseUnavailable's message is reported in Result.Error (ErrorType
// "lease_unavailable") when another worker already holds the job's lease.
var ErrLeaseUnavailable = errors.New("jobprocessor: job is already being processed")

// Process runs one invocation of the Job Processor against req, returning
// the §6 output shape. It never panics on a business-logic failure — every
// expected failure mode (job not found, lease contention, a step failure,
// an orchestrator error) is translated into a Result with Success=false;
// only a failure to even report that outcome (e.g. the final PutJob itself
// erroring) is returned as a Go error, for the caller (cmd/worker) to map
// to exit code 1 regardless.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	job, err := p.KV.GetJobByID(ctx, req.JobID)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ErrorType: "job_not_found", StepIndex: req.StepIndex}, nil
	}

	leaseKey := job.TenantID + "/" + job.JobID
	token, ok, err := p.Lease.Acquire(ctx, leaseKey, p.leaseTTL())
	if err != nil {
		return Result{}, fmt.Errorf("jobprocessor: acquire lease for job %s: %w", job.JobID, err)
	}
	if !ok {
		return Result{Success: false, Error: ErrLeaseUnavailable.Error(), ErrorType: "lease_unavailable", StepIndex: req.StepIndex}, nil
	}
	defer func() {
		// Released with a background context: the caller's ctx may already
		// be cancelled (timeout, interrupt) by the time we get here, but the
		// lease must still be given up so another worker can pick the job
		// back up.
		_ = p.Lease.Release(context.Background(), leaseKey, token)
	}()

	if err := p.putJob(ctx, &job, func(j *model.Job) {
		j.Status = model.JobStatusProcessing
		j.UpdatedAt = p.Clock.Now()
	}); err != nil {
		return Result{}, fmt.Errorf("jobprocessor: mark job %s processing: %w", job.JobID, err)
	}

	workflow, err := p.KV.GetWorkflow(ctx, job.TenantID, job.WorkflowID)
	if err != nil {
		return p.fail(ctx, &job, req, "config_error", fmt.Errorf("load workflow %s: %w", job.WorkflowID, err))
	}
	submission, err := p.KV.GetSubmission(ctx, job.TenantID, job.SubmissionID)
	if err != nil {
		return p.fail(ctx, &job, req, "config_error", fmt.Errorf("load submission %s: %w", job.SubmissionID, err))
	}
	form, err := p.KV.GetForm(ctx, job.TenantID, submission.FormID)
	if err != nil {
		return p.fail(ctx, &job, req, "config_error", fmt.Errorf("load form %s: %w", submission.FormID, err))
	}

	records, err := p.Orchestrator.Run(ctx, &job, workflow, submission, form, req.StepIndex, req.ContinueAfter)
	if err != nil {
		return p.fail(ctx, &job, req, classifyOrchestratorError(err), err)
	}

	if failedRecord, ok := orchestrator.FailedStep(records); ok {
		category := llmadapter.ClassifyError(failedRecord.Error)
		return p.fail(ctx, &job, req, string(category), fmt.Errorf("step %q: %s", failedRecord.StepName, failedRecord.Error))
	}

	if orchestrator.AllStepsCompleted(workflow, records) {
		if err := p.putJob(ctx, &job, func(j *model.Job) {
			j.Status = model.JobStatusCompleted
			j.UpdatedAt = p.Clock.Now()
		}); err != nil {
			return Result{}, fmt.Errorf("jobprocessor: mark job %s completed: %w", job.JobID, err)
		}
		return Result{Success: true, StepIndex: req.StepIndex}, nil
	}

	// Partial progress in single-step mode: the step this invocation ran
	// succeeded but the DAG is not yet exhausted. The job stays processing
	// for a later invocation to continue.
	if err := p.putJob(ctx, &job, func(j *model.Job) {
		j.UpdatedAt = p.Clock.Now()
	}); err != nil {
		return Result{}, fmt.Errorf("jobprocessor: persist job %s after step: %w", job.JobID, err)
	}
	return Result{Success: true, StepIndex: req.StepIndex}, nil
}

// fail marks job failed with message/type and reports the corresponding
// Result. A failure to even persist that terminal state is surfaced as a Go
// error rather than folded into the Result, matching Process's contract.
func (p *Processor) fail(ctx context.Context, job *model.Job, req Request, errorType string, cause error) (Result, error) {
	message := cause.Error()
	if err := p.putJob(ctx, job, func(j *model.Job) {
		j.Status = model.JobStatusFailed
		j.ErrorMessage = message
		j.ErrorType = errorType
		j.UpdatedAt = p.Clock.Now()
	}); err != nil {
		return Result{}, fmt.Errorf("jobprocessor: mark job %s failed: %w", job.JobID, err)
	}
	return Result{Success: false, Error: message, ErrorType: errorType, StepIndex: req.StepIndex}, nil
}

// putJob applies mutate to job and writes it with the reload-mutate-CAS-retry
// pattern required by §5: on a version conflict, job is reloaded and mutate
// is re-applied to the fresh copy before the write is retried.
func (p *Processor) putJob(ctx context.Context, job *model.Job, mutate func(*model.Job)) error {
	for attempt := 0; ; attempt++ {
		mutate(job)
		err := p.KV.PutJob(ctx, *job)
		if err == nil {
			job.Version++
			return nil
		}
		if !errors.Is(err, capability.ErrVersionConflict) || attempt >= orchestrator.MaxCASRetries {
			return fmt.Errorf("put job %s: %w", job.JobID, err)
		}
		fresh, getErr := p.KV.GetJob(ctx, job.TenantID, job.JobID)
		if getErr != nil {
			return fmt.Errorf("reload job %s after conflict: %w", job.JobID, getErr)
		}
		outputURL, errMsg, errType, status := job.OutputURL, job.ErrorMessage, job.ErrorType, job.Status
		*job = fresh
		// Preserve the in-flight terminal fields the Orchestrator/Finalizer
		// already set on the in-memory job (e.g. OutputURL), which a reload
		// from the currently-stored version would otherwise discard.
		if outputURL != "" {
			job.OutputURL = outputURL
		}
		if errMsg != "" {
			job.ErrorMessage, job.ErrorType, job.Status = errMsg, errType, status
		}
	}
}

func (p *Processor) leaseTTL() time.Duration {
	if p.LeaseTTL > 0 {
		return p.LeaseTTL
	}
	return DefaultLeaseTTL
}

// classifyOrchestratorError derives an error_type for a failure returned
// directly by the Orchestrator (a blocked DAG, CAS exhaustion, deliverable
// production failure) rather than an ordinary step failure, which carries
// its own classified category instead.
func classifyOrchestratorError(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrBlocked):
		return "workflow_blocked"
	case errors.Is(err, capability.ErrVersionConflict):
		return "concurrent_update"
	default:
		return "internal_error"
	}
}
