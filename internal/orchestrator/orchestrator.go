// Package orchestrator implements C9: the Job Processor's inner loop that
// walks a Workflow's step DAG — via the Dependency Resolver (C5) for
// readiness, the Context Builder (C4) for per-step context, and the Step
// Handlers (C8) for execution — persisting an Execution-Step Record (C3)
// after every step and invoking the Delivery Finalizer (C10) once the DAG
// is exhausted, grounded on the teacher's runtime/agent/engine run loop
// (build context, dispatch, record, repeat until the plan is exhausted or
// a step fails) (§4.9).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/contextbuilder"
	"github.com/grandcanyonsmith/leadengine/internal/depresolver"
	"github.com/grandcanyonsmith/leadengine/internal/model"
	"github.com/grandcanyonsmith/leadengine/internal/stephandler"
	"github.com/grandcanyonsmith/leadengine/internal/steprecorder"
)

// MaxCASRetries bounds the reload-and-retry loop on a Job write conflict
// before the Orchestrator gives up (§5).
const MaxCASRetries = 5

// ErrBlocked is returned when the dependency graph has no ready steps left
// but not every step is completed — a cycle or a bad reference slipped
// past validation at workflow-authoring time.
var ErrBlocked = errors.New("orchestrator: no ready steps but workflow incomplete")

// Finalizer is implemented by the Delivery Finalizer (C10); Run invokes it
// once every step in the DAG has completed successfully.
type Finalizer interface {
	Finalize(ctx context.Context, job *model.Job, workflow model.Workflow, submission model.Submission, form model.Form, steps []model.Step, records []model.ExecutionStepRecord) error
}

// Orchestrator implements C9.
type Orchestrator struct {
	KV        capability.KVStore
	Recorder  *steprecorder.Recorder
	IDs       capability.IDGenerator
	Clock     capability.Clock
	AI        stephandler.Handler
	Webhook   stephandler.Handler
	Finalizer Finalizer
}

// handlerFor returns the Step Handler responsible for step.StepType.
func (o *Orchestrator) handlerFor(step model.Step) (stephandler.Handler, error) {
	switch step.StepType {
	case model.StepTypeAIGeneration:
		return o.AI, nil
	case model.StepTypeWebhook:
		return o.Webhook, nil
	default:
		return nil, fmt.Errorf("orchestrator: no handler for step type %q", step.StepType)
	}
}

// Run drives the workflow's step DAG to completion (batch-continue mode,
// stepIndex nil) or executes exactly one step (single-step mode, stepIndex
// set), per §4.9. In single-step mode, if continueAfter is true the
// Orchestrator keeps going in batch mode immediately after that step
// succeeds. It returns the final, persisted record set and an error only
// when execution could not proceed at all (blocked DAG, CAS exhaustion); an
// ordinary step failure is reported via the persisted record's Status, not
// as a returned error.
func (o *Orchestrator) Run(ctx context.Context, job *model.Job, workflow model.Workflow, submission model.Submission, form model.Form, stepIndex *int, continueAfter bool) ([]model.ExecutionStepRecord, error) {
	steps := sortedSteps(workflow.Steps)
	if err := depresolver.Validate(steps); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid workflow %s: %w", workflow.WorkflowID, err)
	}

	records, err := o.Recorder.Reload(ctx, *job)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reload execution steps for job %s: %w", job.JobID, err)
	}

	if stepIndex != nil {
		completed := completedSet(steps, records)
		if err := depresolver.AssertRerunnable(steps, *stepIndex, completed); err != nil {
			return records, fmt.Errorf("orchestrator: %w", err)
		}
		records, err = o.runOne(ctx, job, workflow, submission, form, steps, records, *stepIndex)
		if err != nil {
			return records, err
		}
		if !continueAfter {
			if err := o.maybeFinalize(ctx, job, workflow, submission, form, steps, records); err != nil {
				return records, err
			}
			return records, nil
		}
		if rec, ok := findByIndex(steps, records, *stepIndex); !ok || !rec.Completed() {
			return records, nil
		}
	}

	for {
		completed := completedSet(steps, records)
		if len(completed) == len(steps) {
			break
		}
		ready := depresolver.Ready(steps, completed)
		if len(ready) == 0 {
			return records, fmt.Errorf("orchestrator: %w for job %s", ErrBlocked, job.JobID)
		}
		next := lowestOrder(steps, ready)

		records, err = o.runOne(ctx, job, workflow, submission, form, steps, records, next)
		if err != nil {
			return records, err
		}
		if rec, ok := findByIndex(steps, records, next); !ok || !rec.Completed() {
			// The step failed; the failure is already persisted. Halt the
			// DAG walk per §4.9 ("repeat until all steps completed or a
			// failure halts") without invoking the finalizer.
			return records, nil
		}
	}

	if err := o.maybeFinalize(ctx, job, workflow, submission, form, steps, records); err != nil {
		return records, err
	}
	return records, nil
}

func (o *Orchestrator) maybeFinalize(ctx context.Context, job *model.Job, workflow model.Workflow, submission model.Submission, form model.Form, steps []model.Step, records []model.ExecutionStepRecord) error {
	if o.Finalizer == nil {
		return nil
	}
	completed := completedSet(steps, records)
	if len(completed) != len(steps) {
		return nil
	}
	if err := o.Finalizer.Finalize(ctx, job, workflow, submission, form, steps, records); err != nil {
		return fmt.Errorf("orchestrator: finalize job %s: %w", job.JobID, err)
	}
	return nil
}

// runOne executes the step at index i, builds its Execution-Step Record,
// and CAS-persists the updated record set onto job, retrying on version
// conflict up to MaxCASRetries (§5).
func (o *Orchestrator) runOne(ctx context.Context, job *model.Job, workflow model.Workflow, submission model.Submission, form model.Form, steps []model.Step, records []model.ExecutionStepRecord, i int) ([]model.ExecutionStepRecord, error) {
	step := steps[i]
	handler, err := o.handlerFor(step)
	if err != nil {
		return records, err
	}

	built := contextbuilder.Build(submission, form, steps, i, records)
	started := o.Clock.Now()

	result, err := handler.Execute(ctx, stephandler.HandlerInput{
		Step:            step,
		StepIndex:       i,
		Steps:           steps,
		Job:             *job,
		Submission:      submission,
		Context:         built,
		UpstreamRecords: records,
	})
	if err != nil {
		return records, fmt.Errorf("orchestrator: execute step %d (%s): %w", i, step.StepName, err)
	}

	record := model.ExecutionStepRecord{
		StepOrder:  step.StepOrder,
		StepName:   step.StepName,
		StepType:   step.StepType,
		StepModel:  step.Model,
		Output:     result.Output,
		Usage:      result.Usage,
		ArtifactID: result.ArtifactID,
		ImageURLs:  result.ImageURLs,
		Status:     statusFor(result),
		Error:      result.Error,
		StartedAt:  started,
		DurationMS: result.DurationMS,
	}

	updated := steprecorder.AppendOrReplace(records, record)
	if err := o.persistRecords(ctx, job, updated); err != nil {
		return records, err
	}
	return updated, nil
}

// persistRecords CAS-writes job with records, reloading and retrying up to
// MaxCASRetries times on capability.ErrVersionConflict (§5).
func (o *Orchestrator) persistRecords(ctx context.Context, job *model.Job, records []model.ExecutionStepRecord) error {
	for attempt := 0; ; attempt++ {
		candidate := *job
		if err := o.Recorder.Persist(ctx, &candidate, records); err != nil {
			return fmt.Errorf("orchestrator: persist execution steps for job %s: %w", job.JobID, err)
		}

		err := o.KV.PutJob(ctx, candidate)
		if err == nil {
			candidate.Version++
			*job = candidate
			return nil
		}
		if !errors.Is(err, capability.ErrVersionConflict) || attempt >= MaxCASRetries {
			return fmt.Errorf("orchestrator: put job %s: %w", job.JobID, err)
		}

		fresh, getErr := o.KV.GetJob(ctx, job.TenantID, job.JobID)
		if getErr != nil {
			return fmt.Errorf("orchestrator: reload job %s after conflict: %w", job.JobID, getErr)
		}
		*job = fresh
	}
}

// AllStepsCompleted reports whether every step in workflow has a
// successfully completed record, the same test Run uses to decide whether
// to invoke the Finalizer. The Job Processor (C11) uses it after Run
// returns to decide whether the job itself reached a terminal state.
func AllStepsCompleted(workflow model.Workflow, records []model.ExecutionStepRecord) bool {
	steps := sortedSteps(workflow.Steps)
	return len(completedSet(steps, records)) == len(steps)
}

// FailedStep returns the first record with a failed status, if any —
// the step that halted the DAG walk, used by the Job Processor to derive
// the job's error_message/error_type on a non-error halt.
func FailedStep(records []model.ExecutionStepRecord) (model.ExecutionStepRecord, bool) {
	for _, r := range records {
		if r.Status == model.ExecutionStatusFailed {
			return r, true
		}
	}
	return model.ExecutionStepRecord{}, false
}

func statusFor(result stephandler.StepResult) model.ExecutionStatus {
	if result.Success {
		return model.ExecutionStatusSucceeded
	}
	return model.ExecutionStatusFailed
}

func sortedSteps(steps []model.Step) []model.Step {
	out := make([]model.Step, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out
}

func completedSet(steps []model.Step, records []model.ExecutionStepRecord) map[int]struct{} {
	out := make(map[int]struct{})
	for i, step := range steps {
		for _, r := range records {
			if r.StepOrder == step.StepOrder && r.StepType == step.StepType && r.Completed() {
				out[i] = struct{}{}
				break
			}
		}
	}
	return out
}

func findByIndex(steps []model.Step, records []model.ExecutionStepRecord, i int) (model.ExecutionStepRecord, bool) {
	step := steps[i]
	for _, r := range records {
		if r.StepOrder == step.StepOrder && r.StepType == step.StepType {
			return r, true
		}
	}
	return model.ExecutionStepRecord{}, false
}

func lowestOrder(steps []model.Step, indices []int) int {
	best := indices[0]
	for _, i := range indices[1:] {
		if steps[i].StepOrder < steps[best].StepOrder {
			best = i
		}
	}
	return best
}
