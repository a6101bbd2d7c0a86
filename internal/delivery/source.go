package delivery

import (
	"github.com/grandcanyonsmith/leadengine/internal/contextbuilder"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// deliverableSource picks the text that seeds the final deliverable, with
// the precedence named in §4.10: (1) a step with is_deliverable=true; (2)
// the terminal step in step_order; (3) the accumulated context across every
// completed step. steps must already be sorted by StepOrder ascending (as
// the Orchestrator hands them to the Finalizer).
func deliverableSource(steps []model.Step, records []model.ExecutionStepRecord, submission model.Submission, form model.Form) string {
	if i, ok := explicitDeliverableIndex(steps); ok {
		if r, found := findRecord(records, steps[i]); found && r.Completed() {
			return r.Output
		}
	}

	if len(steps) > 0 {
		last := len(steps) - 1
		if r, found := findRecord(records, steps[last]); found && r.Completed() {
			return r.Output
		}
	}

	return accumulatedContext(steps, records, submission, form)
}

func explicitDeliverableIndex(steps []model.Step) (int, bool) {
	for i, s := range steps {
		if s.IsDeliverable {
			return i, true
		}
	}
	return 0, false
}

// accumulatedContext renders every completed step's output in step_order,
// the same shape the Context Builder (C4) produces for a downstream step
// depending on all of its predecessors.
func accumulatedContext(steps []model.Step, records []model.ExecutionStepRecord, submission model.Submission, form model.Form) string {
	all := make([]int, len(steps))
	for i := range steps {
		all[i] = i
	}
	return contextbuilder.PreviousContext(submission, form, steps, all, records)
}

func findRecord(records []model.ExecutionStepRecord, step model.Step) (model.ExecutionStepRecord, bool) {
	for _, r := range records {
		if r.StepOrder == step.StepOrder && r.StepType == step.StepType {
			return r, true
		}
	}
	return model.ExecutionStepRecord{}, false
}
