package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadengine/internal/model"
)

func TestDeliverableSourcePrefersExplicitDeliverableStep(t *testing.T) {
	steps := []model.Step{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration},
		{StepOrder: 1, StepType: model.StepTypeAIGeneration, IsDeliverable: true},
		{StepOrder: 2, StepType: model.StepTypeAIGeneration},
	}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "first"},
		{StepOrder: 1, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "marked deliverable"},
		{StepOrder: 2, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "terminal"},
	}

	got := deliverableSource(steps, records, model.Submission{}, model.Form{})
	require.Equal(t, "marked deliverable", got)
}

func TestDeliverableSourceFallsBackToTerminalStep(t *testing.T) {
	steps := []model.Step{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration},
		{StepOrder: 1, StepType: model.StepTypeAIGeneration},
	}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "first"},
		{StepOrder: 1, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "last"},
	}

	got := deliverableSource(steps, records, model.Submission{}, model.Form{})
	require.Equal(t, "last", got)
}

func TestDeliverableSourceSkipsUnfinishedExplicitStep(t *testing.T) {
	steps := []model.Step{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, IsDeliverable: true},
		{StepOrder: 1, StepType: model.StepTypeAIGeneration},
	}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusFailed, Output: ""},
		{StepOrder: 1, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "terminal output"},
	}

	got := deliverableSource(steps, records, model.Submission{}, model.Form{})
	require.Equal(t, "terminal output", got)
}

func TestDeliverableSourceFallsBackToAccumulatedContext(t *testing.T) {
	steps := []model.Step{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, StepName: "step-zero"},
	}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusFailed, Output: ""},
	}
	submission := model.Submission{SubmissionData: map[string]any{"name": "Ada"}}

	got := deliverableSource(steps, records, submission, model.Form{})
	require.NotEmpty(t, got)
	require.Contains(t, got, "Ada")
}

func TestDeliverableSourceNoStepsUsesAccumulatedContext(t *testing.T) {
	submission := model.Submission{SubmissionData: map[string]any{"email": "ada@example.com"}}
	got := deliverableSource(nil, nil, submission, model.Form{})
	require.Contains(t, got, "ada@example.com")
}

func TestExplicitDeliverableIndexNotFound(t *testing.T) {
	steps := []model.Step{{StepOrder: 0}, {StepOrder: 1}}
	_, ok := explicitDeliverableIndex(steps)
	require.False(t, ok)
}

func TestFindRecordMatchesByOrderAndType(t *testing.T) {
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeWebhook, Output: "wrong type"},
		{StepOrder: 1, StepType: model.StepTypeAIGeneration, Output: "right"},
	}
	r, found := findRecord(records, model.Step{StepOrder: 1, StepType: model.StepTypeAIGeneration})
	require.True(t, found)
	require.Equal(t, "right", r.Output)
}
