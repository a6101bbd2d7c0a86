package depresolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadengine/internal/model"
)

func linear(n int) []model.Step {
	steps := make([]model.Step, n)
	for i := range steps {
		steps[i] = model.Step{StepOrder: i}
	}
	return steps
}

func TestDependenciesDefaultsToAllPriorSteps(t *testing.T) {
	steps := linear(3)
	require.ElementsMatch(t, []int{0, 1}, Dependencies(steps, 2))
	require.Empty(t, Dependencies(steps, 0))
}

func TestDependenciesUsesExplicitDependsOn(t *testing.T) {
	steps := []model.Step{
		{StepOrder: 0},
		{StepOrder: 1},
		{StepOrder: 2, DependsOn: []int{0}},
	}
	require.Equal(t, []int{0}, Dependencies(steps, 2))
}

func TestReadyReturnsStepsWithSatisfiedDependencies(t *testing.T) {
	steps := linear(3)
	completed := map[int]struct{}{0: {}}
	ready := Ready(steps, completed)
	require.Equal(t, []int{1}, ready)
}

func TestStatusMapClassifiesEveryStep(t *testing.T) {
	steps := linear(3)
	completed := map[int]struct{}{0: {}}
	failed := map[int]struct{}{}
	sm := StatusMap(steps, completed, failed)
	require.Equal(t, StatusCompleted, sm[0])
	require.Equal(t, StatusReady, sm[1])
	require.Equal(t, StatusBlocked, sm[2])
}

func TestValidateDetectsCycle(t *testing.T) {
	steps := []model.Step{
		{StepOrder: 0, DependsOn: []int{1}},
		{StepOrder: 1, DependsOn: []int{0}},
	}
	err := Validate(steps)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCycle))
}

func TestValidateDetectsBadReference(t *testing.T) {
	steps := []model.Step{
		{StepOrder: 0, DependsOn: []int{5}},
	}
	err := Validate(steps)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadReference))
}

func TestValidateAcceptsLinearDAG(t *testing.T) {
	require.NoError(t, Validate(linear(5)))
}

func TestAssertRerunnableRejectsIncompleteDependency(t *testing.T) {
	steps := []model.Step{
		{StepOrder: 0},
		{StepOrder: 1, DependsOn: []int{0}},
	}
	err := AssertRerunnable(steps, 1, map[int]struct{}{})
	require.Error(t, err)

	require.NoError(t, AssertRerunnable(steps, 1, map[int]struct{}{0: {}}))
}
