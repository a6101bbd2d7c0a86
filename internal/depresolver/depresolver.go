// Package depresolver implements C5: dependency readiness, status
// classification, and cycle/reference validation over a workflow's step
// DAG, grounded on original_source/backend/worker's dependency_validation_service.py
// normalize_dependencies default ("empty depends_on defaults to all steps
// with a lower step_order").
package depresolver

import (
	"errors"
	"fmt"

	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// Status classifies a step's readiness given a completed/failed set.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusReady     Status = "ready"
	StatusBlocked   Status = "blocked"
	StatusFailed    Status = "failed"
)

// ErrCycle is returned by Validate when the dependency graph contains a
// cycle; the wrapped indices participate in it.
var ErrCycle = errors.New("depresolver: cycle detected")

// ErrBadReference is returned by Validate when a depends_on index is
// negative or out of range.
var ErrBadReference = errors.New("depresolver: bad dependency reference")

// Dependencies returns the effective, normalized dependency set for the
// step at index i: its own depends_on (deduplicated), or, if empty, every
// index j != i with steps[j].StepOrder < steps[i].StepOrder (§4.5).
func Dependencies(steps []model.Step, i int) []int {
	if len(steps[i].DependsOn) > 0 {
		seen := make(map[int]struct{}, len(steps[i].DependsOn))
		out := make([]int, 0, len(steps[i].DependsOn))
		for _, d := range steps[i].DependsOn {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
		return out
	}

	var out []int
	for j := range steps {
		if j != i && steps[j].StepOrder < steps[i].StepOrder {
			out = append(out, j)
		}
	}
	return out
}

// Ready returns the set of step indices whose every dependency is in
// completed and which are not themselves already in completed.
func Ready(steps []model.Step, completed map[int]struct{}) []int {
	var out []int
	for i := range steps {
		if _, done := completed[i]; done {
			continue
		}
		if allIn(Dependencies(steps, i), completed) {
			out = append(out, i)
		}
	}
	return out
}

// StatusMap classifies every step index as completed, ready, blocked, or
// failed.
func StatusMap(steps []model.Step, completed, failed map[int]struct{}) map[int]Status {
	out := make(map[int]Status, len(steps))
	for i := range steps {
		switch {
		case inSet(i, completed):
			out[i] = StatusCompleted
		case inSet(i, failed):
			out[i] = StatusFailed
		case allIn(Dependencies(steps, i), completed):
			out[i] = StatusReady
		default:
			out[i] = StatusBlocked
		}
	}
	return out
}

// Validate checks the step DAG for out-of-range references and cycles.
func Validate(steps []model.Step) error {
	for i := range steps {
		for _, d := range Dependencies(steps, i) {
			if d < 0 || d >= len(steps) {
				return fmt.Errorf("%w: step %d references %d", ErrBadReference, i, d)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(steps))
	var cyclic []int
	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = gray
		for _, d := range Dependencies(steps, i) {
			switch color[d] {
			case gray:
				cyclic = append(cyclic, d)
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		color[i] = black
		return false
	}
	for i := range steps {
		if color[i] == white {
			if visit(i) {
				return fmt.Errorf("%w: %v", ErrCycle, cyclic)
			}
		}
	}
	return nil
}

// AssertRerunnable validates that every dependency of step index i is
// already completed, as required before a single-step rerun may execute it
// (§4.5).
func AssertRerunnable(steps []model.Step, i int, completed map[int]struct{}) error {
	for _, d := range Dependencies(steps, i) {
		if !inSet(d, completed) {
			return fmt.Errorf("depresolver: step %d depends on incomplete step %d", i, d)
		}
	}
	return nil
}

func inSet(i int, set map[int]struct{}) bool {
	_, ok := set[i]
	return ok
}

func allIn(indices []int, set map[int]struct{}) bool {
	for _, i := range indices {
		if !inSet(i, set) {
			return false
		}
	}
	return true
}
