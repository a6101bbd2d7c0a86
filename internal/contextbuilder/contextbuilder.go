package contextbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// Result holds the three context strings and the image-URL list computed
// for a given step (§4.4).
type Result struct {
	InitialContext     string
	PreviousContext    string
	CurrentStepContext string
	PreviousImageURLs  []string
}

// Build computes the C4 context for the step at stepIndex, given the
// submission, its form (for field labels), and the execution-step records
// produced so far. Context strings are purely derived from persisted
// records, so recomputation during rerun is deterministic.
func Build(submission model.Submission, form model.Form, steps []model.Step, stepIndex int, records []model.ExecutionStepRecord) Result {
	initial := InitialContext(submission, form)

	step := steps[stepIndex]
	deps := DependencyIndices(steps, stepIndex)
	previous := PreviousContext(submission, form, steps, deps, records)

	current := ""
	if stepIndex == 0 {
		current = initial
	}

	var imageURLs []string
	if hasImageGenerationTool(step) {
		for _, dep := range deps {
			if r, ok := findRecord(records, steps[dep]); ok {
				imageURLs = append(imageURLs, r.ImageURLs...)
			}
		}
	}

	return Result{
		InitialContext:     initial,
		PreviousContext:    previous,
		CurrentStepContext: current,
		PreviousImageURLs:  DedupeImageURLs(imageURLs),
	}
}

// InitialContext renders submission data as one labeled line per field,
// using form's field-label map when available; empty/null fields are
// omitted (§4.4).
func InitialContext(submission model.Submission, form model.Form) string {
	keys := make([]string, 0, len(submission.SubmissionData))
	for k := range submission.SubmissionData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		v := submission.SubmissionData[k]
		if isEmptyValue(v) {
			continue
		}
		label := k
		if form.FieldLabels != nil {
			if l, ok := form.FieldLabels[k]; ok && l != "" {
				label = l
			}
		}
		lines = append(lines, fmt.Sprintf("%s: %v", label, v))
	}
	if len(lines) == 0 {
		return ""
	}
	return "FORM SUBMISSION:\n" + strings.Join(lines, "\n")
}

// PreviousContext renders, for each dependency execution step, a labeled
// block with the step's textual output and an optional "Generated Images:"
// list, separated by blank lines (§4.4).
func PreviousContext(submission model.Submission, form model.Form, steps []model.Step, deps []int, records []model.ExecutionStepRecord) string {
	var blocks []string

	if initial := InitialContext(submission, form); initial != "" {
		blocks = append(blocks, initial)
	}

	for _, dep := range deps {
		step := steps[dep]
		record, ok := findRecord(records, step)
		if !ok || !record.Completed() {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "STEP %d (%s):\n%s", step.StepOrder, step.StepName, record.Output)
		if len(record.ImageURLs) > 0 {
			b.WriteString("\nGenerated Images:\n")
			for _, url := range record.ImageURLs {
				fmt.Fprintf(&b, "- %s\n", url)
			}
		}
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}

	return strings.Join(blocks, "\n\n")
}

// DependencyIndices resolves the dependency indices for the step at
// stepIndex per §4.4/§4.5: its depends_on, or, if absent, all prior steps
// by step_order. Exported for reuse by the webhook step handler (§4.8),
// which needs the same dependency set to key its per-step-output payload.
func DependencyIndices(steps []model.Step, stepIndex int) []int {
	step := steps[stepIndex]
	if len(step.DependsOn) > 0 {
		out := append([]int(nil), step.DependsOn...)
		sort.Ints(out)
		return out
	}
	var out []int
	for i := range steps {
		if i != stepIndex && steps[i].StepOrder < step.StepOrder {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// hasImageGenerationTool reports whether step's tool set includes
// image_generation: previous_image_urls is only collected for steps that
// can actually use them (§4.4).
func hasImageGenerationTool(step model.Step) bool {
	for _, t := range step.Tools {
		if t.Type == model.ToolType("image_generation") {
			return true
		}
	}
	return false
}

func findRecord(records []model.ExecutionStepRecord, step model.Step) (model.ExecutionStepRecord, bool) {
	for _, r := range records {
		if r.StepOrder == step.StepOrder && r.StepType == step.StepType {
			return r, true
		}
	}
	return model.ExecutionStepRecord{}, false
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}
