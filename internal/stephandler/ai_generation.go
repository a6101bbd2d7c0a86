package stephandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/artifactstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
	"github.com/grandcanyonsmith/leadengine/internal/toolloop"
)

const (
	defaultMaxIterations      = 20
	defaultMaxDurationSeconds = 300
	defaultViewportWidth      = 1280
	defaultViewportHeight     = 800
	defaultCommandTimeoutSecs = 30
	defaultMaxOutputLength    = 10_000
)

// AIGenerationHandler implements the AI-generation step handler (§4.8): a
// plain single LLM call, or — when the step's tools call for it — one of
// the three C7 tool loops substituting for the corresponding provider tool.
type AIGenerationHandler struct {
	Adapter *llmadapter.Adapter
	Store   *artifactstore.Store
	KV      capability.KVStore
	Browser capability.Browser
	Shell   capability.ShellRunner
	Clock   capability.Clock
}

// Execute runs the step end to end: dispatches to the tool loop its tools
// require (if any), stores the textual output with a content-sniffed
// extension, looks up the artifact IDs of the image URLs the call produced
// (images are stored upstream by the tool loops and the LLM adapter; this
// handler stores none itself), and always returns a complete
// StepResult — success or failure — so the caller can persist a record
// unconditionally (§4.8).
func (h *AIGenerationHandler) Execute(ctx context.Context, in HandlerInput) (StepResult, error) {
	started := h.Clock.Now()
	tenantID, jobID := in.Job.TenantID, in.Job.JobID
	text := contextText(in)

	output, imageURLs, usage, err := h.dispatch(ctx, tenantID, jobID, in.Step, text)
	duration := h.Clock.Now().Sub(started).Milliseconds()
	if err != nil {
		return StepResult{DurationMS: duration, Success: false, Error: err.Error()}, nil
	}

	ext := outputExtension(output)
	filename := fmt.Sprintf("step-%d-output%s", in.StepIndex, ext)
	artifactID, err := h.Store.Store(ctx, tenantID, jobID, model.ArtifactTypeStepOutput, []byte(output), filename)
	if err != nil {
		return StepResult{DurationMS: duration, Success: false, Error: fmt.Sprintf("store step output: %v", err)}, nil
	}

	imageArtifactIDs, err := resolveArtifactIDsByURL(ctx, h.KV, tenantID, jobID, imageURLs)
	if err != nil {
		return StepResult{DurationMS: duration, Success: false, Error: fmt.Sprintf("resolve image artifact ids: %v", err)}, nil
	}

	return StepResult{
		Output:           output,
		ArtifactID:       artifactID,
		ImageURLs:        imageURLs,
		ImageArtifactIDs: imageArtifactIDs,
		Usage:            usage,
		DurationMS:       duration,
		Success:          true,
	}, nil
}

// dispatch picks the execution mode implied by the step's configured tools:
// computer-use and shell tools fully replace the single LLM call with their
// respective bounded loop (§4.7); an image_generation tool substitutes the
// image-plan loop for the provider's native tool, with the step's "output"
// becoming the JSON plan document (§4.7, §4.8); otherwise one plain LLM
// call is made.
func (h *AIGenerationHandler) dispatch(ctx context.Context, tenantID, jobID string, step model.Step, text string) (string, []string, model.Usage, error) {
	switch {
	case hasToolType(step, "computer_use_preview"):
		cfg := toolloop.ComputerUseConfig{
			MaxIterations:  intFromConfig(step, "max_iterations", defaultMaxIterations),
			MaxDuration:    durationFromConfig(step, "max_duration_seconds", defaultMaxDurationSeconds),
			ViewportWidth:  intFromConfig(step, "viewport_width", defaultViewportWidth),
			ViewportHeight: intFromConfig(step, "viewport_height", defaultViewportHeight),
		}
		result, err := toolloop.RunComputerUse(ctx, h.Adapter, h.Browser, h.Store, h.Clock, tenantID, jobID, step, text, cfg)
		if err != nil {
			return "", nil, model.Usage{}, err
		}
		return result.OutputText, result.ScreenshotURLs, result.Usage, nil

	case hasToolType(step, "shell"):
		cfg := toolloop.ShellLoopConfig{
			MaxIterations:   intFromConfig(step, "max_iterations", defaultMaxIterations),
			MaxDuration:     durationFromConfig(step, "max_duration_seconds", defaultMaxDurationSeconds),
			CommandTimeout:  time.Duration(intFromConfig(step, "command_timeout_seconds", defaultCommandTimeoutSecs)) * time.Second,
			MaxOutputLength: intFromConfig(step, "max_output_length", defaultMaxOutputLength),
		}
		result, err := toolloop.RunShell(ctx, h.Adapter, h.Shell, h.Clock, tenantID, jobID, step, text, cfg)
		if err != nil {
			return "", nil, model.Usage{}, err
		}
		return result.OutputText, nil, result.Usage, nil

	case hasToolType(step, "image_generation"):
		plan, err := toolloop.RunImagePlan(ctx, h.Adapter, tenantID, jobID, step, text)
		if err != nil {
			return "", nil, model.Usage{}, err
		}
		encoded, err := json.Marshal(plan)
		if err != nil {
			return "", nil, model.Usage{}, fmt.Errorf("encode image plan: %w", err)
		}
		var urls []string
		for _, img := range plan.Images {
			urls = append(urls, img.ImageURLs...)
		}
		return string(encoded), urls, plan.Usage, nil

	default:
		parsed, usage, err := h.Adapter.Generate(ctx, tenantID, jobID, step, text, nil)
		if err != nil {
			return "", nil, model.Usage{}, err
		}
		return parsed.OutputText, parsed.ImageURLs, usage, nil
	}
}

func hasToolType(step model.Step, toolType string) bool {
	for _, t := range step.Tools {
		if string(t.Type) == toolType {
			return true
		}
	}
	return false
}

// intFromConfig reads an integer override from step.OutputConfig, tolerating
// the float64 shape a JSON-decoded map[string]any carries numbers in.
func intFromConfig(step model.Step, key string, def int) int {
	if step.OutputConfig == nil {
		return def
	}
	switch v := step.OutputConfig[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func durationFromConfig(step model.Step, key string, defSeconds int) time.Duration {
	return time.Duration(intFromConfig(step, key, defSeconds)) * time.Second
}
