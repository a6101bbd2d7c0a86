// Package stephandler implements C8: the two step handlers (AI-generation,
// webhook) that share one contract — execute(step, step_index, job, tenant,
// accumulated_context, upstream_records) -> (step_result, artifact_ids) —
// and that both always produce a complete result, success or failure, so the
// caller can persist an Execution-Step Record unconditionally (§4.8).
package stephandler

import (
	"context"
	"strings"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/contextbuilder"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// StepResult is the outcome of executing one step, independent of how it
// gets turned into an model.ExecutionStepRecord by the caller (§4.8).
type StepResult struct {
	Output           string
	ArtifactID       string
	ImageURLs        []string
	ImageArtifactIDs []string
	Usage            model.Usage
	DurationMS       int64
	Success          bool
	Error            string
}

// HandlerInput bundles everything a step handler needs: the step being
// executed, its position, the full step DAG (for dependency-index lookups),
// the job/submission it belongs to, the C4-built context, and every
// execution-step record produced so far.
type HandlerInput struct {
	Step            model.Step
	StepIndex       int
	Steps           []model.Step
	Job             model.Job
	Submission      model.Submission
	Context         contextbuilder.Result
	UpstreamRecords []model.ExecutionStepRecord
}

// Handler is the shared contract every step handler implements (§4.8).
type Handler interface {
	Execute(ctx context.Context, in HandlerInput) (StepResult, error)
}

// contextText picks the text fed to the model for a step: the accumulated
// previous-steps context, which for step 0 already reduces to the initial
// form-submission context (§4.4 Build).
func contextText(in HandlerInput) string {
	return in.Context.PreviousContext
}

// outputExtension sniffs a generated text output's content to choose its
// artifact file extension (§4.8): a document that starts with "<" is
// treated as HTML, everything else as Markdown.
func outputExtension(output string) string {
	if strings.HasPrefix(strings.TrimSpace(output), "<") {
		return ".html"
	}
	return ".md"
}

// resolveArtifactIDsByURL recovers the artifact IDs backing a set of
// already-stored object URLs by listing the job's artifacts and matching on
// ObjectURL — needed because artifactstore.Store.StoreBase64Image (used by
// the tool loops, which only need a URL to hand back to the model) returns
// a URL, not an artifact ID, but step_result.image_artifact_ids needs the
// latter too (§4.8).
func resolveArtifactIDsByURL(ctx context.Context, kv capability.KVStore, tenantID, jobID string, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	artifacts, err := kv.ListArtifactsByJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	byURL := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		byURL[a.ObjectURL] = a.ArtifactID
	}
	ids := make([]string, 0, len(urls))
	for _, u := range urls {
		if id, ok := byURL[u]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
