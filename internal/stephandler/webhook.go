package stephandler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/contextbuilder"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// WebhookHandler implements the webhook step handler (§4.8): it builds a
// JSON payload from the submission, the job's dependency-step outputs, and
// every artifact produced so far, then POSTs it to the step's configured
// URL. A non-2xx response fails the step.
type WebhookHandler struct {
	HTTP  capability.HTTPClient
	KV    capability.KVStore
	Clock capability.Clock
}

func (h *WebhookHandler) Execute(ctx context.Context, in HandlerInput) (StepResult, error) {
	started := h.Clock.Now()

	payload, err := h.buildPayload(ctx, in)
	if err != nil {
		return StepResult{DurationMS: h.elapsed(started), Success: false, Error: fmt.Sprintf("build webhook payload: %v", err)}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return StepResult{DurationMS: h.elapsed(started), Success: false, Error: fmt.Sprintf("encode webhook payload: %v", err)}, nil
	}

	status, respBody, err := h.HTTP.Do(ctx, "POST", in.Step.WebhookURL, in.Step.WebhookHeaders, body)
	if err != nil {
		return StepResult{DurationMS: h.elapsed(started), Success: false, Error: fmt.Sprintf("webhook request: %v", err)}, nil
	}
	if status < 200 || status >= 300 {
		return StepResult{DurationMS: h.elapsed(started), Success: false, Error: fmt.Sprintf("webhook returned status %d: %s", status, truncate(string(respBody), 2000))}, nil
	}

	return StepResult{
		Output:     string(body),
		DurationMS: h.elapsed(started),
		Success:    true,
	}, nil
}

func (h *WebhookHandler) elapsed(since time.Time) int64 {
	return h.Clock.Now().Sub(since).Milliseconds()
}

// webhookPayload is the JSON shape POSTed to a webhook step's URL, matching
// the wire contract's literal field names and nesting (§6 "Webhook step
// request").
type webhookPayload struct {
	SubmissionData map[string]any            `json:"submission_data,omitempty"`
	StepOutputs    map[string]webhookStepOut `json:"step_outputs,omitempty"`
	JobInfo        *webhookJobInfo           `json:"job_info,omitempty"`
	Context        string                    `json:"context"`
	Artifacts      []webhookArtifact         `json:"artifacts,omitempty"`
	Images         []string                  `json:"images,omitempty"`
	HTMLFiles      []string                  `json:"html_files,omitempty"`
	MarkdownFiles  []string                  `json:"markdown_files,omitempty"`
	PDFFiles       []string                  `json:"pdf_files,omitempty"`
}

type webhookStepOut struct {
	StepName   string   `json:"step_name"`
	StepIndex  int      `json:"step_index"`
	Output     string   `json:"output"`
	ArtifactID string   `json:"artifact_id,omitempty"`
	ImageURLs  []string `json:"image_urls"`
}

type webhookJobInfo struct {
	JobID      string    `json:"job_id"`
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// webhookArtifact mirrors §6's artifact fields; this module tracks a single
// durable object_url per artifact (artifactstore.Store, §4.2) rather than
// separate bucket/CDN URLs, so public_url, object_url, and s3_url all carry
// that same value.
type webhookArtifact struct {
	ArtifactID    string    `json:"artifact_id"`
	ArtifactType  string    `json:"artifact_type"`
	ArtifactName  string    `json:"artifact_name"`
	PublicURL     string    `json:"public_url"`
	ObjectURL     string    `json:"object_url"`
	S3Key         string    `json:"s3_key"`
	S3URL         string    `json:"s3_url"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	MimeType      string    `json:"mime_type"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *WebhookHandler) buildPayload(ctx context.Context, in HandlerInput) (webhookPayload, error) {
	sel := in.Step.WebhookDataSelection
	payload := webhookPayload{Context: in.Context.PreviousContext}

	if sel.IncludeSubmission {
		payload.SubmissionData = in.Submission.SubmissionData
	}

	excluded := make(map[int]bool, len(sel.ExcludeStepIndices))
	for _, idx := range sel.ExcludeStepIndices {
		excluded[idx] = true
	}
	deps := contextbuilder.DependencyIndices(in.Steps, in.StepIndex)
	outputs := make(map[string]webhookStepOut, len(deps))
	for _, dep := range deps {
		if excluded[dep] {
			continue
		}
		step := in.Steps[dep]
		record, ok := findRecordByOrder(in.UpstreamRecords, step.StepOrder, step.StepType)
		if !ok {
			continue
		}
		outputs[fmt.Sprintf("step_%d", dep)] = webhookStepOut{
			StepName:   step.StepName,
			StepIndex:  dep,
			Output:     record.Output,
			ArtifactID: record.ArtifactID,
			ImageURLs:  record.ImageURLs,
		}
	}
	if len(outputs) > 0 {
		payload.StepOutputs = outputs
	}

	if sel.IncludeJobInfo {
		payload.JobInfo = &webhookJobInfo{
			JobID:      in.Job.JobID,
			WorkflowID: in.Job.WorkflowID,
			Status:     string(in.Job.Status),
			CreatedAt:  in.Job.CreatedAt,
			UpdatedAt:  in.Job.UpdatedAt,
		}
	}

	artifacts, err := h.KV.ListArtifactsByJob(ctx, in.Job.TenantID, in.Job.JobID)
	if err != nil {
		return webhookPayload{}, err
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt) })

	for _, a := range artifacts {
		payload.Artifacts = append(payload.Artifacts, webhookArtifact{
			ArtifactID:    a.ArtifactID,
			ArtifactType:  string(a.ArtifactType),
			ArtifactName:  a.FileName,
			PublicURL:     a.ObjectURL,
			ObjectURL:     a.ObjectURL,
			S3Key:         a.ObjectKey,
			S3URL:         a.ObjectURL,
			FileSizeBytes: a.SizeBytes,
			MimeType:      a.MimeType,
			CreatedAt:     a.CreatedAt,
		})
		switch a.ArtifactType {
		case model.ArtifactTypeImage:
			payload.Images = append(payload.Images, a.ObjectURL)
		case model.ArtifactTypeHTMLFinal:
			payload.HTMLFiles = append(payload.HTMLFiles, a.ObjectURL)
		case model.ArtifactTypeMarkdownFinal:
			payload.MarkdownFiles = append(payload.MarkdownFiles, a.ObjectURL)
		case model.ArtifactTypePDFFinal:
			payload.PDFFiles = append(payload.PDFFiles, a.ObjectURL)
		}
	}

	return payload, nil
}

func findRecordByOrder(records []model.ExecutionStepRecord, stepOrder int, stepType model.StepType) (model.ExecutionStepRecord, bool) {
	for _, r := range records {
		if r.StepOrder == stepOrder && r.StepType == stepType && r.Completed() {
			return r, true
		}
	}
	return model.ExecutionStepRecord{}, false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
