package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// finalWebhookPayload is the final-delivery webhook request body (§6
// "Final-delivery webhook request": the step-webhook shape plus output_url
// and completed_at).
type finalWebhookPayload struct {
	OutputURL      string         `json:"output_url"`
	CompletedAt    time.Time      `json:"completed_at"`
	JobID          string         `json:"job_id"`
	SubmissionData map[string]any `json:"submission_data,omitempty"`
	Artifacts      []finalArtifact `json:"artifacts,omitempty"`
}

type finalArtifact struct {
	ArtifactID   string `json:"artifact_id"`
	ArtifactType string `json:"artifact_type"`
	ArtifactName string `json:"artifact_name"`
	PublicURL    string `json:"public_url"`
	ObjectURL    string `json:"object_url"`
	S3Key        string `json:"s3_key"`
	S3URL        string `json:"s3_url"`
}

// dispatch delivers the produced deliverable by workflow.DeliveryMethod
// (§4.10). It never returns an error for a delivery-channel failure — those
// are recorded on job as a note, per the at-most-once delivery contract
// ("delivery-channel failures are recorded but do not retroactively
// invalidate the deliverable").
func (f *Finalizer) dispatch(ctx context.Context, job *model.Job, workflow model.Workflow, submission model.Submission, outputURL string) {
	switch workflow.DeliveryMethod {
	case model.DeliveryMethodEmail:
		f.dispatchEmail(ctx, job, submission, outputURL)
	case model.DeliveryMethodWebhook:
		f.dispatchWebhook(ctx, job, workflow, submission, outputURL)
	case model.DeliveryMethodNone:
		// record only; nothing to send.
	default:
		// Unknown delivery methods are treated like "none" rather than
		// failing the job; the deliverable itself was already produced.
	}
}

func (f *Finalizer) dispatchEmail(ctx context.Context, job *model.Job, submission model.Submission, outputURL string) {
	if f.Email == nil || submission.SubmitterEmail == "" {
		job.ErrorMessage = "delivery skipped: no submitter email on file"
		job.ErrorType = "delivery_skipped"
		return
	}

	msg := capability.EmailMessage{
		To:       submission.SubmitterEmail,
		Subject:  "Your deliverable is ready",
		HTMLBody: fmt.Sprintf(`<p>Your deliverable is ready: <a href="%s">%s</a></p>`, outputURL, outputURL),
		TextBody: fmt.Sprintf("Your deliverable is ready: %s", outputURL),
	}
	if err := f.Email.Send(ctx, msg); err != nil {
		job.ErrorMessage = fmt.Sprintf("delivery-error: email send failed: %v", err)
		job.ErrorType = "delivery_dispatch_error"
	}
}

func (f *Finalizer) dispatchWebhook(ctx context.Context, job *model.Job, workflow model.Workflow, submission model.Submission, outputURL string) {
	payload := finalWebhookPayload{
		OutputURL:      outputURL,
		CompletedAt:    f.Clock.Now(),
		JobID:          job.JobID,
		SubmissionData: submission.SubmissionData,
	}

	artifacts, err := f.KV.ListArtifactsByJob(ctx, job.TenantID, job.JobID)
	if err == nil {
		sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt) })
		for _, a := range artifacts {
			payload.Artifacts = append(payload.Artifacts, finalArtifact{
				ArtifactID: a.ArtifactID, ArtifactType: string(a.ArtifactType), ArtifactName: a.FileName,
				PublicURL: a.ObjectURL, ObjectURL: a.ObjectURL, S3Key: a.ObjectKey, S3URL: a.ObjectURL,
			})
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		job.ErrorMessage = fmt.Sprintf("delivery-error: encode webhook payload: %v", err)
		job.ErrorType = "delivery_dispatch_error"
		return
	}

	maxAttempts := f.maxWebhookRetries()
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		status, respBody, err := f.HTTP.Do(ctx, "POST", workflow.DeliveryWebhookURL, workflow.DeliveryWebhookHeaders, body)
		if err == nil && status >= 200 && status < 300 {
			return
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d: %s", status, truncateBody(respBody, 2000))
		}
		if attempt < maxAttempts-1 {
			f.sleep(llmadapter.BackoffDelay(llmadapter.DefaultRetryPolicy, attempt))
		}
	}

	job.ErrorMessage = fmt.Sprintf("delivery-error: webhook delivery failed after %d attempts: %v", maxAttempts, lastErr)
	job.ErrorType = "delivery_dispatch_error"
}

func (f *Finalizer) maxWebhookRetries() int {
	if f.WebhookMaxRetries > 0 {
		return f.WebhookMaxRetries
	}
	return 3
}

func (f *Finalizer) sleep(d time.Duration) {
	if f.Sleep != nil {
		f.Sleep(d)
		return
	}
	time.Sleep(d)
}

func truncateBody(b []byte, max int) string {
	s := string(b)
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
