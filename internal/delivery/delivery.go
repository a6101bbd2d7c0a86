// Package delivery implements C10: selecting the final deliverable's
// source text, optionally re-rendering it against a configured template,
// injecting the tracking script, storing the result as the job's terminal
// artifact, and dispatching it to the configured delivery channel,
// grounded on original_source/backend/worker/services/workflow_orchestrator.py
// (_generate_final_content), html_generator.py, and
// tracking_script_generator.py (§4.10).
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/artifactstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// Finalizer implements orchestrator.Finalizer. It mutates job in place
// (OutputURL, and an ErrorMessage/ErrorType delivery-error note on a
// dispatch failure) rather than writing it back to the KVStore itself —
// persisting the terminal Job record is the Job Processor's job (C11),
// which also owns setting Status to completed/failed.
type Finalizer struct {
	KV      capability.KVStore
	Store   *artifactstore.Store
	Adapter *llmadapter.Adapter
	HTTP    capability.HTTPClient
	Email   capability.EmailSender
	Clock   capability.Clock

	// APIURL seeds the injected tracking script's event endpoint (§6).
	APIURL string
	// TemplateRenderModel is the model used for the template-fidelity
	// re-render call (§4.10); defaults to "gpt-5.2" when empty.
	TemplateRenderModel string
	// WebhookMaxRetries bounds the final-delivery webhook retry loop;
	// defaults to 3 when zero.
	WebhookMaxRetries int
	// Sleep overrides the retry backoff sleep function, for deterministic
	// tests; defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Finalize produces and delivers the job's final deliverable. It returns an
// error only when the deliverable itself could not be produced (template
// load failure, re-render failure, artifact store failure); a failed
// delivery dispatch is instead recorded on job and Finalize returns nil,
// matching §4.10's failure-isolation rule.
func (f *Finalizer) Finalize(ctx context.Context, job *model.Job, workflow model.Workflow, submission model.Submission, form model.Form, steps []model.Step, records []model.ExecutionStepRecord) error {
	source := deliverableSource(steps, records, submission, form)

	content := source
	artifactType := model.ArtifactTypeMarkdownFinal
	filename := "final.md"

	switch {
	case workflow.TemplateID != "":
		tmpl, err := f.KV.GetTemplate(ctx, job.TenantID, workflow.TemplateID, workflow.TemplateVersion)
		if err != nil {
			return fmt.Errorf("delivery: load template %s: %w", workflow.TemplateID, err)
		}
		rendered, err := renderWithTemplate(ctx, f.Adapter, job.TenantID, job.JobID, f.renderModel(), tmpl, source, submission)
		if err != nil {
			return fmt.Errorf("delivery: %w", err)
		}
		content = rendered
		artifactType = model.ArtifactTypeHTMLFinal
		filename = "final.html"

	case looksLikeHTML(source):
		artifactType = model.ArtifactTypeHTMLFinal
		filename = "final.html"
	}

	if artifactType == model.ArtifactTypeHTMLFinal {
		script := GenerateTrackingScript(job.JobID, job.TenantID, f.APIURL)
		content = InjectBeforeBodyClose(content, script)
	}

	artifactID, err := f.Store.Store(ctx, job.TenantID, job.JobID, artifactType, []byte(content), filename)
	if err != nil {
		return fmt.Errorf("delivery: store final deliverable: %w", err)
	}
	outputURL, err := f.Store.GetURL(ctx, job.TenantID, artifactID)
	if err != nil {
		return fmt.Errorf("delivery: resolve deliverable url: %w", err)
	}

	job.OutputURL = outputURL

	f.dispatch(ctx, job, workflow, submission, outputURL)
	return nil
}

func (f *Finalizer) renderModel() string {
	if f.TemplateRenderModel != "" {
		return f.TemplateRenderModel
	}
	return "gpt-5.2"
}

func looksLikeHTML(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "<")
}
