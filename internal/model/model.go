// Package model defines the persisted data shapes of the Job Processing
// Engine: jobs, workflows, submissions, forms, execution-step records, and
// artifacts. These types are pure values — no behavior, no capability
// dependencies — so that every other package can depend on them without
// pulling in I/O concerns.
package model

import (
	"encoding/json"
	"time"
)

type (
	// JobStatus is the lifecycle state of a Job. It advances monotonically
	// pending -> processing -> {completed, failed}, except that a single-step
	// rerun may transition {completed, failed} -> processing for the rerun
	// window (see the Job Processor, §4.11).
	JobStatus string

	// StepType identifies the kind of work a Step performs.
	StepType string

	// ToolChoice constrains which tools the model may invoke for a step.
	ToolChoice string

	// DeliveryMethod identifies how the final deliverable reaches the
	// submitter.
	DeliveryMethod string

	// ArtifactType classifies the content an Artifact holds.
	ArtifactType string

	// ExecutionStatus is the terminal outcome of one Execution-Step Record.
	ExecutionStatus string
)

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"

	StepTypeAIGeneration StepType = "ai_generation"
	StepTypeWebhook      StepType = "webhook"

	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"

	DeliveryMethodEmail   DeliveryMethod = "email"
	DeliveryMethodWebhook DeliveryMethod = "webhook"
	DeliveryMethodNone    DeliveryMethod = "none"

	ArtifactTypeStepOutput        ArtifactType = "step_output"
	ArtifactTypeHTMLFinal         ArtifactType = "html_final"
	ArtifactTypeMarkdownFinal     ArtifactType = "markdown_final"
	ArtifactTypePDFFinal          ArtifactType = "pdf_final"
	ArtifactTypeImage             ArtifactType = "image"
	ArtifactTypeExecutionStepBlob ArtifactType = "execution_steps_blob"

	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

type (
	// Job is the primary scheduling unit: one execution of a Workflow against
	// one Submission for one tenant.
	Job struct {
		JobID        string    `json:"job_id" bson:"job_id"`
		TenantID     string    `json:"tenant_id" bson:"tenant_id"`
		WorkflowID   string    `json:"workflow_id" bson:"workflow_id"`
		SubmissionID string    `json:"submission_id" bson:"submission_id"`
		Status       JobStatus `json:"status" bson:"status"`
		ErrorMessage string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
		ErrorType    string    `json:"error_type,omitempty" bson:"error_type,omitempty"`
		CreatedAt    time.Time `json:"created_at" bson:"created_at"`
		UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`

		// ExecutionSteps is the ordered sequence of Execution-Step Records. When
		// the encoded sequence exceeds the spill threshold (§4.3), the slice is
		// empty and ExecutionStepsObjectKey names the spilled blob instead.
		ExecutionSteps []ExecutionStepRecord `json:"execution_steps,omitempty" bson:"execution_steps,omitempty"`

		// ExecutionStepsObjectKey ("execution_steps_s3_key" on the wire, name
		// retained for backward compatibility per §6) points at the spilled
		// execution_steps_blob artifact's object key when set.
		ExecutionStepsObjectKey string `json:"execution_steps_s3_key,omitempty" bson:"execution_steps_s3_key,omitempty"`

		// Artifacts is the set of artifact IDs produced by this job.
		Artifacts []string `json:"artifacts,omitempty" bson:"artifacts,omitempty"`

		// OutputURL is the URL of the final deliverable artifact, set only when
		// Status is completed or immediately after a successful finalize.
		OutputURL string `json:"output_url,omitempty" bson:"output_url,omitempty"`

		// Version backs compare-and-set writes (§5): every KVStore write must
		// supply the Version it read and the store rejects stale writes.
		Version int64 `json:"version" bson:"version"`
	}

	// Step is one node in a Workflow's step DAG.
	Step struct {
		StepOrder   int        `json:"step_order" bson:"step_order"`
		StepName    string     `json:"step_name" bson:"step_name"`
		StepType    StepType   `json:"step_type" bson:"step_type"`
		Model       string     `json:"model,omitempty" bson:"model,omitempty"`
		Instructions string    `json:"instructions,omitempty" bson:"instructions,omitempty"`
		Tools       []ToolSpec `json:"tools,omitempty" bson:"tools,omitempty"`
		ToolChoice  ToolChoice `json:"tool_choice,omitempty" bson:"tool_choice,omitempty"`

		// DependsOn lists the (0-based) indices of steps that must have
		// completed before this step becomes ready. A nil/empty slice means
		// "all steps with step_order < this step's step_order" (§4.5).
		DependsOn []int `json:"depends_on,omitempty" bson:"depends_on,omitempty"`

		IsDeliverable bool `json:"is_deliverable,omitempty" bson:"is_deliverable,omitempty"`

		// Webhook-specific fields, populated only when StepType == StepTypeWebhook.
		WebhookURL            string              `json:"webhook_url,omitempty" bson:"webhook_url,omitempty"`
		WebhookHeaders        map[string]string   `json:"webhook_headers,omitempty" bson:"webhook_headers,omitempty"`
		WebhookDataSelection  WebhookDataSelection `json:"webhook_data_selection,omitempty" bson:"webhook_data_selection,omitempty"`

		OutputConfig map[string]any `json:"output_config,omitempty" bson:"output_config,omitempty"`
	}

	// WebhookDataSelection controls what a webhook step's outbound payload
	// includes (§4.8, §6).
	WebhookDataSelection struct {
		IncludeSubmission   bool  `json:"include_submission" bson:"include_submission"`
		IncludeJobInfo      bool  `json:"include_job_info" bson:"include_job_info"`
		ExcludeStepIndices  []int `json:"exclude_step_indices,omitempty" bson:"exclude_step_indices,omitempty"`
	}

	// ToolSpec is a tagged sum type over concrete tool shapes (§9: dynamic
	// kwargs are replaced by explicit tagged variants). Exactly the fields
	// relevant to Type are populated; others are zero.
	ToolSpec struct {
		Type ToolType `json:"type" bson:"type"`

		// Container is required by code_interpreter and computer_use_preview
		// (§4.6). Defaulted to {Type: "auto"} by the LLM Adapter when missing.
		Container *ContainerSpec `json:"container,omitempty" bson:"container,omitempty"`

		// MCP fields, populated only when Type is "mcp".
		ServerLabel string `json:"server_label,omitempty" bson:"server_label,omitempty"`
		ServerURL   string `json:"server_url,omitempty" bson:"server_url,omitempty"`

		// ImagePlan fields, populated only when Type is "image_generation".
		PlannerModel string `json:"planner_model,omitempty" bson:"planner_model,omitempty"`
		ImageModel   string `json:"image_model,omitempty" bson:"image_model,omitempty"`
		ImageSize    string `json:"image_size,omitempty" bson:"image_size,omitempty"`
	}

	// ContainerSpec is the container parameter required by some provider
	// tools (§4.6).
	ContainerSpec struct {
		Type string `json:"type" bson:"type"`
	}

	// ToolType enumerates the sum type over tool shapes (§9).
	ToolType string

	// Workflow is the read-only, statically authored step DAG plus delivery
	// configuration. The engine only reads workflows.
	Workflow struct {
		WorkflowID             string  `json:"workflow_id" bson:"workflow_id"`
		TenantID                string  `json:"tenant_id" bson:"tenant_id"`
		Steps                   []Step  `json:"steps" bson:"steps"`
		TemplateID              string  `json:"template_id,omitempty" bson:"template_id,omitempty"`
		TemplateVersion         int     `json:"template_version,omitempty" bson:"template_version,omitempty"`
		DeliveryMethod          DeliveryMethod `json:"delivery_method" bson:"delivery_method"`
		DeliveryWebhookURL      string  `json:"delivery_webhook_url,omitempty" bson:"delivery_webhook_url,omitempty"`
		DeliveryWebhookHeaders  map[string]string `json:"delivery_webhook_headers,omitempty" bson:"delivery_webhook_headers,omitempty"`
	}

	// Submission is the submitter-provided field data the workflow processes.
	Submission struct {
		SubmissionID   string         `json:"submission_id" bson:"submission_id"`
		TenantID       string         `json:"tenant_id" bson:"tenant_id"`
		FormID         string         `json:"form_id" bson:"form_id"`
		WorkflowID     string         `json:"workflow_id" bson:"workflow_id"`
		SubmissionData map[string]any `json:"submission_data" bson:"submission_data"`
		SubmitterEmail string         `json:"submitter_email,omitempty" bson:"submitter_email,omitempty"`
		SubmitterName  string         `json:"submitter_name,omitempty" bson:"submitter_name,omitempty"`
	}

	// Form maps field IDs to human-readable labels, used by the Context
	// Builder to render submission data (§4.4). Nil is valid: the field ID
	// itself is then used as the label.
	Form struct {
		FormID     string            `json:"form_id" bson:"form_id"`
		TenantID   string            `json:"tenant_id" bson:"tenant_id"`
		FieldLabels map[string]string `json:"field_labels" bson:"field_labels"`
	}

	// ExecutionStepRecord is the audit/state entry for one step of one job.
	// For a given (StepOrder, StepType), at most one record exists; rerun
	// replaces it in place (§3, §8).
	ExecutionStepRecord struct {
		StepOrder int      `json:"step_order" bson:"step_order"`
		StepName  string   `json:"step_name" bson:"step_name"`
		StepType  StepType `json:"step_type" bson:"step_type"`
		StepModel string   `json:"step_model,omitempty" bson:"step_model,omitempty"`

		// Input is the shaped request sent for this step (model, instructions,
		// tools, tool_choice, plus the raw provider request for audit).
		Input json.RawMessage `json:"input,omitempty" bson:"input,omitempty"`

		// Output is the primary textual output produced by the step.
		Output string `json:"output" bson:"output"`

		// ResponseDetails is the parsed structured response: extracted image
		// URLs, raw provider response, etc.
		ResponseDetails json.RawMessage `json:"response_details,omitempty" bson:"response_details,omitempty"`

		Usage Usage `json:"usage" bson:"usage"`

		ArtifactID string `json:"artifact_id,omitempty" bson:"artifact_id,omitempty"`

		// ImageURLs is ordered and unique: images produced or carried by this
		// step.
		ImageURLs []string `json:"image_urls,omitempty" bson:"image_urls,omitempty"`

		Status ExecutionStatus `json:"status" bson:"status"`
		Error  string          `json:"error,omitempty" bson:"error,omitempty"`

		StartedAt  time.Time `json:"started_at" bson:"started_at"`
		DurationMS int64     `json:"duration_ms" bson:"duration_ms"`
	}

	// Usage captures token/cost accounting for one provider call.
	Usage struct {
		InputTokens  int64   `json:"input_tokens,omitempty" bson:"input_tokens,omitempty"`
		OutputTokens int64   `json:"output_tokens,omitempty" bson:"output_tokens,omitempty"`
		ImageCount   int     `json:"image_count,omitempty" bson:"image_count,omitempty"`
		CostEstimate float64 `json:"cost_estimate,omitempty" bson:"cost_estimate,omitempty"`
		ServiceTier  string  `json:"service_tier,omitempty" bson:"service_tier,omitempty"`
	}

	// Artifact is a durably stored byte sequence with a stable, content-addressed
	// object key and a public URL.
	Artifact struct {
		ArtifactID  string       `json:"artifact_id" bson:"artifact_id"`
		TenantID    string       `json:"tenant_id" bson:"tenant_id"`
		JobID       string       `json:"job_id" bson:"job_id"`
		ArtifactType ArtifactType `json:"artifact_type" bson:"artifact_type"`
		FileName    string       `json:"file_name" bson:"file_name"`
		MimeType    string       `json:"mime_type" bson:"mime_type"`
		ObjectKey   string       `json:"object_key" bson:"object_key"`
		ObjectURL   string       `json:"object_url" bson:"object_url"`
		SizeBytes   int64        `json:"size_bytes" bson:"size_bytes"`
		CreatedAt   time.Time    `json:"created_at" bson:"created_at"`
	}

	// Template is a read-only design reference the Delivery Finalizer uses
	// as a strict style guide when re-rendering the final deliverable
	// (§4.10), identified by a workflow's template_id/template_version.
	// Authoring and storage of templates are out of scope (§1); the engine
	// only reads them.
	Template struct {
		TemplateID string `json:"template_id" bson:"template_id"`
		TenantID   string `json:"tenant_id" bson:"tenant_id"`
		Version    int    `json:"version" bson:"version"`
		HTML       string `json:"html" bson:"html"`
		StyleGuide string `json:"style_guide,omitempty" bson:"style_guide,omitempty"`
	}
)

// Completed reports whether the record represents a successful step
// execution.
func (r ExecutionStepRecord) Completed() bool {
	return r.Status == ExecutionStatusSucceeded
}

// Key identifies a record by the (StepOrder, StepType) uniqueness invariant
// (§3, §8).
func (r ExecutionStepRecord) Key() StepKey {
	return StepKey{StepOrder: r.StepOrder, StepType: r.StepType}
}

// StepKey is the uniqueness key for an Execution-Step Record.
type StepKey struct {
	StepOrder int
	StepType  StepType
}
