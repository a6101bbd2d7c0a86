package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grandcanyonsmith/leadengine/internal/artifactstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/capability/browser"
	"github.com/grandcanyonsmith/leadengine/internal/capability/clock"
	"github.com/grandcanyonsmith/leadengine/internal/capability/httpclient"
	"github.com/grandcanyonsmith/leadengine/internal/capability/idgen"
	"github.com/grandcanyonsmith/leadengine/internal/config"
	"github.com/grandcanyonsmith/leadengine/internal/delivery"
	"github.com/grandcanyonsmith/leadengine/internal/jobprocessor"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter/openai"
	"github.com/grandcanyonsmith/leadengine/internal/model"
	"github.com/grandcanyonsmith/leadengine/internal/orchestrator"
	"github.com/grandcanyonsmith/leadengine/internal/stephandler"
	"github.com/grandcanyonsmith/leadengine/internal/steprecorder"
)

// fixtureDocument is the YAML shape WORKER_FIXTURE_PATH points at: one job,
// its workflow, submission, and form, plus any templates a delivery step's
// re-render needs — enough to run the Job Processor against a laptop with
// no Mongo, Redis, or AWS credentials configured.
type fixtureDocument struct {
	Job        fixtureJob        `yaml:"job"`
	Workflow   fixtureWorkflow   `yaml:"workflow"`
	Submission fixtureSubmission `yaml:"submission"`
	Form       fixtureForm       `yaml:"form"`
	Templates  []fixtureTemplate `yaml:"templates"`

	// StubLLM, when true, routes every model ID to an in-memory provider
	// that echoes the step's instructions back as output instead of calling
	// a real backend — for exercising the orchestrator/context-builder/
	// step-recorder wiring with no network access at all.
	StubLLM bool `yaml:"stub_llm"`
}

type fixtureJob struct {
	JobID        string `yaml:"job_id"`
	TenantID     string `yaml:"tenant_id"`
	WorkflowID   string `yaml:"workflow_id"`
	SubmissionID string `yaml:"submission_id"`
}

type fixtureWorkflow struct {
	WorkflowID     string         `yaml:"workflow_id"`
	TemplateID     string         `yaml:"template_id"`
	TemplateVersion int           `yaml:"template_version"`
	DeliveryMethod string         `yaml:"delivery_method"`
	Steps          []fixtureStep  `yaml:"steps"`
}

type fixtureStep struct {
	StepOrder     int      `yaml:"step_order"`
	StepName      string   `yaml:"step_name"`
	StepType      string   `yaml:"step_type"`
	Model         string   `yaml:"model"`
	Instructions  string   `yaml:"instructions"`
	ToolTypes     []string `yaml:"tools"`
	DependsOn     []int    `yaml:"depends_on"`
	IsDeliverable bool     `yaml:"is_deliverable"`
	WebhookURL    string   `yaml:"webhook_url"`
}

type fixtureSubmission struct {
	SubmissionID   string         `yaml:"submission_id"`
	FormID         string         `yaml:"form_id"`
	SubmitterEmail string         `yaml:"submitter_email"`
	Data           map[string]any `yaml:"data"`
}

type fixtureForm struct {
	FormID      string            `yaml:"form_id"`
	FieldLabels map[string]string `yaml:"field_labels"`
}

type fixtureTemplate struct {
	TemplateID string `yaml:"template_id"`
	Version    int    `yaml:"version"`
	HTML       string `yaml:"html"`
	StyleGuide string `yaml:"style_guide"`
}

// loadFixture reads and decodes a fixtureDocument from path.
func loadFixture(path string) (*fixtureDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var doc fixtureDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	if doc.Job.JobID == "" {
		return nil, fmt.Errorf("fixture %s: job.job_id is required", path)
	}
	return &doc, nil
}

// toModel materializes the fixture's job/workflow/submission/form into the
// model types a memoryKV seeds, converting each fixtureStep's bare tool-type
// list into minimal model.ToolSpec values.
func (d *fixtureDocument) toModel() (model.Job, model.Workflow, model.Submission, model.Form, []model.Template) {
	job := model.Job{
		JobID:        d.Job.JobID,
		TenantID:     d.Job.TenantID,
		WorkflowID:   d.Job.WorkflowID,
		SubmissionID: d.Job.SubmissionID,
		Status:       model.JobStatusPending,
	}

	steps := make([]model.Step, 0, len(d.Workflow.Steps))
	for _, s := range d.Workflow.Steps {
		tools := make([]model.ToolSpec, 0, len(s.ToolTypes))
		for _, tt := range s.ToolTypes {
			tools = append(tools, model.ToolSpec{Type: model.ToolType(tt)})
		}
		steps = append(steps, model.Step{
			StepOrder:     s.StepOrder,
			StepName:      s.StepName,
			StepType:      model.StepType(s.StepType),
			Model:         s.Model,
			Instructions:  s.Instructions,
			Tools:         tools,
			DependsOn:     s.DependsOn,
			IsDeliverable: s.IsDeliverable,
			WebhookURL:    s.WebhookURL,
		})
	}
	workflow := model.Workflow{
		WorkflowID:      d.Workflow.WorkflowID,
		TenantID:        d.Job.TenantID,
		Steps:           steps,
		TemplateID:      d.Workflow.TemplateID,
		TemplateVersion: d.Workflow.TemplateVersion,
		DeliveryMethod:  model.DeliveryMethod(d.Workflow.DeliveryMethod),
	}

	submission := model.Submission{
		SubmissionID:   d.Submission.SubmissionID,
		TenantID:       d.Job.TenantID,
		FormID:         d.Submission.FormID,
		WorkflowID:     d.Workflow.WorkflowID,
		SubmissionData: d.Submission.Data,
		SubmitterEmail: d.Submission.SubmitterEmail,
	}

	form := model.Form{FormID: d.Form.FormID, TenantID: d.Job.TenantID, FieldLabels: d.Form.FieldLabels}

	templates := make([]model.Template, 0, len(d.Templates))
	for _, tpl := range d.Templates {
		templates = append(templates, model.Template{
			TemplateID: tpl.TemplateID,
			TenantID:   d.Job.TenantID,
			Version:    tpl.Version,
			HTML:       tpl.HTML,
			StyleGuide: tpl.StyleGuide,
		})
	}

	return job, workflow, submission, form, templates
}

// memoryKV implements capability.KVStore entirely in memory, seeded once
// from a fixtureDocument, for the local fixture run mode.
type memoryKV struct {
	jobs        map[string]model.Job
	workflows   map[string]model.Workflow
	submissions map[string]model.Submission
	forms       map[string]model.Form
	templates   map[string]model.Template
	artifacts   map[string]model.Artifact
	byJob       []model.Artifact
}

func newMemoryKV(job model.Job, workflow model.Workflow, submission model.Submission, form model.Form, templates []model.Template) *memoryKV {
	kv := &memoryKV{
		jobs:        map[string]model.Job{job.JobID: job},
		workflows:   map[string]model.Workflow{workflow.WorkflowID: workflow},
		submissions: map[string]model.Submission{submission.SubmissionID: submission},
		forms:       map[string]model.Form{form.FormID: form},
		templates:   make(map[string]model.Template, len(templates)),
		artifacts:   make(map[string]model.Artifact),
	}
	for _, tpl := range templates {
		kv.templates[fmt.Sprintf("%s/%d", tpl.TemplateID, tpl.Version)] = tpl
	}
	return kv
}

var _ capability.KVStore = (*memoryKV)(nil)

func (kv *memoryKV) GetJob(_ context.Context, _, jobID string) (model.Job, error) {
	j, ok := kv.jobs[jobID]
	if !ok {
		return model.Job{}, capability.ErrNotFound
	}
	return j, nil
}

func (kv *memoryKV) GetJobByID(ctx context.Context, jobID string) (model.Job, error) {
	return kv.GetJob(ctx, "", jobID)
}

func (kv *memoryKV) PutJob(_ context.Context, job model.Job) error {
	existing, ok := kv.jobs[job.JobID]
	if !ok {
		if job.Version != 0 {
			return capability.ErrVersionConflict
		}
		job.Version = 1
		kv.jobs[job.JobID] = job
		return nil
	}
	if job.Version != existing.Version {
		return capability.ErrVersionConflict
	}
	job.Version++
	kv.jobs[job.JobID] = job
	return nil
}

func (kv *memoryKV) GetWorkflow(_ context.Context, _, workflowID string) (model.Workflow, error) {
	w, ok := kv.workflows[workflowID]
	if !ok {
		return model.Workflow{}, capability.ErrNotFound
	}
	return w, nil
}

func (kv *memoryKV) GetSubmission(_ context.Context, _, submissionID string) (model.Submission, error) {
	s, ok := kv.submissions[submissionID]
	if !ok {
		return model.Submission{}, capability.ErrNotFound
	}
	return s, nil
}

func (kv *memoryKV) GetForm(_ context.Context, _, formID string) (model.Form, error) {
	return kv.forms[formID], nil
}

func (kv *memoryKV) GetTemplate(_ context.Context, _, templateID string, version int) (model.Template, error) {
	tpl, ok := kv.templates[fmt.Sprintf("%s/%d", templateID, version)]
	if !ok {
		return model.Template{}, capability.ErrNotFound
	}
	return tpl, nil
}

func (kv *memoryKV) PutArtifact(_ context.Context, a model.Artifact) error {
	kv.artifacts[a.ArtifactID] = a
	kv.byJob = append(kv.byJob, a)
	return nil
}

func (kv *memoryKV) GetArtifact(_ context.Context, _, artifactID string) (model.Artifact, error) {
	a, ok := kv.artifacts[artifactID]
	if !ok {
		return model.Artifact{}, capability.ErrNotFound
	}
	return a, nil
}

func (kv *memoryKV) ListArtifactsByJob(context.Context, string, string) ([]model.Artifact, error) {
	return kv.byJob, nil
}

// memoryObjects implements capability.ObjectStore in a process-local map;
// URLs are synthetic memory:// references since nothing outside this process
// ever needs to dereference them.
type memoryObjects struct {
	objects map[string][]byte
}

func newMemoryObjects() *memoryObjects { return &memoryObjects{objects: make(map[string][]byte)} }

var _ capability.ObjectStore = (*memoryObjects)(nil)

func (o *memoryObjects) Put(_ context.Context, key string, content []byte, _ string, _ bool) (string, string, error) {
	o.objects[key] = content
	url := "memory://" + key
	return url, url, nil
}

func (o *memoryObjects) Get(_ context.Context, key string) ([]byte, error) {
	content, ok := o.objects[key]
	if !ok {
		return nil, capability.ErrNotFound
	}
	return content, nil
}

func (o *memoryObjects) Head(_ context.Context, key string) (capability.ObjectMeta, error) {
	content, ok := o.objects[key]
	if !ok {
		return capability.ObjectMeta{}, capability.ErrNotFound
	}
	return capability.ObjectMeta{SizeBytes: int64(len(content))}, nil
}

func (o *memoryObjects) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://" + key, nil
}

// memoryLease implements capability.Lease with an in-process map; a single
// fixture run only ever has one worker process competing for a lease, so
// this is only exercised for the Job Processor's own acquire/release
// bookkeeping, not real cross-process exclusion.
type memoryLease struct {
	held      map[string]string
	delivered map[string]struct{}
}

func newMemoryLease() *memoryLease {
	return &memoryLease{held: make(map[string]string), delivered: make(map[string]struct{})}
}

var _ capability.Lease = (*memoryLease)(nil)

func (l *memoryLease) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if _, taken := l.held[key]; taken {
		return "", false, nil
	}
	token := key + "-token"
	l.held[key] = token
	return token, true, nil
}

func (l *memoryLease) Renew(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	return l.held[key] == token, nil
}

func (l *memoryLease) Release(_ context.Context, key, token string) error {
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *memoryLease) MarkDelivered(_ context.Context, idempotencyKey string, _ time.Duration) (bool, error) {
	if _, ok := l.delivered[idempotencyKey]; ok {
		return false, nil
	}
	l.delivered[idempotencyKey] = struct{}{}
	return true, nil
}

// stubLLMProvider answers every Generate call with the step's own
// instructions as output text, for running a fixture workflow with no
// outbound network access at all.
type stubLLMProvider struct{}

var _ capability.LLMProvider = stubLLMProvider{}

func (stubLLMProvider) Generate(_ context.Context, req capability.LLMRequest) (capability.LLMResponse, error) {
	text := req.Instructions
	if text == "" {
		text = "stubbed response"
	}
	return capability.LLMResponse{OutputText: text}, nil
}

func (stubLLMProvider) GenerateImages(context.Context, capability.ImageGenerationRequest) ([][]byte, error) {
	return nil, fmt.Errorf("fixture: stub llm provider does not generate images")
}

// buildFixtureProcessor wires a jobprocessor.Processor entirely from
// in-memory capability implementations seeded by doc, so a job can run end
// to end with no Mongo, Redis, S3, or Secrets Manager connectivity. The LLM
// router still uses the real OpenAI provider (keyed off OPENAI_API_KEY)
// unless the fixture sets stub_llm.
func buildFixtureProcessor(cfg config.Config, doc *fixtureDocument) (*jobprocessor.Processor, func(), error) {
	job, workflow, submission, form, templates := doc.toModel()

	kv := newMemoryKV(job, workflow, submission, form, templates)
	objects := newMemoryObjects()
	leaseStore := newMemoryLease()
	ids := idgen.New()
	wallClock := clock.New()
	httpClient := httpclient.New()

	var fallback capability.LLMProvider = stubLLMProvider{}
	if !doc.StubLLM {
		if provider, err := openai.NewFromAPIKey(os.Getenv("OPENAI_API_KEY")); err == nil {
			fallback = provider
		}
	}
	router := llmadapter.NewRouter(fallback)

	store := artifactstore.New(objects, kv, httpClient, ids, wallClock)
	adapter := llmadapter.New(router, store)
	recorder := steprecorder.New(objects, kv, ids, wallClock, steprecorder.Config{})

	aiHandler := &stephandler.AIGenerationHandler{
		Adapter: adapter,
		Store:   store,
		KV:      kv,
		Browser: browser.New(),
		Clock:   wallClock,
	}
	webhookHandler := &stephandler.WebhookHandler{HTTP: httpClient, KV: kv, Clock: wallClock}

	finalizer := &delivery.Finalizer{
		KV:                  kv,
		Store:               store,
		Adapter:             adapter,
		HTTP:                httpClient,
		Clock:               wallClock,
		APIURL:              cfg.APIURL,
		TemplateRenderModel: cfg.TemplateRenderModel,
		WebhookMaxRetries:   cfg.DeliveryWebhookMaxRetries,
	}

	o := &orchestrator.Orchestrator{
		KV:        kv,
		Recorder:  recorder,
		IDs:       ids,
		Clock:     wallClock,
		AI:        aiHandler,
		Webhook:   webhookHandler,
		Finalizer: finalizer,
	}

	return &jobprocessor.Processor{
		KV:           kv,
		Lease:        leaseStore,
		Clock:        wallClock,
		Orchestrator: o,
	}, func() {}, nil
}
