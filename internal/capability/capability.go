// Package capability defines the narrow interfaces (§4.1) through which the
// engine performs every external effect: object storage, key-value
// persistence, secrets, LLM calls, shell execution, browser automation,
// outbound HTTP, clock, and ID generation. Every method here takes a
// context.Context and must be cancellable (§5): callers are expected to
// honor ctx.Done() and abort the in-flight operation best-effort.
package capability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/model"
)

type (
	// ObjectMeta describes a stored object without its bytes.
	ObjectMeta struct {
		ContentType string
		SizeBytes   int64
		ETag        string
	}

	// ObjectStore persists byte content and hands back stable, ideally
	// non-expiring public URLs (§4.2). Implementations must treat writes to
	// an existing key as append-a-suffix rather than overwrite (§4.2
	// guarantee).
	ObjectStore interface {
		// Put writes content under key. When public is true the object must be
		// readable without credentials. It returns the durable object URL and,
		// when the store fronts a CDN, a second "stable" URL guaranteed not to
		// expire (equal to the first when there is no CDN).
		Put(ctx context.Context, key string, content []byte, contentType string, public bool) (objectURL, stableURL string, err error)
		Get(ctx context.Context, key string) ([]byte, error)
		Head(ctx context.Context, key string) (ObjectMeta, error)
		Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	}

	// KVStoreVersion carries the optimistic-concurrency token a caller must
	// present on an update for it to be accepted (§5 CAS).
	KVStoreVersion = int64

	// KVStore provides typed CRUD with compare-and-set writes over the five
	// persisted entities, plus secondary lookup of artifacts by job (§4.1).
	// ErrVersionConflict is returned by PutJob/PutArtifact when the supplied
	// version does not match the currently stored version.
	KVStore interface {
		GetJob(ctx context.Context, tenantID, jobID string) (model.Job, error)
		// GetJobByID resolves a Job from its id alone, without a known
		// tenant — the shape the Job Processor's invocation contract hands
		// it (§6: input carries only job_id). Implementations look the
		// tenant up as part of the same query.
		GetJobByID(ctx context.Context, jobID string) (model.Job, error)
		PutJob(ctx context.Context, job model.Job) error

		GetWorkflow(ctx context.Context, tenantID, workflowID string) (model.Workflow, error)
		GetSubmission(ctx context.Context, tenantID, submissionID string) (model.Submission, error)
		GetForm(ctx context.Context, tenantID, formID string) (model.Form, error)

		PutArtifact(ctx context.Context, artifact model.Artifact) error
		GetArtifact(ctx context.Context, tenantID, artifactID string) (model.Artifact, error)
		ListArtifactsByJob(ctx context.Context, tenantID, jobID string) ([]model.Artifact, error)

		// GetTemplate resolves a workflow's configured template, used by the
		// Delivery Finalizer's template-fidelity re-render (§4.10).
		GetTemplate(ctx context.Context, tenantID, templateID string, version int) (model.Template, error)
	}

	// SecretStore resolves opaque secret references (e.g. LLM_SECRET_NAME,
	// §6) to their values.
	SecretStore interface {
		Get(ctx context.Context, name string) (string, error)
	}

	// ShellCommandOutcome discriminates how a shell command terminated.
	ShellCommandOutcome struct {
		Type     string // "exit" | "timeout"
		ExitCode int
	}

	// ShellCommandResult is the result of one executed command.
	ShellCommandResult struct {
		Stdout  string
		Stderr  string
		Outcome ShellCommandOutcome
	}

	// ShellRunner executes commands inside a per-job workspace (§4.7). The
	// workspace ID may be carried across commands within a job but must not
	// be reused concurrently or across jobs (§5).
	ShellRunner interface {
		Run(ctx context.Context, commands []string, workspaceID string, timeout time.Duration, maxOutput int) ([]ShellCommandResult, error)
	}

	// BrowserAction is a single computer-use action to execute (§4.7).
	BrowserAction struct {
		Type    string // click | type | scroll | keypress | wait | navigate | screenshot
		X, Y    int
		Button  string
		Text    string
		DeltaX  int
		DeltaY  int
		Keys    []string
		WaitMS  int
		URL     string
	}

	// Browser drives a headless browser session for the computer-use loop.
	// A session is exclusive to one step and is created/torn down within
	// that step's scope (§5).
	Browser interface {
		Start(ctx context.Context, viewportW, viewportH int, storageState []byte) error
		ExecuteAction(ctx context.Context, action BrowserAction) error
		CaptureScreenshot(ctx context.Context) ([]byte, error)
		CurrentURL(ctx context.Context) (string, error)
		Stop(ctx context.Context) error
	}

	// HTTPClient performs outbound HTTP calls (webhooks, image rehosting).
	HTTPClient interface {
		Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (status int, respBody []byte, err error)
	}

	// EmailMessage is a minimal outbound email, used by the Delivery
	// Finalizer's email delivery channel (§4.10).
	EmailMessage struct {
		To       string
		Subject  string
		HTMLBody string
		TextBody string
	}

	// EmailSender delivers the final deliverable to the submitter's email
	// address.
	EmailSender interface {
		Send(ctx context.Context, msg EmailMessage) error
	}

	// Clock abstracts time so tests can control elapsed duration and
	// deadlines deterministically.
	Clock interface {
		Now() time.Time
	}

	// IDGenerator produces time-ordered, globally unique opaque IDs.
	IDGenerator interface {
		NewID(prefix string) string
	}

	// LLMRequest is the raw, already-shaped provider request body (§4.6).
	// The LLM Adapter builds this; LLMProvider implementations only need to
	// transport it to the concrete backend and parse the raw response.
	LLMRequest struct {
		Model           string
		Instructions    string
		Input           json.RawMessage
		Tools           json.RawMessage
		ToolChoice      string
		Reasoning       json.RawMessage
		ServiceTier     string
		Truncation      string
		MaxOutputTokens int
	}

	// LLMResponse is the raw provider response, not yet parsed into
	// model.Usage / extracted image URLs (the LLM Adapter does that).
	LLMResponse struct {
		OutputText string
		Raw        json.RawMessage
		Usage      model.Usage
	}

	// ImageGenerationRequest asks the provider to render one image from a
	// text prompt (§4.7 image-plan loop).
	ImageGenerationRequest struct {
		Model  string
		Prompt string
		Size   string
	}

	// LLMProvider is the capability boundary to a concrete LLM backend
	// (OpenAI Responses-shaped, Anthropic, or Bedrock-hosted; §1 DOMAIN STACK).
	LLMProvider interface {
		Generate(ctx context.Context, req LLMRequest) (LLMResponse, error)
		GenerateImages(ctx context.Context, req ImageGenerationRequest) ([][]byte, error)
	}

	// Lease provides exclusive, TTL-bounded ownership of a named resource
	// (§5: a job, a shared browser/shell workspace) and a companion
	// idempotency check for at-most-once delivery (§4.10).
	Lease interface {
		// Acquire takes exclusive ownership of key for ttl, returning a
		// fencing token to present to Release/Renew. ok is false if another
		// holder currently owns key.
		Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
		// Renew extends an already-held lease. ok is false if token no longer
		// matches the current holder (e.g. it expired and was reacquired).
		Renew(ctx context.Context, key, token string, ttl time.Duration) (ok bool, err error)
		// Release gives up ownership of key if token matches the current holder.
		Release(ctx context.Context, key, token string) error
		// MarkDelivered records that an at-most-once-delivery operation keyed
		// by idempotencyKey has already been performed. first is true the
		// first time a given key is marked.
		MarkDelivered(ctx context.Context, idempotencyKey string, ttl time.Duration) (first bool, err error)
	}
)
