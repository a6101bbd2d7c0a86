package jobprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
	"github.com/grandcanyonsmith/leadengine/internal/orchestrator"
	"github.com/grandcanyonsmith/leadengine/internal/stephandler"
	"github.com/grandcanyonsmith/leadengine/internal/steprecorder"
)

type fakeObjects struct{ objects map[string][]byte }

func newFakeObjects() *fakeObjects { return &fakeObjects{objects: make(map[string][]byte)} }

func (f *fakeObjects) Put(_ context.Context, key string, content []byte, _ string, _ bool) (string, string, error) {
	f.objects[key] = content
	return "https://bucket.example/" + key, "https://cdn.example/" + key, nil
}
func (f *fakeObjects) Get(_ context.Context, key string) ([]byte, error) { return f.objects[key], nil }
func (f *fakeObjects) Head(context.Context, string) (capability.ObjectMeta, error) {
	return capability.ObjectMeta{}, nil
}
func (f *fakeObjects) Presign(context.Context, string, time.Duration) (string, error) { return "", nil }

type fakeKV struct {
	jobs      map[string]model.Job
	workflows map[string]model.Workflow
	submissions map[string]model.Submission
	forms     map[string]model.Form
	artifacts map[string]model.Artifact
	byJob     []model.Artifact
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		jobs:        make(map[string]model.Job),
		workflows:   make(map[string]model.Workflow),
		submissions: make(map[string]model.Submission),
		forms:       make(map[string]model.Form),
		artifacts:   make(map[string]model.Artifact),
	}
}

func (f *fakeKV) GetJob(_ context.Context, _, jobID string) (model.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return model.Job{}, capability.ErrNotFound
	}
	return j, nil
}

func (f *fakeKV) GetJobByID(_ context.Context, jobID string) (model.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return model.Job{}, capability.ErrNotFound
	}
	return j, nil
}

func (f *fakeKV) PutJob(_ context.Context, job model.Job) error {
	existing, ok := f.jobs[job.JobID]
	if !ok {
		if job.Version != 0 {
			return capability.ErrVersionConflict
		}
		job.Version = 1
		f.jobs[job.JobID] = job
		return nil
	}
	if job.Version != existing.Version {
		return capability.ErrVersionConflict
	}
	job.Version++
	f.jobs[job.JobID] = job
	return nil
}

func (f *fakeKV) GetWorkflow(_ context.Context, _, workflowID string) (model.Workflow, error) {
	w, ok := f.workflows[workflowID]
	if !ok {
		return model.Workflow{}, capability.ErrNotFound
	}
	return w, nil
}

func (f *fakeKV) GetSubmission(_ context.Context, _, submissionID string) (model.Submission, error) {
	s, ok := f.submissions[submissionID]
	if !ok {
		return model.Submission{}, capability.ErrNotFound
	}
	return s, nil
}

func (f *fakeKV) GetForm(_ context.Context, _, formID string) (model.Form, error) {
	return f.forms[formID], nil
}

func (f *fakeKV) GetTemplate(context.Context, string, string, int) (model.Template, error) {
	return model.Template{}, nil
}

func (f *fakeKV) PutArtifact(_ context.Context, a model.Artifact) error {
	f.artifacts[a.ArtifactID] = a
	f.byJob = append(f.byJob, a)
	return nil
}

func (f *fakeKV) GetArtifact(_ context.Context, _, id string) (model.Artifact, error) {
	return f.artifacts[id], nil
}

func (f *fakeKV) ListArtifactsByJob(context.Context, string, string) ([]model.Artifact, error) {
	return f.byJob, nil
}

type fakeIDs struct{ n int }

func (f *fakeIDs) NewID(prefix string) string {
	f.n++
	return prefix + "-fixed"
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type fakeLease struct {
	held map[string]string
}

func newFakeLease() *fakeLease { return &fakeLease{held: make(map[string]string)} }

func (f *fakeLease) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if _, taken := f.held[key]; taken {
		return "", false, nil
	}
	token := key + "-token"
	f.held[key] = token
	return token, true, nil
}

func (f *fakeLease) Renew(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	return f.held[key] == token, nil
}

func (f *fakeLease) Release(_ context.Context, key, token string) error {
	if f.held[key] == token {
		delete(f.held, key)
	}
	return nil
}

func (f *fakeLease) MarkDelivered(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

type stubHandler struct {
	result StepResultFunc
}

type StepResultFunc func(in stephandler.HandlerInput) stephandler.StepResult

func (h *stubHandler) Execute(_ context.Context, in stephandler.HandlerInput) (stephandler.StepResult, error) {
	return h.result(in), nil
}

func succeedingHandler(output string) *stubHandler {
	return &stubHandler{result: func(stephandler.HandlerInput) stephandler.StepResult {
		return stephandler.StepResult{Success: true, Output: output}
	}}
}

func failingHandler(errMsg string) *stubHandler {
	return &stubHandler{result: func(stephandler.HandlerInput) stephandler.StepResult {
		return stephandler.StepResult{Success: false, Error: errMsg}
	}}
}

func newProcessor(kv *fakeKV, ai, webhook stephandler.Handler) *Processor {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	recorder := steprecorder.New(newFakeObjects(), kv, &fakeIDs{}, clock, steprecorder.Config{})
	o := &orchestrator.Orchestrator{
		KV:       kv,
		Recorder: recorder,
		IDs:      &fakeIDs{},
		Clock:    clock,
		AI:       ai,
		Webhook:  webhook,
	}
	return &Processor{
		KV:           kv,
		Lease:        newFakeLease(),
		Clock:        clock,
		Orchestrator: o,
	}
}

func seedJob(kv *fakeKV, steps []model.Step) model.Job {
	job := model.Job{
		JobID: "job1", TenantID: "tenant1", WorkflowID: "wf1", SubmissionID: "sub1",
		Status: model.JobStatusPending, Version: 1,
	}
	kv.jobs["job1"] = job
	kv.workflows["wf1"] = model.Workflow{WorkflowID: "wf1", TenantID: "tenant1", Steps: steps, DeliveryMethod: model.DeliveryMethodNone}
	kv.submissions["sub1"] = model.Submission{SubmissionID: "sub1", TenantID: "tenant1", FormID: "form1"}
	kv.forms["form1"] = model.Form{FormID: "form1", TenantID: "tenant1"}
	return job
}

func TestProcessCompletesSingleStepWorkflow(t *testing.T) {
	kv := newFakeKV()
	seedJob(kv, []model.Step{{StepOrder: 0, StepType: model.StepTypeAIGeneration}})
	p := newProcessor(kv, succeedingHandler("final output"), nil)

	result, err := p.Process(context.Background(), Request{JobID: "job1"})
	require.NoError(t, err)
	require.True(t, result.Success)

	stored := kv.jobs["job1"]
	require.Equal(t, model.JobStatusCompleted, stored.Status)
}

func TestProcessMarksJobFailedOnStepFailure(t *testing.T) {
	kv := newFakeKV()
	seedJob(kv, []model.Step{{StepOrder: 0, StepType: model.StepTypeAIGeneration}})
	p := newProcessor(kv, failingHandler("provider timeout"), nil)

	result, err := p.Process(context.Background(), Request{JobID: "job1"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotEmpty(t, result.ErrorType)

	stored := kv.jobs["job1"]
	require.Equal(t, model.JobStatusFailed, stored.Status)
	require.Contains(t, stored.ErrorMessage, "provider timeout")
}

func TestProcessStopsAtSingleStepWithoutContinueAfter(t *testing.T) {
	kv := newFakeKV()
	seedJob(kv, []model.Step{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration},
		{StepOrder: 1, StepType: model.StepTypeAIGeneration},
	})
	p := newProcessor(kv, succeedingHandler("step output"), nil)

	idx := 0
	result, err := p.Process(context.Background(), Request{JobID: "job1", StepIndex: &idx, ContinueAfter: false})
	require.NoError(t, err)
	require.True(t, result.Success)

	stored := kv.jobs["job1"]
	require.Equal(t, model.JobStatusProcessing, stored.Status)
}

func TestProcessReturnsFailureResultWhenJobNotFound(t *testing.T) {
	kv := newFakeKV()
	p := newProcessor(kv, succeedingHandler("x"), nil)

	result, err := p.Process(context.Background(), Request{JobID: "missing"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "job_not_found", result.ErrorType)
}

func TestProcessReturnsFailureResultWhenLeaseUnavailable(t *testing.T) {
	kv := newFakeKV()
	seedJob(kv, []model.Step{{StepOrder: 0, StepType: model.StepTypeAIGeneration}})
	p := newProcessor(kv, succeedingHandler("x"), nil)
	lease := newFakeLease()
	lease.held["tenant1/job1"] = "someone-elses-token"
	p.Lease = lease

	result, err := p.Process(context.Background(), Request{JobID: "job1"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "lease_unavailable", result.ErrorType)

	stored := kv.jobs["job1"]
	require.Equal(t, model.JobStatusPending, stored.Status)
}
