package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
	"github.com/grandcanyonsmith/leadengine/internal/stephandler"
	"github.com/grandcanyonsmith/leadengine/internal/steprecorder"
)

type fakeKV struct {
	jobs      map[string]model.Job
	artifacts map[string]model.Artifact
}

func newFakeKV() *fakeKV {
	return &fakeKV{jobs: make(map[string]model.Job), artifacts: make(map[string]model.Artifact)}
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

// PutJob mirrors the real kvstore/mongo.Store's CAS contract: the write is
// accepted only if job.Version equals the currently stored version (or no
// document exists yet and job.Version is zero), and the stored version is
// then bumped to job.Version+1.
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
	if existing.Version != job.Version {
		return capability.ErrVersionConflict
	}
	job.Version++
	f.jobs[job.JobID] = job
	return nil
}

func (f *fakeKV) GetWorkflow(context.Context, string, string) (model.Workflow, error) {
	return model.Workflow{}, nil
}
func (f *fakeKV) GetSubmission(context.Context, string, string) (model.Submission, error) {
	return model.Submission{}, nil
}
func (f *fakeKV) GetForm(context.Context, string, string) (model.Form, error) { return model.Form{}, nil }
func (f *fakeKV) GetTemplate(context.Context, string, string, int) (model.Template, error) {
	return model.Template{}, nil
}
func (f *fakeKV) PutArtifact(_ context.Context, a model.Artifact) error {
	f.artifacts[a.ArtifactID] = a
	return nil
}
func (f *fakeKV) GetArtifact(_ context.Context, _, id string) (model.Artifact, error) {
	return f.artifacts[id], nil
}
func (f *fakeKV) ListArtifactsByJob(context.Context, string, string) ([]model.Artifact, error) {
	return nil, nil
}

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

type fakeIDs struct{ n int }

func (f *fakeIDs) NewID(prefix string) string {
	f.n++
	return prefix + "-fixed"
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

// scriptedHandler returns preconfigured results in sequence, one per call.
type scriptedHandler struct {
	results []stephandler.StepResult
	calls   int
}

func (h *scriptedHandler) Execute(context.Context, stephandler.HandlerInput) (stephandler.StepResult, error) {
	i := h.calls
	h.calls++
	if i < len(h.results) {
		return h.results[i], nil
	}
	return h.results[len(h.results)-1], nil
}

type recordingFinalizer struct {
	calls int
}

func (f *recordingFinalizer) Finalize(context.Context, *model.Job, model.Workflow, model.Submission, model.Form, []model.Step, []model.ExecutionStepRecord) error {
	f.calls++
	return nil
}

func newOrchestrator(ai, webhook stephandler.Handler, finalizer Finalizer) (*Orchestrator, *fakeKV) {
	kv := newFakeKV()
	clock := &fakeClock{now: time.Unix(0, 0)}
	recorder := steprecorder.New(newFakeObjects(), kv, &fakeIDs{}, clock, steprecorder.Config{})
	return &Orchestrator{
		KV:        kv,
		Recorder:  recorder,
		IDs:       &fakeIDs{},
		Clock:     clock,
		AI:        ai,
		Webhook:   webhook,
		Finalizer: finalizer,
	}, kv
}

func TestRunBatchCompletesAllStepsAndFinalizes(t *testing.T) {
	ai := &scriptedHandler{results: []stephandler.StepResult{{Output: "out", Success: true}}}
	webhook := &scriptedHandler{results: []stephandler.StepResult{{Success: true}}}
	finalizer := &recordingFinalizer{}
	o, kv := newOrchestrator(ai, webhook, finalizer)

	job := &model.Job{JobID: "job1", TenantID: "tenant1", Version: 1}
	kv.jobs["job1"] = *job
	workflow := model.Workflow{
		WorkflowID: "wf1",
		Steps: []model.Step{
			{StepOrder: 0, StepName: "summarize", StepType: model.StepTypeAIGeneration},
			{StepOrder: 1, StepName: "notify", StepType: model.StepTypeWebhook, DependsOn: []int{0}},
		},
	}

	records, err := o.Run(context.Background(), job, workflow, model.Submission{}, model.Form{}, nil, false)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, model.ExecutionStatusSucceeded, records[0].Status)
	require.Equal(t, model.ExecutionStatusSucceeded, records[1].Status)
	require.Equal(t, 1, finalizer.calls)
	require.Equal(t, 1, ai.calls)
	require.Equal(t, 1, webhook.calls)
}

func TestRunHaltsOnStepFailureWithoutFinalizing(t *testing.T) {
	ai := &scriptedHandler{results: []stephandler.StepResult{{Success: false, Error: "boom"}}}
	webhook := &scriptedHandler{}
	finalizer := &recordingFinalizer{}
	o, kv := newOrchestrator(ai, webhook, finalizer)

	job := &model.Job{JobID: "job1", TenantID: "tenant1", Version: 1}
	kv.jobs["job1"] = *job
	workflow := model.Workflow{
		WorkflowID: "wf1",
		Steps: []model.Step{
			{StepOrder: 0, StepName: "summarize", StepType: model.StepTypeAIGeneration},
			{StepOrder: 1, StepName: "notify", StepType: model.StepTypeWebhook, DependsOn: []int{0}},
		},
	}

	records, err := o.Run(context.Background(), job, workflow, model.Submission{}, model.Form{}, nil, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, model.ExecutionStatusFailed, records[0].Status)
	require.Equal(t, 0, finalizer.calls)
	require.Equal(t, 0, webhook.calls)
}

func TestRunSingleStepModeExecutesExactlyOneStep(t *testing.T) {
	ai := &scriptedHandler{results: []stephandler.StepResult{{Output: "out", Success: true}}}
	webhook := &scriptedHandler{}
	finalizer := &recordingFinalizer{}
	o, kv := newOrchestrator(ai, webhook, finalizer)

	job := &model.Job{JobID: "job1", TenantID: "tenant1", Version: 1}
	kv.jobs["job1"] = *job
	workflow := model.Workflow{
		WorkflowID: "wf1",
		Steps: []model.Step{
			{StepOrder: 0, StepName: "summarize", StepType: model.StepTypeAIGeneration},
			{StepOrder: 1, StepName: "notify", StepType: model.StepTypeWebhook, DependsOn: []int{0}},
		},
	}

	idx := 0
	records, err := o.Run(context.Background(), job, workflow, model.Submission{}, model.Form{}, &idx, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 0, webhook.calls)
	require.Equal(t, 0, finalizer.calls)
}

func TestRunBlockedWorkflowReturnsError(t *testing.T) {
	ai := &scriptedHandler{}
	webhook := &scriptedHandler{}
	finalizer := &recordingFinalizer{}
	o, kv := newOrchestrator(ai, webhook, finalizer)

	job := &model.Job{JobID: "job1", TenantID: "tenant1", Version: 1}
	kv.jobs["job1"] = *job
	// step 0 depends on step 1 and vice versa: no step is ever ready.
	workflow := model.Workflow{
		WorkflowID: "wf1",
		Steps: []model.Step{
			{StepOrder: 0, StepName: "a", StepType: model.StepTypeAIGeneration, DependsOn: []int{1}},
			{StepOrder: 1, StepName: "b", StepType: model.StepTypeAIGeneration, DependsOn: []int{0}},
		},
	}

	_, err := o.Run(context.Background(), job, workflow, model.Submission{}, model.Form{}, nil, false)
	require.Error(t, err)
}
