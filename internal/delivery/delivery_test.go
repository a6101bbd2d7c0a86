package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

func TestFinalizeMarkdownDeliverableNoTemplate(t *testing.T) {
	store, kv := newTestStoreAndKV()
	f := &Finalizer{
		KV:    kv,
		Store: store,
		Clock: &fakeClock{now: time.Unix(0, 0)},
		Sleep: func(time.Duration) {},
	}

	job := &model.Job{JobID: "job1", TenantID: "tenant1"}
	workflow := model.Workflow{DeliveryMethod: model.DeliveryMethodNone}
	steps := []model.Step{{StepOrder: 0, StepType: model.StepTypeAIGeneration}}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "# Report\n\nfinal markdown"},
	}

	err := f.Finalize(context.Background(), job, workflow, model.Submission{}, model.Form{}, steps, records)
	require.NoError(t, err)
	require.NotEmpty(t, job.OutputURL)

	artifacts, _ := kv.ListArtifactsByJob(context.Background(), "tenant1", "job1")
	require.Len(t, artifacts, 1)
	require.Equal(t, model.ArtifactTypeMarkdownFinal, artifacts[0].ArtifactType)
}

func TestFinalizeHTMLDeliverableInjectsTrackingScript(t *testing.T) {
	store, kv := newTestStoreAndKV()
	f := &Finalizer{
		KV:     kv,
		Store:  store,
		Clock:  &fakeClock{now: time.Unix(0, 0)},
		Sleep:  func(time.Duration) {},
		APIURL: "https://api.example.com",
	}

	job := &model.Job{JobID: "job1", TenantID: "tenant1"}
	workflow := model.Workflow{DeliveryMethod: model.DeliveryMethodNone}
	steps := []model.Step{{StepOrder: 0, StepType: model.StepTypeAIGeneration, IsDeliverable: true}}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded,
			Output: "<html><body><h1>Report</h1></body></html>"},
	}

	err := f.Finalize(context.Background(), job, workflow, model.Submission{}, model.Form{}, steps, records)
	require.NoError(t, err)

	artifacts, _ := kv.ListArtifactsByJob(context.Background(), "tenant1", "job1")
	require.Len(t, artifacts, 1)
	require.Equal(t, model.ArtifactTypeHTMLFinal, artifacts[0].ArtifactType)

	stored, _ := store.Download(context.Background(), "tenant1", artifacts[0].ArtifactID)
	require.Contains(t, string(stored), "TRACKING_CONFIG")
	require.Contains(t, string(stored), "jobId: 'job1'")
}

func TestFinalizeWithTemplateInvokesRenderAndStoresHTML(t *testing.T) {
	store, kv := newTestStoreAndKV()
	kv.templates["tenant1/tmpl-1"] = model.Template{
		TemplateID: "tmpl-1", TenantID: "tenant1", Version: 1, HTML: "<div class=\"card\"></div>",
	}
	provider := &renderFakeProvider{response: capability.LLMResponse{
		OutputText: "<!DOCTYPE html><html><body><h1>Styled</h1></body></html>",
		Raw:        []byte(`{"output":[{"type":"message","text":"<!DOCTYPE html><html><body><h1>Styled</h1></body></html>"}]}`),
	}}
	router := llmadapter.NewRouter(provider)
	adapter := llmadapter.New(router, store, llmadapter.WithSleep(func(time.Duration) {}))

	f := &Finalizer{
		KV:      kv,
		Store:   store,
		Adapter: adapter,
		Clock:   &fakeClock{now: time.Unix(0, 0)},
		Sleep:   func(time.Duration) {},
		APIURL:  "https://api.example.com",
	}

	job := &model.Job{JobID: "job1", TenantID: "tenant1"}
	workflow := model.Workflow{DeliveryMethod: model.DeliveryMethodNone, TemplateID: "tmpl-1", TemplateVersion: 1}
	steps := []model.Step{{StepOrder: 0, StepType: model.StepTypeAIGeneration, IsDeliverable: true}}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "raw source text"},
	}

	err := f.Finalize(context.Background(), job, workflow, model.Submission{}, model.Form{}, steps, records)
	require.NoError(t, err)

	artifacts, _ := kv.ListArtifactsByJob(context.Background(), "tenant1", "job1")
	require.Len(t, artifacts, 1)
	require.Equal(t, model.ArtifactTypeHTMLFinal, artifacts[0].ArtifactType)

	stored, _ := store.Download(context.Background(), "tenant1", artifacts[0].ArtifactID)
	require.Contains(t, string(stored), "Styled")
	require.Contains(t, string(stored), "TRACKING_CONFIG")
}

func TestFinalizeReturnsErrorWhenTemplateMissing(t *testing.T) {
	store, kv := newTestStoreAndKV()
	f := &Finalizer{KV: kv, Store: store, Clock: &fakeClock{now: time.Unix(0, 0)}, Sleep: func(time.Duration) {}}

	job := &model.Job{JobID: "job1", TenantID: "tenant1"}
	workflow := model.Workflow{TemplateID: "missing-template"}
	steps := []model.Step{{StepOrder: 0, StepType: model.StepTypeAIGeneration}}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "content"},
	}

	err := f.Finalize(context.Background(), job, workflow, model.Submission{}, model.Form{}, steps, records)
	require.Error(t, err)
	require.Empty(t, job.OutputURL)
}

func TestFinalizeDispatchesWebhookAfterProducingDeliverable(t *testing.T) {
	store, kv := newTestStoreAndKV()
	http := &fakeWebhookHTTP{statuses: []int{200}}
	f := &Finalizer{
		KV:    kv,
		Store: store,
		HTTP:  http,
		Clock: &fakeClock{now: time.Unix(0, 0)},
		Sleep: func(time.Duration) {},
	}

	job := &model.Job{JobID: "job1", TenantID: "tenant1"}
	workflow := model.Workflow{DeliveryMethod: model.DeliveryMethodWebhook, DeliveryWebhookURL: "https://hooks.example/final"}
	steps := []model.Step{{StepOrder: 0, StepType: model.StepTypeAIGeneration}}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "final text"},
	}

	err := f.Finalize(context.Background(), job, workflow, model.Submission{}, model.Form{}, steps, records)
	require.NoError(t, err)
	require.Equal(t, 1, http.calls)
	require.Empty(t, job.ErrorMessage)
}

func TestFinalizeDeliveryDispatchFailureDoesNotFailFinalize(t *testing.T) {
	store, kv := newTestStoreAndKV()
	http := &fakeWebhookHTTP{statuses: []int{500, 500, 500}}
	f := &Finalizer{
		KV:                kv,
		Store:             store,
		HTTP:              http,
		Clock:             &fakeClock{now: time.Unix(0, 0)},
		Sleep:             func(time.Duration) {},
		WebhookMaxRetries: 3,
	}

	job := &model.Job{JobID: "job1", TenantID: "tenant1"}
	workflow := model.Workflow{DeliveryMethod: model.DeliveryMethodWebhook, DeliveryWebhookURL: "https://hooks.example/final"}
	steps := []model.Step{{StepOrder: 0, StepType: model.StepTypeAIGeneration}}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Status: model.ExecutionStatusSucceeded, Output: "final text"},
	}

	err := f.Finalize(context.Background(), job, workflow, model.Submission{}, model.Form{}, steps, records)
	require.NoError(t, err)
	require.NotEmpty(t, job.OutputURL)
	require.Equal(t, "delivery_dispatch_error", job.ErrorType)
}
