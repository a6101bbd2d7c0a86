package stephandler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/contextbuilder"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

type recordingHTTP struct {
	status   int
	respBody []byte
	gotURL   string
	gotBody  []byte
}

func (f *recordingHTTP) Do(_ context.Context, _ string, url string, _ map[string]string, body []byte) (int, []byte, error) {
	f.gotURL = url
	f.gotBody = body
	return f.status, f.respBody, nil
}

func TestWebhookHandlerBuildsPayloadAndPosts(t *testing.T) {
	http := &recordingHTTP{status: 200, respBody: []byte("ok")}
	kv := newFakeKV()
	kv.byJob = []model.Artifact{
		{ArtifactID: "a1", ArtifactType: model.ArtifactTypeImage, FileName: "x.png", ObjectURL: "https://cdn/x.png"},
	}
	h := &WebhookHandler{HTTP: http, KV: kv, Clock: &fakeClock{now: time.Unix(0, 0)}}

	steps := []model.Step{
		{StepOrder: 0, StepName: "summarize", StepType: model.StepTypeAIGeneration},
		{StepOrder: 1, StepName: "notify", StepType: model.StepTypeWebhook, DependsOn: []int{0},
			WebhookURL: "https://example.com/hook",
			WebhookDataSelection: model.WebhookDataSelection{IncludeSubmission: true, IncludeJobInfo: true},
		},
	}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Output: "Hello Ada", Status: model.ExecutionStatusSucceeded},
	}

	in := HandlerInput{
		Step:            steps[1],
		StepIndex:       1,
		Steps:           steps,
		Job:             model.Job{JobID: "job1", TenantID: "tenant1", WorkflowID: "wf1", Status: model.JobStatus("running")},
		Submission:      model.Submission{SubmissionData: map[string]any{"name": "Ada"}},
		Context:         contextbuilder.Result{PreviousContext: "some context"},
		UpstreamRecords: records,
	}

	result, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "https://example.com/hook", http.gotURL)

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(http.gotBody, &payload))
	require.Equal(t, "Ada", payload.SubmissionData["name"])
	require.Equal(t, "Hello Ada", payload.StepOutputs["step_0"].Output)
	require.Equal(t, "summarize", payload.StepOutputs["step_0"].StepName)
	require.Equal(t, "job1", payload.JobInfo.JobID)
	require.Equal(t, []string{"https://cdn/x.png"}, payload.Images)
}

func TestWebhookHandlerFailsOnNon2xxResponse(t *testing.T) {
	http := &recordingHTTP{status: 500, respBody: []byte("boom")}
	kv := newFakeKV()
	h := &WebhookHandler{HTTP: http, KV: kv, Clock: &fakeClock{now: time.Unix(0, 0)}}

	steps := []model.Step{
		{StepOrder: 0, StepName: "notify", StepType: model.StepTypeWebhook, WebhookURL: "https://example.com/hook"},
	}
	in := HandlerInput{
		Step:      steps[0],
		StepIndex: 0,
		Steps:     steps,
		Job:       model.Job{JobID: "job1", TenantID: "tenant1"},
	}

	result, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "500")
}

func TestWebhookHandlerExcludesConfiguredStepIndices(t *testing.T) {
	http := &recordingHTTP{status: 200, respBody: []byte("ok")}
	kv := newFakeKV()
	h := &WebhookHandler{HTTP: http, KV: kv, Clock: &fakeClock{now: time.Unix(0, 0)}}

	steps := []model.Step{
		{StepOrder: 0, StepName: "a", StepType: model.StepTypeAIGeneration},
		{StepOrder: 1, StepName: "b", StepType: model.StepTypeAIGeneration},
		{StepOrder: 2, StepName: "notify", StepType: model.StepTypeWebhook,
			WebhookURL:           "https://example.com/hook",
			WebhookDataSelection: model.WebhookDataSelection{ExcludeStepIndices: []int{0}},
		},
	}
	records := []model.ExecutionStepRecord{
		{StepOrder: 0, StepType: model.StepTypeAIGeneration, Output: "A out", Status: model.ExecutionStatusSucceeded},
		{StepOrder: 1, StepType: model.StepTypeAIGeneration, Output: "B out", Status: model.ExecutionStatusSucceeded},
	}
	in := HandlerInput{
		Step:            steps[2],
		StepIndex:       2,
		Steps:           steps,
		Job:             model.Job{JobID: "job1", TenantID: "tenant1"},
		UpstreamRecords: records,
	}

	result, err := h.Execute(context.Background(), in)
	require.NoError(t, err)
	require.True(t, result.Success)

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(http.gotBody, &payload))
	_, hasStep0 := payload.StepOutputs["step_0"]
	require.False(t, hasStep0)
	require.Equal(t, "B out", payload.StepOutputs["step_1"].Output)
}

var _ capability.HTTPClient = (*recordingHTTP)(nil)
