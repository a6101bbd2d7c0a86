package llmadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadengine/internal/artifactstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
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

type fakeKV struct{ artifacts map[string]model.Artifact }

func newFakeKV() *fakeKV { return &fakeKV{artifacts: make(map[string]model.Artifact)} }

func (f *fakeKV) GetJob(context.Context, string, string) (model.Job, error) { return model.Job{}, nil }
func (f *fakeKV) GetJobByID(context.Context, string) (model.Job, error) { return model.Job{}, nil }
func (f *fakeKV) PutJob(context.Context, model.Job) error                   { return nil }
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

type fakeHTTP struct{ body []byte }

func (f *fakeHTTP) Do(context.Context, string, string, map[string]string, []byte) (int, []byte, error) {
	return 200, f.body, nil
}

type fakeIDs struct{ n int }

func (f *fakeIDs) NewID(prefix string) string {
	f.n++
	return prefix + "-fixed"
}

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

func newTestStore() *artifactstore.Store {
	return artifactstore.New(newFakeObjects(), newFakeKV(), &fakeHTTP{body: []byte("img-bytes")}, &fakeIDs{}, fakeClock{now: time.Unix(0, 0)})
}

type fakeProvider struct {
	responses []capability.LLMResponse
	errs      []error
	calls     int
}

func (f *fakeProvider) Generate(_ context.Context, _ capability.LLMRequest) (capability.LLMResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return capability.LLMResponse{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeProvider) GenerateImages(context.Context, capability.ImageGenerationRequest) ([][]byte, error) {
	return nil, nil
}

func TestAdapterGenerateSucceedsOnFirstAttempt(t *testing.T) {
	provider := &fakeProvider{responses: []capability.LLMResponse{{OutputText: "hello world"}}}
	router := NewRouter(provider)
	a := New(router, newTestStore(), WithSleep(func(time.Duration) {}))

	parsed, _, err := a.Generate(context.Background(), "tenant1", "job1", model.Step{Model: "gpt-5"}, "ctx", nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", parsed.OutputText)
	require.Equal(t, 1, provider.calls)
}

func TestAdapterGenerateRetriesOnRateLimitThenSucceeds(t *testing.T) {
	provider := &fakeProvider{
		errs:      []error{errors.New("rate limit exceeded, please slow down")},
		responses: []capability.LLMResponse{{}, {OutputText: "ok now"}},
	}
	router := NewRouter(provider)
	a := New(router, newTestStore(), WithSleep(func(time.Duration) {}))

	parsed, _, err := a.Generate(context.Background(), "tenant1", "job1", model.Step{Model: "gpt-5"}, "ctx", nil)
	require.NoError(t, err)
	require.Equal(t, "ok now", parsed.OutputText)
	require.Equal(t, 2, provider.calls)
}

func TestAdapterGenerateFixesToolChoiceConfigOnce(t *testing.T) {
	provider := &fakeProvider{
		errs:      []error{errors.New("tool_choice 'required' specified but no tools are available")},
		responses: []capability.LLMResponse{{}, {OutputText: "fixed"}},
	}
	router := NewRouter(provider)
	a := New(router, newTestStore(), WithSleep(func(time.Duration) {}))

	step := model.Step{Model: "gpt-5", ToolChoice: model.ToolChoiceRequired}
	parsed, _, err := a.Generate(context.Background(), "tenant1", "job1", step, "ctx", nil)
	require.NoError(t, err)
	require.Equal(t, "fixed", parsed.OutputText)
}

func TestAdapterGenerateSurfacesUnrecoverableErrorWithoutRetry(t *testing.T) {
	provider := &fakeProvider{errs: []error{errors.New("totally unexpected provider explosion")}}
	router := NewRouter(provider)
	a := New(router, newTestStore(), WithSleep(func(time.Duration) {}))

	_, _, err := a.Generate(context.Background(), "tenant1", "job1", model.Step{Model: "gpt-5"}, "ctx", nil)
	require.Error(t, err)
	require.Equal(t, 1, provider.calls)
}

func TestRouterSelectsByPrefixAndFallsBack(t *testing.T) {
	openai := &fakeProvider{}
	anthropic := &fakeProvider{}
	router := NewRouter(openai)
	router.Register("claude-", anthropic)

	p, err := router.Select("claude-3-7-sonnet")
	require.NoError(t, err)
	require.Equal(t, anthropic, p)

	p, err = router.Select("gpt-5")
	require.NoError(t, err)
	require.Equal(t, openai, p)
}
