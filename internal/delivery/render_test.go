package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

type renderFakeProvider struct {
	response capability.LLMResponse
	lastReq  capability.LLMRequest
}

func (f *renderFakeProvider) Generate(_ context.Context, req capability.LLMRequest) (capability.LLMResponse, error) {
	f.lastReq = req
	return f.response, nil
}

func (f *renderFakeProvider) GenerateImages(context.Context, capability.ImageGenerationRequest) ([][]byte, error) {
	return nil, nil
}

func newTestAdapter(provider capability.LLMProvider) *llmadapter.Adapter {
	router := llmadapter.NewRouter(provider)
	store, _ := newTestStoreAndKV()
	return llmadapter.New(router, store, llmadapter.WithSleep(func(time.Duration) {}))
}

func TestRenderWithTemplateComposesInputAndReturnsOutput(t *testing.T) {
	provider := &renderFakeProvider{response: capability.LLMResponse{
		OutputText: "<!DOCTYPE html><html><body>rendered</body></html>",
		Raw:        []byte(`{"output":[{"type":"message","text":"<!DOCTYPE html><html><body>rendered</body></html>"}]}`),
	}}
	adapter := newTestAdapter(provider)

	tmpl := model.Template{HTML: "<div class=\"card\">{{content}}</div>", StyleGuide: "use card layout"}
	submission := model.Submission{SubmissionData: map[string]any{"name": "Ada"}}

	out, err := renderWithTemplate(context.Background(), adapter, "tenant1", "job1", "gpt-5.2", tmpl, "source content", submission)
	require.NoError(t, err)
	require.Equal(t, "<!DOCTYPE html><html><body>rendered</body></html>", out)
}

func TestRenderWithTemplateDefaultsStyleHintWhenEmpty(t *testing.T) {
	provider := &renderFakeProvider{response: capability.LLMResponse{
		OutputText: "<html></html>",
		Raw:        []byte(`{"output":[{"type":"message","text":"<html></html>"}]}`),
	}}
	adapter := newTestAdapter(provider)

	tmpl := model.Template{HTML: "<div></div>"}
	_, err := renderWithTemplate(context.Background(), adapter, "tenant1", "job1", "gpt-5.2", tmpl, "content", model.Submission{})
	require.NoError(t, err)
}

var errProviderDown = errors.New("provider unavailable")

type failingProvider struct{}

func (f *failingProvider) Generate(context.Context, capability.LLMRequest) (capability.LLMResponse, error) {
	return capability.LLMResponse{}, errProviderDown
}

func (f *failingProvider) GenerateImages(context.Context, capability.ImageGenerationRequest) ([][]byte, error) {
	return nil, errProviderDown
}

func TestRenderWithTemplatePropagatesProviderError(t *testing.T) {
	router := llmadapter.NewRouter(&failingProvider{})
	store, _ := newTestStoreAndKV()
	adapter := llmadapter.New(router, store,
		llmadapter.WithSleep(func(time.Duration) {}),
		llmadapter.WithRetryPolicy(llmadapter.RetryPolicy{MaxAttempts: 1}))

	tmpl := model.Template{HTML: "<div></div>"}
	_, err := renderWithTemplate(context.Background(), adapter, "tenant1", "job1", "gpt-5.2", tmpl, "content", model.Submission{})
	require.Error(t, err)
}
