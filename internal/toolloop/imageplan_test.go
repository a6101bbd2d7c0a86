package toolloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

type planImageProvider struct {
	planText string
	images   [][]byte
}

func (p *planImageProvider) Generate(context.Context, capability.LLMRequest) (capability.LLMResponse, error) {
	return capability.LLMResponse{OutputText: p.planText}, nil
}

func (p *planImageProvider) GenerateImages(context.Context, capability.ImageGenerationRequest) ([][]byte, error) {
	return p.images, nil
}

type capturingProvider struct {
	planText   string
	images     [][]byte
	onGenerate func(capability.LLMRequest)
}

func (p *capturingProvider) Generate(_ context.Context, req capability.LLMRequest) (capability.LLMResponse, error) {
	if p.onGenerate != nil {
		p.onGenerate(req)
	}
	return capability.LLMResponse{OutputText: p.planText}, nil
}

func (p *capturingProvider) GenerateImages(context.Context, capability.ImageGenerationRequest) ([][]byte, error) {
	return p.images, nil
}

func TestRunImagePlanValidatesAndGeneratesImages(t *testing.T) {
	provider := &planImageProvider{
		planText: `{"images":[{"label":"hero","prompt":"a red barn at sunset"}]}`,
		images:   [][]byte{[]byte("png-bytes")},
	}
	router := llmadapter.NewRouter(provider)
	adapter := llmadapter.New(router, newTestStore(), llmadapter.WithSleep(func(time.Duration) {}))

	result, err := RunImagePlan(context.Background(), adapter, "tenant1", "job1",
		model.Step{Model: "gpt-5", StepType: model.StepTypeAIGeneration}, "generate a hero image")

	require.NoError(t, err)
	require.Len(t, result.Images, 1)
	require.Equal(t, "hero", result.Images[0].Label)
	require.Len(t, result.Images[0].ImageURLs, 1)
}

func TestRunImagePlanUsesToolConfiguredPlannerModel(t *testing.T) {
	var capturedModel string
	provider := &capturingProvider{
		planText: `{"images":[{"label":"hero","prompt":"a red barn at sunset"}]}`,
		images:   [][]byte{[]byte("png-bytes")},
		onGenerate: func(req capability.LLMRequest) { capturedModel = req.Model },
	}
	router := llmadapter.NewRouter(provider)
	adapter := llmadapter.New(router, newTestStore(), llmadapter.WithSleep(func(time.Duration) {}))

	step := model.Step{
		Model: "gpt-5",
		Tools: []model.ToolSpec{{
			Type:         model.ToolType("image_generation"),
			PlannerModel: "gpt-5-mini",
			ImageModel:   "custom-image-model",
			ImageSize:    "512x512",
		}},
	}

	result, err := RunImagePlan(context.Background(), adapter, "tenant1", "job1", step, "generate a hero image")
	require.NoError(t, err)
	require.Equal(t, "gpt-5-mini", capturedModel)
	require.Len(t, result.Images[0].ImageURLs, 1)
}

func TestRunImagePlanRejectsInvalidPlan(t *testing.T) {
	provider := &planImageProvider{planText: `{"images":[]}`}
	router := llmadapter.NewRouter(provider)
	adapter := llmadapter.New(router, newTestStore(), llmadapter.WithSleep(func(time.Duration) {}))

	_, err := RunImagePlan(context.Background(), adapter, "tenant1", "job1",
		model.Step{Model: "gpt-5"}, "generate nothing in particular")

	require.Error(t, err)
}

func TestRunImagePlanRejectsNonJSONOutput(t *testing.T) {
	provider := &planImageProvider{planText: "sorry, I can't do that"}
	router := llmadapter.NewRouter(provider)
	adapter := llmadapter.New(router, newTestStore(), llmadapter.WithSleep(func(time.Duration) {}))

	_, err := RunImagePlan(context.Background(), adapter, "tenant1", "job1",
		model.Step{Model: "gpt-5"}, "generate nothing in particular")

	require.Error(t, err)
}

func TestImageConfigFromToolUsesToolOverrides(t *testing.T) {
	tool := model.ToolSpec{Type: model.ToolType("image_generation"), ImageModel: "custom-model", ImageSize: "512x512"}
	m, s := imageConfigFromTool(tool)
	require.Equal(t, "custom-model", m)
	require.Equal(t, "512x512", s)

	defModel, defSize := imageConfigFromTool(model.ToolSpec{})
	require.Equal(t, defaultImageModel, defModel)
	require.Equal(t, defaultImageSize, defSize)
}
