// Package openai implements capability.LLMProvider on top of the OpenAI
// Responses API, grounded on the teacher's features/model/{anthropic,bedrock}
// adapter-wrapping idiom (narrow SDK-subset interface + Options struct + New/
// NewFromAPIKey constructors) — no teacher file exercises this exact SDK
// package (github.com/openai/openai-go was declared in the teacher's go.mod
// but never imported by its own code), so the pattern rather than a specific
// teacher file is this package's grounding source.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// ResponsesClient captures the subset of the OpenAI SDK client used by this
// adapter. It is satisfied by (*sdk.Client).Responses so callers can pass
// either a real client or a mock in tests.
type ResponsesClient interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// ImagesClient captures the image-generation subset of the SDK used by the
// image-plan loop's per-image rendering step (§4.7).
type ImagesClient interface {
	Generate(ctx context.Context, body sdk.ImageGenerateParams, opts ...option.RequestOption) (*sdk.ImagesResponse, error)
}

// Client implements capability.LLMProvider on top of the Responses API.
type Client struct {
	responses ResponsesClient
	images    ImagesClient
}

// New builds a Client from already-constructed SDK service clients.
func New(responsesClient ResponsesClient, imagesClient ImagesClient) (*Client, error) {
	if responsesClient == nil {
		return nil, errors.New("openai: responses client is required")
	}
	return &Client{responses: responsesClient, images: imagesClient}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP client
// configured from apiKey.
func NewFromAPIKey(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	sc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sc.Responses, &sc.Images)
}

// Generate issues a Responses.New request shaped by the already-normalized
// capability.LLMRequest and translates the response back into the adapter's
// raw-response shape; extraction of image URLs and tool-call results happens
// in the llmadapter package, not here.
func (c *Client) Generate(ctx context.Context, req capability.LLMRequest) (capability.LLMResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return capability.LLMResponse{}, fmt.Errorf("openai: build request: %w", err)
	}

	resp, err := c.responses.New(ctx, params)
	if err != nil {
		return capability.LLMResponse{}, fmt.Errorf("openai: responses.new: %w", err)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return capability.LLMResponse{}, fmt.Errorf("openai: marshal response: %w", err)
	}

	return capability.LLMResponse{
		OutputText: resp.OutputText(),
		Raw:        raw,
		Usage: usageFrom(resp),
	}, nil
}

// GenerateImages renders images from a text prompt for the image-plan loop
// (§4.7); each image is returned as raw bytes for the caller to store via the
// artifact store.
func (c *Client) GenerateImages(ctx context.Context, req capability.ImageGenerationRequest) ([][]byte, error) {
	if c.images == nil {
		return nil, errors.New("openai: images client is not configured")
	}
	params := sdk.ImageGenerateParams{
		Model:  sdk.ImageModel(req.Model),
		Prompt: req.Prompt,
	}
	if req.Size != "" {
		params.Size = sdk.ImageGenerateParamsSize(req.Size)
	}

	resp, err := c.images.Generate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: images.generate: %w", err)
	}

	out := make([][]byte, 0, len(resp.Data))
	for _, img := range resp.Data {
		if img.B64JSON == "" {
			continue
		}
		decoded, err := decodeBase64(img.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("openai: decode generated image: %w", err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

func (c *Client) buildParams(req capability.LLMRequest) (responses.ResponseNewParams, error) {
	var tools []responses.ToolUnionParam
	if len(req.Tools) > 0 {
		if err := json.Unmarshal(req.Tools, &tools); err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("decode tools: %w", err)
		}
	}

	var input responses.ResponseInputParam
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &input); err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("decode input: %w", err)
		}
	}

	params := responses.ResponseNewParams{
		Model:        sdk.ResponsesModel(req.Model),
		Instructions: sdk.String(req.Instructions),
		Input:        responses.ResponseNewParamsInputUnion{OfInputItemList: input},
		Tools:        tools,
	}
	if req.ToolChoice != "" {
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: sdk.String(req.ToolChoice),
		}
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = sdk.Int(int64(req.MaxOutputTokens))
	}
	if req.Truncation != "" {
		params.Truncation = responses.ResponseNewParamsTruncation(req.Truncation)
	}
	if req.ServiceTier != "" {
		params.ServiceTier = responses.ResponseNewParamsServiceTier(req.ServiceTier)
	}
	return params, nil
}

func usageFrom(resp *responses.Response) model.Usage {
	return model.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
