// Package anthropic implements capability.LLMProvider on top of the
// Anthropic Claude Messages API, grounded directly on
// features/model/anthropic/client.go's MessagesClient-subset-interface +
// Options + New/NewFromAPIKey idiom, narrowed to this engine's single
// Generate/GenerateImages capability surface instead of the teacher's
// planner Complete/Stream surface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter uses. It is satisfied by *sdk.MessageService so callers can pass
// either a real client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the default model and generation parameters used when
// a step does not specify its own.
type Options struct {
	DefaultModel string
	MaxTokens    int64
	Temperature  float64
}

// Client implements capability.LLMProvider on top of Anthropic Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int64
	temperature  float64
}

// New builds a Client from an already-constructed Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Generate issues a Messages.New request shaped by the already-normalized
// capability.LLMRequest, translating the already-provider-agnostic
// instructions/input/tools into the Claude Messages shape.
func (c *Client) Generate(ctx context.Context, req capability.LLMRequest) (capability.LLMResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return capability.LLMResponse{}, fmt.Errorf("anthropic: build request: %w", err)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return capability.LLMResponse{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return capability.LLMResponse{}, fmt.Errorf("anthropic: marshal response: %w", err)
	}

	return capability.LLMResponse{
		OutputText: outputTextFrom(msg),
		Raw:        raw,
		Usage: model.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

// GenerateImages is not supported by the Anthropic Messages API: Claude
// models are routed here only for text/tool-use steps, never image
// generation (§1 DOMAIN STACK — Anthropic is a secondary text backend).
func (c *Client) GenerateImages(context.Context, capability.ImageGenerationRequest) ([][]byte, error) {
	return nil, errors.New("anthropic: image generation is not supported by this provider")
}

func (c *Client) buildParams(req capability.LLMRequest) (sdk.MessageNewParams, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	var rawMessages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text,omitempty"`
			ImageURL string `json:"image_url,omitempty"`
		} `json:"content"`
	}
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &rawMessages); err != nil {
			return sdk.MessageNewParams{}, fmt.Errorf("decode input: %w", err)
		}
	}

	messages := make([]sdk.MessageParam, 0, len(rawMessages))
	for _, m := range rawMessages {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, part := range m.Content {
			switch part.Type {
			case "input_text":
				blocks = append(blocks, sdk.NewTextBlock(part.Text))
			case "input_image":
				blocks = append(blocks, sdk.NewImageBlock(sdk.Base64ImageSourceParam{
					URL: part.ImageURL,
				}))
			}
		}
		messages = append(messages, sdk.MessageParam{
			Role:    sdk.MessageParamRole(m.Role),
			Content: blocks,
		})
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(modelID),
		MaxTokens:   c.maxTokens,
		Messages:    messages,
		Temperature: sdk.Float(c.temperature),
	}
	if req.Instructions != "" {
		params.System = []sdk.TextBlockParam{{Text: req.Instructions}}
	}
	return params, nil
}

func outputTextFrom(msg *sdk.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
