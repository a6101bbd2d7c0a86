// Package bedrock implements capability.LLMProvider on top of the AWS
// Bedrock Converse API, grounded directly on
// features/model/bedrock/client.go's RuntimeClient-subset-interface +
// Options + New idiom, narrowed to this engine's single Generate capability
// surface (no streaming, no transcript ledger — the engine persists its own
// Execution-Step Records instead).
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// RuntimeClient captures the subset of the AWS Bedrock runtime client used
// by this adapter. It is satisfied by *bedrockruntime.Client so callers can
// pass either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the default model and completion cap.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements capability.LLMProvider on top of Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New builds a Client from an already-constructed Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	return &Client{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// Generate issues a Converse request shaped by the already-normalized
// capability.LLMRequest.
func (c *Client) Generate(ctx context.Context, req capability.LLMRequest) (capability.LLMResponse, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return capability.LLMResponse{}, fmt.Errorf("bedrock: build request: %w", err)
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return capability.LLMResponse{}, fmt.Errorf("bedrock: converse: %w", err)
	}

	raw, err := json.Marshal(rawOutput(out))
	if err != nil {
		return capability.LLMResponse{}, fmt.Errorf("bedrock: marshal response: %w", err)
	}

	return capability.LLMResponse{
		OutputText: outputTextFrom(out),
		Raw:        raw,
		Usage:      usageFrom(out),
	}, nil
}

// GenerateImages is not supported by the Bedrock Converse API surface wired
// here: Bedrock is routed to for text/tool-use steps only (§1 DOMAIN STACK).
func (c *Client) GenerateImages(context.Context, capability.ImageGenerationRequest) ([][]byte, error) {
	return nil, errors.New("bedrock: image generation is not supported by this provider")
}

func (c *Client) buildInput(req capability.LLMRequest) (*bedrockruntime.ConverseInput, error) {
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
			return nil, fmt.Errorf("decode input: %w", err)
		}
	}

	messages := make([]brtypes.Message, 0, len(rawMessages))
	for _, m := range rawMessages {
		blocks := make([]brtypes.ContentBlock, 0, len(m.Content))
		for _, part := range m.Content {
			switch part.Type {
			case "input_text":
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: part.Text})
			case "input_image":
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: "[image: " + part.ImageURL + "]"})
			}
		}
		messages = append(messages, brtypes.Message{
			Role:    brtypes.ConversationRoleUser,
			Content: blocks,
		})
	}
	if len(messages) == 0 {
		return nil, errors.New("bedrock: at least one message is required")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
	}
	if req.Instructions != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.Instructions}}
	}

	var cfg brtypes.InferenceConfiguration
	if c.maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(c.maxTokens))
	}
	if c.temperature > 0 {
		cfg.Temperature = aws.Float32(c.temperature)
	}
	if cfg.MaxTokens != nil || cfg.Temperature != nil {
		input.InferenceConfig = &cfg
	}

	return input, nil
}

func outputTextFrom(out *bedrockruntime.ConverseOutput) string {
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	return text
}

func usageFrom(out *bedrockruntime.ConverseOutput) model.Usage {
	if out.Usage == nil {
		return model.Usage{}
	}
	return model.Usage{
		InputTokens:  int64(aws.ToInt32(out.Usage.InputTokens)),
		OutputTokens: int64(aws.ToInt32(out.Usage.OutputTokens)),
	}
}

func rawOutput(out *bedrockruntime.ConverseOutput) map[string]any {
	return map[string]any{
		"stop_reason": string(out.StopReason),
		"output_text": outputTextFrom(out),
	}
}
