package llmadapter

import (
	"encoding/json"
	"fmt"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// inputMessage is one entry of the Responses-API-shaped "input" array.
type inputMessage struct {
	Role    string        `json:"role"`
	Content []inputContent `json:"content"`
}

// inputContent is a tagged union over text and image-reference content
// parts, mirroring the provider's structured input message shape (§4.6).
type inputContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// BuildRequest shapes the provider-agnostic request body for one step: tool
// normalization and model defaults (toolnorm.go) are applied, and — only
// when the step's own tool set includes image_generation and
// previousImageURLs is non-empty — a structured image-reference message is
// appended after the text context so the model can see prior-step images
// without them being re-described in prose (§4.4, §4.6).
func BuildRequest(step model.Step, contextText string, previousImageURLs []string) (capability.LLMRequest, error) {
	// ApplyModelDefaults must see step.Tools before NormalizeTools turns an
	// absent (nil) list into a present-but-empty one, or the absent/explicit
	// distinction it relies on is lost.
	tools := ApplyModelDefaults(step.Model, step.Tools)
	tools, toolChoice := NormalizeTools(step.Model, tools, step.ToolChoice)
	tools = StripImageGeneration(tools)

	encodedTools, err := json.Marshal(tools)
	if err != nil {
		return capability.LLMRequest{}, fmt.Errorf("llmadapter: encode tools: %w", err)
	}

	imageURLs := previousImageURLs
	if !hasImageGenerationTool(step) {
		imageURLs = nil
	}

	input, err := buildInput(contextText, imageURLs)
	if err != nil {
		return capability.LLMRequest{}, fmt.Errorf("llmadapter: encode input: %w", err)
	}

	return capability.LLMRequest{
		Model:        step.Model,
		Instructions: step.Instructions,
		Input:        input,
		Tools:        encodedTools,
		ToolChoice:   string(toolChoice),
	}, nil
}

// hasImageGenerationTool reports whether step's tool set includes
// image_generation — the gate for shaping previous_image_urls as a
// structured input message (§4.4, §4.6).
func hasImageGenerationTool(step model.Step) bool {
	for _, t := range step.Tools {
		if t.Type == model.ToolType("image_generation") {
			return true
		}
	}
	return false
}

func buildInput(contextText string, previousImageURLs []string) (json.RawMessage, error) {
	msg := inputMessage{
		Role: "user",
		Content: []inputContent{
			{Type: "input_text", Text: contextText},
		},
	}
	for _, u := range previousImageURLs {
		msg.Content = append(msg.Content, inputContent{Type: "input_image", ImageURL: u})
	}
	return json.Marshal([]inputMessage{msg})
}
