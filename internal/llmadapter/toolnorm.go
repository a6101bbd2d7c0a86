// Package llmadapter implements C6: tool normalization, request shaping,
// response parsing, error classification, and retry policy around the LLM
// provider call, grounded on the teacher's features/model/{openai,anthropic,
// bedrock} adapters (interface-capture-a-subset-of-the-SDK-client pattern)
// and on original_source/backend/worker for the exact normalization and
// error-classification rules this component replaces.
package llmadapter

import "github.com/grandcanyonsmith/leadengine/internal/model"

// deepResearchModelPrefix identifies model identifiers that must not
// receive an automatically injected web_search tool (§4.8, SPEC_FULL §1).
const deepResearchModelPrefix = "o3-deep-research"

// NormalizeTools applies the container-injection and tool-choice repair
// rules of §4.6 to a step's configured tools, and returns the repaired
// tool_choice alongside them.
func NormalizeTools(modelID string, tools []model.ToolSpec, toolChoice model.ToolChoice) ([]model.ToolSpec, model.ToolChoice) {
	out := make([]model.ToolSpec, 0, len(tools))
	for _, t := range tools {
		t := t
		if requiresContainer(t.Type) && t.Container == nil {
			t.Container = &model.ContainerSpec{Type: "auto"}
		}
		out = append(out, t)
	}

	choice := toolChoice
	if choice == model.ToolChoiceRequired && len(out) == 0 {
		choice = model.ToolChoiceAuto
	}

	return out, choice
}

// ApplyModelDefaults substitutes the provider-side default tool list
// (web_search) only when the step's tools are entirely absent — an
// explicitly configured list, even one without web_search, is used
// verbatim (§4.8; original_source's ai_generation.py step.get('tools',
// default_tools) never merges into an explicit list). The deep-research
// model is excluded from the default even when tools are absent.
func ApplyModelDefaults(modelID string, tools []model.ToolSpec) []model.ToolSpec {
	if tools != nil {
		return tools
	}
	if isDeepResearchModel(modelID) {
		return tools
	}
	return []model.ToolSpec{{Type: model.ToolType("web_search")}}
}

// StripImageGeneration removes the provider's native image_generation tool
// from the outbound tool list: the image-plan loop (§4.7) is used instead,
// per the Open Question decision recorded in SPEC_FULL.md §3.
func StripImageGeneration(tools []model.ToolSpec) []model.ToolSpec {
	out := make([]model.ToolSpec, 0, len(tools))
	for _, t := range tools {
		if t.Type == model.ToolType("image_generation") {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isDeepResearchModel(modelID string) bool {
	return len(modelID) >= len(deepResearchModelPrefix) && modelID[:len(deepResearchModelPrefix)] == deepResearchModelPrefix
}

func requiresContainer(t model.ToolType) bool {
	return t == model.ToolType("code_interpreter") || t == model.ToolType("computer_use_preview")
}
