package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// templateFidelityInstructions is the prompt that makes the re-render call
// adopt the template's exact visual language while presenting the source
// content verbatim, ported from original_source's
// HTMLGenerator._generate_styled_html instructions.
const templateFidelityInstructions = "You are a senior frontend engineer and design system expert.\n" +
	"Your task: transform the provided CONTENT into a polished, professional HTML5 document, using TEMPLATE_HTML as your strict design system.\n\n" +
	"Core directives:\n" +
	"1. Fidelity: adopt TEMPLATE_HTML's exact visual language (typography, color palette, spacing, border-radius, shadows).\n" +
	"2. Structure: return a valid, standalone HTML5 document (<!DOCTYPE html>...</html>).\n" +
	"3. Responsiveness: the output must be fully responsive and mobile-optimized.\n" +
	"4. Content integrity: present CONTENT accurately; do not summarize unless asked; use appropriate HTML tags (h1-h6, p, ul, table, blockquote) to structure the data.\n" +
	"5. No hallucinations: do not invent new content, only format what is provided.\n\n" +
	"Output format: return ONLY the raw HTML code. Do not wrap it in Markdown code blocks. Do not add conversational text."

// renderWithTemplate re-renders sourceText as a complete HTML5 document
// matching template.HTML's style, via a single LLM call whose instructions
// are the template-fidelity prompt and whose input is (template_html,
// style hints, deliverable source text, submission JSON), per §4.10.
func renderWithTemplate(ctx context.Context, adapter *llmadapter.Adapter, tenantID, jobID, renderModel string, template model.Template, sourceText string, submission model.Submission) (string, error) {
	submissionJSON, err := json.MarshalIndent(submission.SubmissionData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("delivery: encode submission data: %w", err)
	}

	styleHint := template.StyleGuide
	if styleHint == "" {
		styleHint = "(none)"
	}

	inputText := fmt.Sprintf(
		"TEMPLATE_HTML (style reference):\n<<<\n%s\n>>>\n\nTEMPLATE_STYLE_GUIDANCE:\n%s\n\nCONTENT:\n<<<\n%s\n>>>\n\nSUBMISSION_DATA_JSON (optional personalization context):\n<<<\n%s\n>>>\n",
		template.HTML, styleHint, sourceText, string(submissionJSON),
	)

	step := model.Step{
		StepName:     "template_render",
		StepType:     model.StepTypeAIGeneration,
		Model:        renderModel,
		Instructions: templateFidelityInstructions,
		ToolChoice:   model.ToolChoiceNone,
	}

	parsed, _, err := adapter.Generate(ctx, tenantID, jobID, step, inputText, nil)
	if err != nil {
		return "", fmt.Errorf("delivery: template re-render: %w", err)
	}
	return parsed.OutputText, nil
}
