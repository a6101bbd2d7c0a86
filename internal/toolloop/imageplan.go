package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// imagePlanSchemaJSON is the strict-JSON schema the planner model's output
// must satisfy before any image generation call is made (§4.7): a non-empty
// list of {label, prompt} pairs.
const imagePlanSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["images"],
	"properties": {
		"images": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["label", "prompt"],
				"properties": {
					"label":  {"type": "string", "minLength": 1},
					"prompt": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

var imagePlanSchema = mustCompileImagePlanSchema()

func mustCompileImagePlanSchema() *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(imagePlanSchemaJSON), &schemaDoc); err != nil {
		panic(fmt.Sprintf("toolloop: unmarshal image plan schema: %v", err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("image-plan.json", schemaDoc); err != nil {
		panic(fmt.Sprintf("toolloop: add image plan schema resource: %v", err))
	}
	schema, err := compiler.Compile("image-plan.json")
	if err != nil {
		panic(fmt.Sprintf("toolloop: compile image plan schema: %v", err))
	}
	return schema
}

// ImagePlanImage is one entry of a validated image plan.
type ImagePlanImage struct {
	Label     string `json:"label"`
	Prompt    string `json:"prompt"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// ImagePlanResult is the image-plan loop's output: the step's "output" is
// this struct marshaled to JSON, recording each planned image's label and
// prompt and the resulting stored image URLs (§4.7, §4.8). The image model
// and size used for each image are not recorded.
type ImagePlanResult struct {
	Images []ImagePlanImage `json:"images"`
	Usage  model.Usage      `json:"-"`
}

const (
	defaultImageModel = "gpt-image-1"
	defaultImageSize  = "1024x1024"
)

// findImageGenerationTool returns the step's image_generation ToolSpec, if
// any, whose PlannerModel/ImageModel/ImageSize fields configure this loop
// (§4.6, §4.7: "the step-configured planner model").
func findImageGenerationTool(step model.Step) (model.ToolSpec, bool) {
	for _, t := range step.Tools {
		if t.Type == model.ToolType("image_generation") {
			return t, true
		}
	}
	return model.ToolSpec{}, false
}

// RunImagePlan calls the step-configured planner model (without the native
// image-generation tool, since BuildRequest always strips it per §4.6) to
// produce a strict-JSON plan of labeled image prompts, validates that plan
// against imagePlanSchema, then generates and stores one or more images per
// prompt via the routed image provider (§4.7).
func RunImagePlan(ctx context.Context, adapter *llmadapter.Adapter, tenantID, jobID string, step model.Step, contextText string) (ImagePlanResult, error) {
	tool, _ := findImageGenerationTool(step)

	plannerStep := step
	if tool.PlannerModel != "" {
		plannerStep.Model = tool.PlannerModel
	}

	plannerPrompt := contextText + "\n\nRespond with strict JSON only, matching exactly this shape: " +
		`{"images":[{"label":"<short id>","prompt":"<image generation prompt>"}]}` +
		"\nDo not include any text outside the JSON object."

	parsed, usage, err := adapter.Generate(ctx, tenantID, jobID, plannerStep, plannerPrompt, nil)
	if err != nil {
		return ImagePlanResult{}, fmt.Errorf("toolloop: generate image plan: %w", err)
	}

	plan, err := parseAndValidatePlan(parsed.OutputText)
	if err != nil {
		return ImagePlanResult{}, err
	}

	imageModel, imageSize := imageConfigFromTool(tool)

	for i := range plan.Images {
		urls, err := adapter.GenerateImages(ctx, tenantID, jobID, capability.ImageGenerationRequest{
			Model:  imageModel,
			Prompt: plan.Images[i].Prompt,
			Size:   imageSize,
		})
		if err != nil {
			return ImagePlanResult{}, fmt.Errorf("toolloop: generate image for %q: %w", plan.Images[i].Label, err)
		}
		plan.Images[i].ImageURLs = urls
	}

	plan.Usage = usage
	return plan, nil
}

func parseAndValidatePlan(outputText string) (ImagePlanResult, error) {
	raw := strings.TrimSpace(outputText)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return ImagePlanResult{}, fmt.Errorf("toolloop: image plan is not valid JSON: %w", err)
	}
	if err := imagePlanSchema.Validate(decoded); err != nil {
		return ImagePlanResult{}, fmt.Errorf("toolloop: image plan failed schema validation: %w", err)
	}

	var plan ImagePlanResult
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return ImagePlanResult{}, fmt.Errorf("toolloop: decode image plan: %w", err)
	}
	return plan, nil
}

func imageConfigFromTool(tool model.ToolSpec) (imageModel, imageSize string) {
	imageModel, imageSize = defaultImageModel, defaultImageSize
	if tool.ImageModel != "" {
		imageModel = tool.ImageModel
	}
	if tool.ImageSize != "" {
		imageSize = tool.ImageSize
	}
	return imageModel, imageSize
}
