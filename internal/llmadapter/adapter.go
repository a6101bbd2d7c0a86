package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/artifactstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
)

// Router selects a concrete LLMProvider for a model identifier (§1 DOMAIN
// STACK: OpenAI Responses-shaped, Anthropic, Bedrock-hosted backends).
type Router struct {
	byPrefix map[string]capability.LLMProvider
	fallback capability.LLMProvider
}

// NewRouter builds a Router. fallback is used when no prefix matches; it is
// typically the OpenAI-shaped provider, the default backend for this engine.
func NewRouter(fallback capability.LLMProvider) *Router {
	return &Router{byPrefix: make(map[string]capability.LLMProvider), fallback: fallback}
}

// Register routes any model ID with the given prefix to provider.
func (r *Router) Register(prefix string, provider capability.LLMProvider) {
	r.byPrefix[prefix] = provider
}

// Select returns the provider responsible for modelID.
func (r *Router) Select(modelID string) (capability.LLMProvider, error) {
	var best capability.LLMProvider
	bestLen := -1
	for prefix, p := range r.byPrefix {
		if strings.HasPrefix(modelID, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	if bestLen >= 0 {
		return best, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("llmadapter: no provider registered for model %q", modelID)
}

// Adapter ties together request shaping, provider dispatch, response
// parsing, and the §4.6 retry policy into one step-level entry point.
type Adapter struct {
	router *Router
	store  *artifactstore.Store
	policy RetryPolicy
	sleep  func(time.Duration)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(a *Adapter) { a.policy = p }
}

// WithSleep overrides the backoff sleep function, for deterministic tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(a *Adapter) { a.sleep = sleep }
}

// New builds an Adapter.
func New(router *Router, store *artifactstore.Store, opts ...Option) *Adapter {
	a := &Adapter{
		router: router,
		store:  store,
		policy: DefaultRetryPolicy,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate runs one step's LLM call end to end: validates/rehosts image
// references, shapes the request, dispatches to the routed provider,
// classifies and retries recoverable failures per policy, and parses the
// response into text plus deduplicated image URLs.
func (a *Adapter) Generate(ctx context.Context, tenantID, jobID string, step model.Step, contextText string, previousImageURLs []string) (ParsedResponse, model.Usage, error) {
	validatedRefs, err := EnsureValidReferences(ctx, a.store, tenantID, jobID, previousImageURLs)
	if err != nil {
		return ParsedResponse{}, model.Usage{}, fmt.Errorf("llmadapter: validate image references: %w", err)
	}

	req, err := BuildRequest(step, contextText, validatedRefs)
	if err != nil {
		return ParsedResponse{}, model.Usage{}, err
	}

	provider, err := a.router.Select(step.Model)
	if err != nil {
		return ParsedResponse{}, model.Usage{}, err
	}

	usedToolChoiceFixup := false
	usedImageFixup := false
	usedReasoningFixup := false

	for attempt := 0; attempt < a.policy.MaxAttempts; attempt++ {
		resp, callErr := provider.Generate(ctx, req)
		if callErr == nil {
			parsed := ParseRaw(resp.OutputText, resp.Raw)
			rehosted, err := EnsureValidReferences(ctx, a.store, tenantID, jobID, parsed.ImageURLs)
			if err != nil {
				return ParsedResponse{}, model.Usage{}, fmt.Errorf("llmadapter: rehost response images: %w", err)
			}
			parsed.ImageURLs = rehosted
			return parsed, resp.Usage, nil
		}

		category := ClassifyError(callErr.Error())

		switch {
		case category == CategoryImageDownloadTimeout && !usedImageFixup:
			usedImageFixup = true
			if failingURL, ok := FailingImageURL(callErr.Error()); ok {
				if rehostErr := a.rehostIntoRequest(ctx, tenantID, jobID, &req, failingURL); rehostErr != nil {
					return ParsedResponse{}, model.Usage{}, fmt.Errorf("llmadapter: %w", rehostErr)
				}
			}
			continue

		case category == CategoryToolChoiceConfig && !usedToolChoiceFixup:
			usedToolChoiceFixup = true
			req.ToolChoice = string(model.ToolChoiceAuto)
			continue

		case isReasoningRejected(callErr.Error()) && !usedReasoningFixup:
			usedReasoningFixup = true
			req.Reasoning = nil
			continue

		case ShouldBackoff(category) && attempt < a.policy.MaxAttempts-1:
			select {
			case <-ctx.Done():
				return ParsedResponse{}, model.Usage{}, ctx.Err()
			default:
			}
			a.sleep(BackoffDelay(a.policy, attempt))
			continue

		default:
			return ParsedResponse{}, model.Usage{}, DescriptiveError(category, step.Model, callErr.Error())
		}
	}

	return ParsedResponse{}, model.Usage{}, fmt.Errorf("llmadapter: exhausted retries for model %q", step.Model)
}

// GenerateImages routes an image-generation request to the provider
// responsible for model, then stores each returned image via the artifact
// store and returns their durable URLs — used by the image-plan loop (§4.7)
// once a plan has been produced and validated.
func (a *Adapter) GenerateImages(ctx context.Context, tenantID, jobID string, req capability.ImageGenerationRequest) ([]string, error) {
	provider, err := a.router.Select(req.Model)
	if err != nil {
		return nil, err
	}
	images, err := provider.GenerateImages(ctx, req)
	if err != nil {
		return nil, DescriptiveError(ClassifyError(err.Error()), req.Model, err.Error())
	}
	urls := make([]string, 0, len(images))
	for i, content := range images {
		url, err := a.store.StoreBase64Image(ctx, tenantID, jobID, content, "image/png", "")
		if err != nil {
			return nil, fmt.Errorf("llmadapter: store generated image %d: %w", i, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// rehostIntoRequest downloads and rehosts the image at failingURL and
// rewrites any occurrence of it inside the already-built request's input
// content parts, so the retried call no longer references the failing host.
func (a *Adapter) rehostIntoRequest(ctx context.Context, tenantID, jobID string, req *capability.LLMRequest, failingURL string) error {
	rehosted, err := a.store.StoreImageFromURL(ctx, tenantID, jobID, failingURL, "rehosted-retry.bin")
	if err != nil {
		return fmt.Errorf("rehost failing image url %s: %w", failingURL, err)
	}

	var input []inputMessage
	if err := json.Unmarshal(req.Input, &input); err != nil {
		return fmt.Errorf("decode request input for rehost rewrite: %w", err)
	}
	for mi := range input {
		for ci := range input[mi].Content {
			if input[mi].Content[ci].ImageURL == failingURL {
				input[mi].Content[ci].ImageURL = rehosted
			}
		}
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("re-encode request input after rehost rewrite: %w", err)
	}
	req.Input = encoded
	return nil
}

// isReasoningRejected reports whether a provider error indicates the
// reasoning parameter itself was rejected (as opposed to a reasoning-model
// error unrelated to the parameter), per §4.6's reasoning-retry rule.
func isReasoningRejected(errMessage string) bool {
	lower := strings.ToLower(errMessage)
	return strings.Contains(lower, "reasoning") &&
		(strings.Contains(lower, "unsupported") || strings.Contains(lower, "not supported") || strings.Contains(lower, "unknown parameter"))
}
