// Package config loads process-wide configuration from the environment
// variables named in spec §6. It is read once at process start and passed
// explicitly to collaborators (§9: no hidden global configuration).
package config

import (
	"fmt"
	"os"
	"strconv"
)

// LogFormat selects the structured logging output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// Config is the process-wide configuration recognized by the core (§6).
type Config struct {
	LogFormat LogFormat

	ObjectStoreBucket string
	ObjectStoreRegion string
	CDNDomain         string

	ShellExecutorFunctionName       string
	ShellExecutorWorkspaceTTLHours  int
	ShellExecutorWorkspaceCleanupLimit int

	LLMSecretName string

	// APIURL is the base URL the injected tracking script posts events to
	// (§6 "Tracking script"), ported from original_source's API_URL/
	// API_GATEWAY_URL environment lookup.
	APIURL string

	// TemplateRenderModel names the model used for the Delivery Finalizer's
	// template-fidelity re-render (§4.10), defaulting to the model the
	// original HTML generator used.
	TemplateRenderModel string

	// EmailFromAddress is the sender address for the email delivery method
	// (§4.10).
	EmailFromAddress string

	// DeliveryWebhookMaxRetries bounds the Delivery Finalizer's webhook
	// retry loop on non-2xx responses (§4.10).
	DeliveryWebhookMaxRetries int

	// JobID, StepIndex, and ContinueAfter are populated only when the worker
	// is driven as a subprocess (§6); the HTTP/queue-triggered entry point
	// instead receives these fields on its invocation payload.
	JobID         string
	StepIndex     *int
	ContinueAfter bool

	// FixturePath, when set, switches the worker from its AWS/Mongo/Redis
	// wiring to a local YAML fixture (WORKER_FIXTURE_PATH) holding an
	// in-memory Job/Workflow/Submission/Form set — for running a job end to
	// end on a laptop with no cloud credentials.
	FixturePath string
}

// FromEnv loads a Config from the process environment, applying the
// defaults named in §6 (LOG_FORMAT defaults to json).
func FromEnv() (Config, error) {
	cfg := Config{
		LogFormat:         LogFormat(orDefault(os.Getenv("LOG_FORMAT"), string(LogFormatJSON))),
		ObjectStoreBucket: os.Getenv("OBJECT_STORE_BUCKET"),
		ObjectStoreRegion: os.Getenv("OBJECT_STORE_REGION"),
		CDNDomain:         os.Getenv("CDN_DOMAIN"),

		ShellExecutorFunctionName: os.Getenv("SHELL_EXECUTOR_FUNCTION_NAME"),

		LLMSecretName: os.Getenv("LLM_SECRET_NAME"),
		JobID:         os.Getenv("JOB_ID"),

		APIURL:                    orDefault(os.Getenv("API_URL"), os.Getenv("API_GATEWAY_URL")),
		TemplateRenderModel:       orDefault(os.Getenv("TEMPLATE_RENDER_MODEL"), "gpt-5.2"),
		EmailFromAddress:          os.Getenv("EMAIL_FROM_ADDRESS"),
		DeliveryWebhookMaxRetries: 3,
		FixturePath:               os.Getenv("WORKER_FIXTURE_PATH"),
	}

	if cfg.LogFormat != LogFormatJSON && cfg.LogFormat != LogFormatText {
		return Config{}, fmt.Errorf("config: invalid LOG_FORMAT %q", cfg.LogFormat)
	}

	if v := os.Getenv("SHELL_EXECUTOR_WORKSPACE_TTL_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid SHELL_EXECUTOR_WORKSPACE_TTL_HOURS: %w", err)
		}
		cfg.ShellExecutorWorkspaceTTLHours = n
	}
	if v := os.Getenv("SHELL_EXECUTOR_WORKSPACE_CLEANUP_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid SHELL_EXECUTOR_WORKSPACE_CLEANUP_LIMIT: %w", err)
		}
		cfg.ShellExecutorWorkspaceCleanupLimit = n
	}
	if v := os.Getenv("DELIVERY_WEBHOOK_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid DELIVERY_WEBHOOK_MAX_RETRIES: %w", err)
		}
		cfg.DeliveryWebhookMaxRetries = n
	}
	if v := os.Getenv("STEP_INDEX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid STEP_INDEX: %w", err)
		}
		cfg.StepIndex = &n
	}
	if v := os.Getenv("CONTINUE_AFTER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid CONTINUE_AFTER: %w", err)
		}
		cfg.ContinueAfter = b
	}

	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
