package llmadapter

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrorCategory is the taxonomy used by the retry policy and surfaced
// upstream (§4.6, §7), ported from
// original_source/backend/worker/services/error_handler_service.py:classify_error.
type ErrorCategory string

const (
	CategoryAuthentication       ErrorCategory = "authentication"
	CategoryRateLimit            ErrorCategory = "rate_limit"
	CategoryToolChoiceConfig     ErrorCategory = "tool_choice_config"
	CategoryModelNotFound        ErrorCategory = "model_not_found"
	CategoryTimeout              ErrorCategory = "timeout"
	CategoryConnection           ErrorCategory = "connection"
	CategoryImageValidation      ErrorCategory = "image_validation"
	CategoryImageDownloadTimeout ErrorCategory = "image_download_timeout"
	CategoryUnknown              ErrorCategory = "unknown"
)

// ClassifyError maps a raw provider error message to an ErrorCategory.
func ClassifyError(errMessage string) ErrorCategory {
	lower := strings.ToLower(errMessage)

	switch {
	case strings.Contains(errMessage, "API key") || strings.Contains(lower, "authentication"):
		return CategoryAuthentication
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
		return CategoryRateLimit
	case strings.Contains(lower, "tool_choice") && strings.Contains(lower, "required") && strings.Contains(lower, "tools"):
		return CategoryToolChoiceConfig
	case strings.Contains(lower, "model") && strings.Contains(lower, "not found"):
		return CategoryModelNotFound
	case strings.Contains(lower, "image download") && strings.Contains(lower, "timeout"):
		return CategoryImageDownloadTimeout
	case strings.Contains(lower, "timeout"):
		return CategoryTimeout
	case strings.Contains(lower, "connection"):
		return CategoryConnection
	case (strings.Contains(lower, "image data") && strings.Contains(lower, "does not represent a valid image")) ||
		(strings.Contains(lower, "invalid_value") && strings.Contains(lower, "image")) ||
		(strings.Contains(lower, "image") && strings.Contains(lower, "format") && strings.Contains(lower, "not supported")):
		return CategoryImageValidation
	default:
		return CategoryUnknown
	}
}

// DescriptiveError wraps a classified provider error with a human-readable,
// tenant-admin-safe message, matching create_error_exception's per-category
// templates.
func DescriptiveError(category ErrorCategory, modelID string, rawMessage string) error {
	switch category {
	case CategoryAuthentication:
		return fmt.Errorf("llm provider authentication failed; check API key configuration: %s", rawMessage)
	case CategoryRateLimit:
		return fmt.Errorf("llm provider rate limit exceeded; try again later: %s", rawMessage)
	case CategoryToolChoiceConfig:
		return fmt.Errorf("llm provider error: tool_choice 'required' was specified with no tools available; this has been automatically fixed, please retry. original error: %s", rawMessage)
	case CategoryModelNotFound:
		return fmt.Errorf("invalid model %q specified; check your workflow configuration: %s", modelID, rawMessage)
	case CategoryTimeout:
		return fmt.Errorf("llm provider request timed out: %s", rawMessage)
	case CategoryConnection:
		return fmt.Errorf("unable to connect to llm provider; check network connectivity: %s", rawMessage)
	case CategoryImageValidation:
		return fmt.Errorf("llm provider error: invalid image data provided. supported formats: JPEG, PNG, GIF, WebP. check that image URLs are valid HTTP/HTTPS URLs: %s", rawMessage)
	case CategoryImageDownloadTimeout:
		return fmt.Errorf("timed out downloading an image reference for rehosting: %s", rawMessage)
	default:
		return fmt.Errorf("llm provider error: %s", rawMessage)
	}
}

var failingImageURLPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// FailingImageURL extracts the URL named in an image_download_timeout
// error message, for the single retry-after-rehost strategy (§4.6).
func FailingImageURL(errMessage string) (string, bool) {
	m := failingImageURLPattern.FindString(errMessage)
	return m, m != ""
}
