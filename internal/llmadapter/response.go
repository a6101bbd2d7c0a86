package llmadapter

import (
	"encoding/json"
	"regexp"

	"github.com/grandcanyonsmith/leadengine/internal/contextbuilder"
)

// imageURLPattern matches an http(s) URL ending in a common image extension,
// optionally followed by a query string — ported from
// original_source/backend/worker/utils/images/extraction.py:extract_image_urls.
var imageURLPattern = regexp.MustCompile("(?i)https?://[^\\s<>\"{}|\\\\^`\\[\\]]+\\.(?:png|jpg|jpeg|gif|webp|svg|bmp|ico)(?:\\?[^\\s<>\"{}|\\\\^`\\[\\]]*)?")

var imageExtensionPattern = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|gif|webp|svg|bmp|ico)(\?.*)?$`)

// IsImageURL reports whether url ends in a recognized image extension,
// ignoring a trailing query string.
func IsImageURL(url string) bool {
	return imageExtensionPattern.MatchString(url)
}

// ExtractImageURLsFromText scans free-form text for image URLs, cleaning
// trailing punctuation and filtering to recognized image extensions.
func ExtractImageURLsFromText(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, m := range imageURLPattern.FindAllString(text, -1) {
		cleaned := contextbuilder.CleanImageURL(m)
		if cleaned != "" && IsImageURL(cleaned) {
			out = append(out, cleaned)
		}
	}
	return contextbuilder.DedupeImageURLs(out)
}

// ExtractImageURLsFromValue walks an arbitrary decoded-JSON value (map,
// slice, or string) collecting every image URL found in any string leaf —
// ported from extract_image_urls_from_object, used to recover image
// references embedded anywhere in a structured provider response.
func ExtractImageURLsFromValue(v any) []string {
	var out []string
	switch val := v.(type) {
	case string:
		out = append(out, ExtractImageURLsFromText(val)...)
	case []any:
		for _, item := range val {
			out = append(out, ExtractImageURLsFromValue(item)...)
		}
	case map[string]any:
		for _, item := range val {
			out = append(out, ExtractImageURLsFromValue(item)...)
		}
	}
	return contextbuilder.DedupeImageURLs(out)
}

// Rehoster stores base64 image bytes and returns a durable URL, satisfied by
// artifactstore.Store.StoreBase64Image.
type Rehoster func(data, contentType string) (url string, err error)

// RewriteBase64Images walks a decoded structured response in place,
// replacing every {encoding:"base64", data:...} leaf with
// {encoding:"url", data:<rehosted URL>} so that downstream consumers (the
// Context Builder, the delivery finalizer) only ever see stable URLs, never
// inline image bytes.
func RewriteBase64Images(v any, rehost Rehoster) error {
	switch val := v.(type) {
	case map[string]any:
		if enc, ok := val["encoding"].(string); ok && enc == "base64" {
			data, _ := val["data"].(string)
			url, err := rehost(data, "image/png")
			if err != nil {
				return err
			}
			val["encoding"] = "url"
			val["data"] = url
			return nil
		}
		for _, item := range val {
			if err := RewriteBase64Images(item, rehost); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range val {
			if err := RewriteBase64Images(item, rehost); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParsedResponse is the LLM Adapter's fully-parsed view of one provider
// call: text output plus every image URL discovered in it, deduplicated and
// order-preserving. Raw is kept for callers (the tool loops, §4.7) that need
// to recover structured tool-call items the generic extraction does not
// surface.
type ParsedResponse struct {
	OutputText string
	ImageURLs  []string
	Raw        json.RawMessage
}

// ParseRaw extracts the primary text output and every recoverable image URL
// from a raw provider response: structured image_generation_call items,
// {encoding:"base64",...} fields (left as-is; callers needing a rehosted URL
// should route them through the artifact store before calling this), and a
// best-effort text scan over the whole payload.
func ParseRaw(outputText string, raw json.RawMessage) ParsedResponse {
	var urls []string
	urls = append(urls, ExtractImageURLsFromText(outputText)...)

	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		urls = append(urls, ExtractImageURLsFromValue(decoded)...)
	}

	return ParsedResponse{
		OutputText: outputText,
		ImageURLs:  contextbuilder.DedupeImageURLs(urls),
		Raw:        raw,
	}
}

// ToolCall is one tool invocation recovered from a structured response —
// the generic union of computer-use, shell, and other function-call items
// the tool loops (§4.7) dispatch against their effector.
type ToolCall struct {
	Type      string
	Arguments json.RawMessage
}

// ExtractToolCalls walks the raw structured response for items whose "type"
// matches one of wantTypes, returning their "arguments" (or, failing that,
// the whole item) as the call payload — used by the computer-use and shell
// loops to recover the model's requested actions/commands each turn.
func ExtractToolCalls(raw json.RawMessage, wantTypes ...string) ([]ToolCall, error) {
	var decoded struct {
		Output []json.RawMessage `json:"output"`
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(wantTypes))
	for _, t := range wantTypes {
		want[t] = struct{}{}
	}

	var calls []ToolCall
	for _, item := range decoded.Output {
		var head struct {
			Type      string          `json:"type"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			continue
		}
		if _, ok := want[head.Type]; !ok {
			continue
		}
		args := head.Arguments
		if len(args) == 0 {
			args = item
		}
		calls = append(calls, ToolCall{Type: head.Type, Arguments: args})
	}
	return calls, nil
}
