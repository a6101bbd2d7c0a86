// Package contextbuilder implements C4: the three context strings and the
// deduplicated image URL list fed to each step, grounded on
// original_source/backend/worker/utils/images/extraction.py for the URL
// cleaning and deduplication rules.
package contextbuilder

import (
	"net/url"
	"strings"
)

// CleanImageURL strips trailing punctuation a URL picked up from
// surrounding prose (".", ",", "!", "?", ";", ":") and unmatched trailing
// ")" characters, repeating until neither remains. A trailing ")" is kept
// only when the URL's last "(" has no "?" or "#" after it — ported from
// clean_image_url. Idempotent:
// CleanImageURL(CleanImageURL(u)) == CleanImageURL(u).
func CleanImageURL(raw string) string {
	if raw == "" {
		return raw
	}

	cleaned := raw
	for {
		cleaned = strings.TrimRight(cleaned, ".,!?;:")
		if !strings.HasSuffix(cleaned, ")") {
			break
		}
		lastOpen := strings.LastIndex(cleaned, "(")
		lastQMark := strings.LastIndex(cleaned, "?")
		lastHash := strings.LastIndex(cleaned, "#")

		if lastOpen == -1 || (lastQMark != -1 && lastOpen < lastQMark) || (lastHash != -1 && lastOpen < lastHash) {
			cleaned = cleaned[:len(cleaned)-1]
			continue
		}
		break
	}

	return cleaned
}

// NormalizeImageURLForDedup drops query parameters and fragment so two URLs
// that differ only by a cache-busting query string compare equal, matching
// deduplicate_image_urls's normalization.
func NormalizeImageURLForDedup(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.Scheme + "://" + parsed.Host + parsed.Path
}

// DedupeImageURLs returns urls with duplicates removed, comparing by
// NormalizeImageURLForDedup but preserving first-seen original URLs and
// insertion order.
func DedupeImageURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		key := NormalizeImageURLForDedup(u)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}
