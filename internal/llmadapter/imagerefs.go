package llmadapter

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/grandcanyonsmith/leadengine/internal/artifactstore"
	"github.com/grandcanyonsmith/leadengine/internal/contextbuilder"
)

// problematicHosts are hosts whose URLs the provider's fetcher cannot reach
// and which must therefore be rehosted before being sent — ported from
// original_source/backend/worker/utils/images/extraction.py:is_problematic_url,
// and supplemented per SPEC_FULL.md §2.
var problematicHosts = []string{
	"firebasestorage.googleapis.com",
	"gencdn.ai",
	"rendergfx.ai",
	"cdn.openai.com",
}

// IsProblematicURL reports whether url must be proactively downloaded and
// rehosted rather than sent to the provider directly: it is a data URL, a
// known-unreachable CDN host, or a WordPress upload path.
func IsProblematicURL(raw string) bool {
	if raw == "" {
		return false
	}
	if strings.HasPrefix(raw, "data:") {
		return true
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return true
	}
	host := strings.ToLower(parsed.Host)

	for _, h := range problematicHosts {
		if strings.Contains(host, h) {
			return true
		}
	}

	lower := strings.ToLower(raw)
	if strings.Contains(lower, "wp-content") || strings.Contains(host, "wordpress") {
		return true
	}

	return false
}

// EnsureValidReferences validates a list of image URLs against the §4.6
// allow-list (HTTP/HTTPS or base64 data URLs) and rehosts every data URL and
// any problematic HTTP(S) URL as a tenant-owned URL, returning the rewritten
// list in the same order.
func EnsureValidReferences(ctx context.Context, store *artifactstore.Store, tenantID, jobID string, urls []string) ([]string, error) {
	out := make([]string, len(urls))
	for i, raw := range urls {
		cleaned := contextbuilder.CleanImageURL(raw)
		switch {
		case strings.HasPrefix(cleaned, "data:"):
			meta, payload, _ := strings.Cut(strings.TrimPrefix(cleaned, "data:"), ",")
			content, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				return nil, fmt.Errorf("llmadapter: decode data URL image reference: %w", err)
			}
			rehosted, err := store.StoreBase64Image(ctx, tenantID, jobID, content, strings.TrimSuffix(meta, ";base64"), "")
			if err != nil {
				return nil, fmt.Errorf("llmadapter: rehost data URL image reference: %w", err)
			}
			out[i] = rehosted
		case strings.HasPrefix(cleaned, "http://") || strings.HasPrefix(cleaned, "https://"):
			if IsProblematicURL(cleaned) {
				rehosted, err := store.StoreImageFromURL(ctx, tenantID, jobID, cleaned, rehostedFilename(i))
				if err != nil {
					return nil, fmt.Errorf("llmadapter: rehost %s: %w", cleaned, err)
				}
				out[i] = rehosted
			} else {
				out[i] = cleaned
			}
		default:
			return nil, fmt.Errorf("llmadapter: image reference %q is not http(s) or a data URL", raw)
		}
	}
	return out, nil
}

func rehostedFilename(i int) string {
	return fmt.Sprintf("rehosted-%d.bin", i)
}
