package llmadapter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyErrorCategories(t *testing.T) {
	cases := []struct {
		message  string
		expected ErrorCategory
	}{
		{"Invalid API key provided", CategoryAuthentication},
		{"Error: authentication failed", CategoryAuthentication},
		{"You have exceeded your current rate limit", CategoryRateLimit},
		{"quota exceeded for this month", CategoryRateLimit},
		{"tool_choice 'required' specified but no tools are available", CategoryToolChoiceConfig},
		{"The model 'gpt-99' does not exist or you do not have access, model not found", CategoryModelNotFound},
		{"image download request timeout after 10s", CategoryImageDownloadTimeout},
		{"Request timeout while waiting for response", CategoryTimeout},
		{"connection reset by peer", CategoryConnection},
		{"the image data does not represent a valid image format", CategoryImageValidation},
		{"something completely unexpected happened", CategoryUnknown},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, ClassifyError(c.message), c.message)
	}
}

func TestDescriptiveErrorIncludesCategoryContext(t *testing.T) {
	err := DescriptiveError(CategoryModelNotFound, "gpt-99", "model not found")
	require.ErrorContains(t, err, "gpt-99")
	require.ErrorContains(t, err, "model not found")

	err = DescriptiveError(CategoryToolChoiceConfig, "gpt-5", "tool_choice required with no tools")
	require.ErrorContains(t, err, "automatically fixed")
}

func TestFailingImageURLExtractsURL(t *testing.T) {
	url, ok := FailingImageURL("timed out downloading https://cdn.example.com/a.png after 10s")
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.com/a.png", url)

	_, ok = FailingImageURL("no url here")
	require.False(t, ok)
}
