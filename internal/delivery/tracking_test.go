package delivery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateTrackingScriptEmptyAPIURL(t *testing.T) {
	require.Empty(t, GenerateTrackingScript("job1", "tenant1", ""))
}

func TestGenerateTrackingScriptEmbedsConfig(t *testing.T) {
	script := GenerateTrackingScript("job-123", "tenant-abc", "https://api.example.com/")
	require.Contains(t, script, "jobId: 'job-123'")
	require.Contains(t, script, "tenantId: 'tenant-abc'")
	require.Contains(t, script, "apiUrl: 'https://api.example.com'")
	require.Contains(t, script, "sendBeacon")
	require.Contains(t, script, "/v1/tracking/event")
	require.Contains(t, script, "heartbeatInterval: 30000")
	require.Contains(t, script, "sessionTimeout: 1800000")
}

func TestGenerateTrackingScriptTrimsTrailingSlash(t *testing.T) {
	a := GenerateTrackingScript("j", "t", "https://api.example.com")
	b := GenerateTrackingScript("j", "t", "https://api.example.com/")
	require.Equal(t, a, b)
}

func TestEscapeJSStringEscapesSpecialCharacters(t *testing.T) {
	in := "back\\slash'quote\"double\nnewline\ttab`tick/slash"
	out := escapeJSString(in)
	require.Equal(t, `back\\slash\'quote\"double\nnewline\ttab\`+"`"+`tick\/slash`, out)
	require.False(t, strings.Contains(out, "\n"))
}

func TestEscapeJSStringEmpty(t *testing.T) {
	require.Empty(t, escapeJSString(""))
}

func TestGenerateTrackingScriptEscapesIdentifiers(t *testing.T) {
	script := GenerateTrackingScript("job'1", "tenant\"2", "https://api.example.com")
	require.Contains(t, script, `job\'1`)
	require.Contains(t, script, `tenant\"2`)
}
