package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInjectBeforeBodyClose_InsertsBeforeBodyTag(t *testing.T) {
	html := "<html><body><h1>Hi</h1></body></html>"
	out := InjectBeforeBodyClose(html, "<script>track()</script>")
	require.Equal(t, "<html><body><h1>Hi</h1><script>track()</script>\n</body></html>", out)
}

func TestInjectBeforeBodyClose_CaseInsensitiveMatch(t *testing.T) {
	html := "<html><BODY><h1>Hi</h1></BODY></html>"
	out := InjectBeforeBodyClose(html, "<script>x</script>")
	require.Contains(t, out, "<script>x</script>\n</BODY>")
}

func TestInjectBeforeBodyClose_AppendsWhenNoBodyTag(t *testing.T) {
	html := "<div>no body tag here</div>"
	out := InjectBeforeBodyClose(html, "<script>x</script>")
	require.Equal(t, html+"\n<script>x</script>\n", out)
}

func TestInjectBeforeBodyClose_SkipsEmptyScripts(t *testing.T) {
	html := "<html><body></body></html>"
	out := InjectBeforeBodyClose(html, "", "")
	require.Equal(t, html, out)
}

func TestInjectBeforeBodyClose_MultipleScriptsPreserveOrder(t *testing.T) {
	html := "<html><body></body></html>"
	out := InjectBeforeBodyClose(html, "<script>first()</script>", "", "<script>second()</script>")
	expected := "<html><body><script>first()</script>\n<script>second()</script>\n</body></html>"
	require.Equal(t, expected, out)
}

func TestInjectBeforeBodyClose_NoScriptsReturnsUnchanged(t *testing.T) {
	html := "<html><body></body></html>"
	require.Equal(t, html, InjectBeforeBodyClose(html))
}
