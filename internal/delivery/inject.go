package delivery

import "regexp"

var bodyCloseTag = regexp.MustCompile(`(?i)</body>`)

// InjectBeforeBodyClose inserts scripts, in order, immediately before the
// first case-insensitive </body> match, or appends them to the end of html
// if no </body> tag exists (§4.10, §6). Empty scripts are skipped so a
// caller can pass an unconditionally-computed tracking script that turned
// out empty (e.g. no API URL configured) without it affecting the output.
//
// Kept as a reusable multi-script injection point (not just a single
// tracking-script call) because the original engine also supports a second,
// optional session-replay script injected at the same point; this module
// only wires the tracking script through it (§1 SUPPLEMENTED FEATURES).
func InjectBeforeBodyClose(html string, scripts ...string) string {
	var nonEmpty []string
	for _, s := range scripts {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return html
	}

	block := ""
	for _, s := range nonEmpty {
		block += s + "\n"
	}

	if loc := bodyCloseTag.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + block + html[loc[0]:]
	}
	return html + "\n" + block
}
