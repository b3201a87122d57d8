package detector

import "strings"

// maxExcerptLen bounds the evidence excerpt embedded in a threat so a
// report never reproduces a long stretch of (possibly hostile) input.
const maxExcerptLen = 60

// excerptAt builds the evidence excerpt for a match beginning at start
// within line. Any legitimate prefix code on the line is elided: the
// excerpt begins at the match itself, with interstitial whitespace
// trimmed, capped at maxExcerptLen bytes, and bracketed by ellipsis
// markers so readers know it is a fragment, not the whole line.
func excerptAt(line string, start int) string {
	if start < 0 {
		start = 0
	}
	if start > len(line) {
		start = len(line)
	}

	end := start + maxExcerptLen
	if end > len(line) {
		end = len(line)
	}
	body := strings.TrimSpace(line[start:end])
	if body == "" {
		body = strings.TrimSpace(line)
		if len(body) > maxExcerptLen {
			body = body[:maxExcerptLen]
		}
	}
	return "... " + body + "..."
}
