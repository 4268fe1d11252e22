package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxChunk is the longest line the chat transport accepts in one message.
const MaxChunk = 440

var (
	lineBreakRe = regexp.MustCompile(`[ \t]*\r?\n[\s]*`)
	// [[1]](https://…) as emitted by the search endpoint, and bare [1] / [1, 2].
	linkedCitationRe = regexp.MustCompile(`\s?\[\[\d+\]\]\([^)\s]*\)`)
	bareCitationRe   = regexp.MustCompile(`\s?\[\d+(?:,\s*\d+)*\]`)
	multiSpaceRe     = regexp.MustCompile(` {2,}`)
)

// SingleLine collapses every line break (and the whitespace around it) into
// a single space.
func SingleLine(s string) string {
	return strings.TrimSpace(lineBreakRe.ReplaceAllString(s, " "))
}

// StripCitations removes inline citation markers left by live-search replies.
func StripCitations(s string) string {
	out := linkedCitationRe.ReplaceAllString(s, "")
	out = bareCitationRe.ReplaceAllString(out, "")
	if out == s {
		return s
	}
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(out, " "))
}

// Fold splits text on whitespace and greedily packs words into chunks of at
// most max runes.  A single word longer than max is split across chunks.
func Fold(text string, max int) []string {
	if max <= 0 {
		max = MaxChunk
	}
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		wl := utf8.RuneCountInString(word)

		for wl > max {
			flush()
			head := truncateRunes(word, max)
			chunks = append(chunks, head)
			word = word[len(head):]
			wl -= max
		}
		if wl == 0 {
			continue
		}

		need := wl
		if curLen > 0 {
			need++
		}
		if curLen+need > max {
			flush()
			need = wl
		}
		if curLen > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
		curLen += need
	}
	flush()
	return chunks
}
