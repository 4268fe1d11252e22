// Package sanitize makes model output safe to post into a shared chat room.
//
// Clean applies a fixed sequence of rules to a raw reply; each rule sees the
// output of the previous one.  The result never contains fenced code, a large
// box-drawing picture or a broadcast ping, and never exceeds MaxRunes.
// Applying Clean to its own output is a no-op.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxRunes is the longest reply Clean lets through untouched.
	MaxRunes = 1400
	// TruncateRunes is where an over-long reply is cut before Ellipsis is
	// appended.
	TruncateRunes = 1390
	// Ellipsis marks a truncated reply.
	Ellipsis = " […]"

	// CodePlaceholder replaces each fenced code block.
	CodePlaceholder = " (code removed) "
	// ArtRefusal replaces the whole reply when it contains glyph art.
	ArtRefusal = "I was gonna draw something cool… but I won’t flood the channel"
	// PingPlaceholder replaces @everyone / @here.
	PingPlaceholder = "(nope)"

	// minArtLines is the number of consecutive box-drawing lines that counts
	// as a picture.
	minArtLines = 4
)

var (
	codeFenceRe = regexp.MustCompile("(?s)```.*?```")
	shadingRe   = regexp.MustCompile(`[\x{2580}-\x{259F}]{5,}`)
	pingRe      = regexp.MustCompile(`(?i)@(everyone|here)\b`)
)

// Report lists which rules changed the text.  The zero value means the reply
// passed through unchanged.
type Report struct {
	CodeRemoved      bool
	ArtSuppressed    bool
	ShadingCollapsed bool
	PingsNeutralized bool
	Truncated        bool
}

// Triggered returns the names of the rules that fired, in pipeline order.
func (r Report) Triggered() []string {
	var out []string
	if r.CodeRemoved {
		out = append(out, "code")
	}
	if r.ArtSuppressed {
		out = append(out, "art")
	}
	if r.ShadingCollapsed {
		out = append(out, "shading")
	}
	if r.PingsNeutralized {
		out = append(out, "ping")
	}
	if r.Truncated {
		out = append(out, "truncate")
	}
	return out
}

// Clean runs the sanitation pipeline over s.
func Clean(s string) (string, Report) {
	var rep Report

	if out := codeFenceRe.ReplaceAllString(s, CodePlaceholder); out != s {
		rep.CodeRemoved = true
		s = out
	}

	if hasGlyphArt(s) {
		rep.ArtSuppressed = true
		return ArtRefusal, rep
	}

	if out := shadingRe.ReplaceAllString(s, " "); out != s {
		rep.ShadingCollapsed = true
		s = out
	}

	if out := pingRe.ReplaceAllString(s, PingPlaceholder); out != s {
		rep.PingsNeutralized = true
		s = out
	}

	if utf8.RuneCountInString(s) > MaxRunes {
		rep.Truncated = true
		s = truncateRunes(s, TruncateRunes) + Ellipsis
	}

	return s, rep
}

// hasGlyphArt reports whether s has minArtLines or more consecutive lines
// that begin with a box-drawing character.
func hasGlyphArt(s string) bool {
	run := 0
	for _, line := range strings.Split(s, "\n") {
		if startsWithBoxDrawing(line) {
			run++
			if run >= minArtLines {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

// Leading block-shading is skipped too, so that collapsing shading later
// cannot expose a picture on a second pass.
func startsWithBoxDrawing(line string) bool {
	line = strings.TrimLeftFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || (r >= 0x2580 && r <= 0x259F)
	})
	r, _ := utf8.DecodeRuneInString(line)
	return r >= 0x2500 && r <= 0x257F
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
