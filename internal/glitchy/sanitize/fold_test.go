package sanitize_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bdobrica/glitchy/internal/glitchy/sanitize"
)

func TestFold_PacksWordsGreedily(t *testing.T) {
	got := sanitize.Fold("aaa bbb ccc ddd", 7)
	want := []string{"aaa bbb", "ccc ddd"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Fold = %q, want %q", got, want)
	}
}

func TestFold_ShortTextIsOneChunk(t *testing.T) {
	got := sanitize.Fold("  hello   world ", sanitize.MaxChunk)
	if len(got) != 1 || got[0] != "hello world" {
		t.Errorf("Fold = %q", got)
	}
}

func TestFold_EmptyText(t *testing.T) {
	if got := sanitize.Fold("   ", 10); len(got) != 0 {
		t.Errorf("expected no chunks, got %q", got)
	}
}

func TestFold_SplitsOverlongWords(t *testing.T) {
	long := strings.Repeat("x", 25)
	got := sanitize.Fold("hi "+long+" end", 10)
	want := []string{"hi", "xxxxxxxxxx", "xxxxxxxxxx", "xxxxx end"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Fold = %q, want %q", got, want)
	}
}

func TestFold_RespectsLimitInRunes(t *testing.T) {
	text := strings.Repeat("ünïcødé ", 200)
	for i, c := range sanitize.Fold(text, sanitize.MaxChunk) {
		if n := utf8.RuneCountInString(c); n > sanitize.MaxChunk {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
	}
}

func TestFold_PreservesWords(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 60)
	got := strings.Join(sanitize.Fold(text, 50), " ")
	if got != strings.Join(strings.Fields(text), " ") {
		t.Error("folding lost or reordered words")
	}
}

func TestSingleLine(t *testing.T) {
	cases := map[string]string{
		"one\ntwo":            "one two",
		"one  \r\n\n  two\n":  "one two",
		"already single line": "already single line",
	}
	for in, want := range cases {
		if got := sanitize.SingleLine(in); got != want {
			t.Errorf("SingleLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripCitations(t *testing.T) {
	cases := map[string]string{
		"Rain expected [[1]](https://example.com/w) tomorrow.": "Rain expected tomorrow.",
		"Scores were 2-1 [1][2].":                              "Scores were 2-1.",
		"See [1, 3] for details":                               "See for details",
		"arrays like a[i] stay":                                "arrays like a[i] stay",
		"no markers here":                                      "no markers here",
	}
	for in, want := range cases {
		if got := sanitize.StripCitations(in); got != want {
			t.Errorf("StripCitations(%q) = %q, want %q", in, got, want)
		}
	}
}
