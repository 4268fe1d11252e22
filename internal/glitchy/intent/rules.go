package intent

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxShortWords is the longest line accepted as an address purely for being
// short.
const maxShortWords = 6

// analysis is the pre-computed view of a line that address rules inspect.
// All offsets refer to lower.
type analysis struct {
	lower       string
	nick        string
	occurrences []int
	words       []string
}

var urlRe = regexp.MustCompile(`(?i)(?:https?://|www\.)\S+`)

func analyze(line, nick string) *analysis {
	lower := strings.ToLower(line)
	a := &analysis{lower: lower, nick: nick}
	a.occurrences = findMentions(lower, nick)
	for _, f := range strings.Fields(lower) {
		if w := trimWord(f); w != "" {
			a.words = append(a.words, w)
		}
	}
	return a
}

// findMentions returns the byte offsets where nick occurs in lower as a
// delimited token.
func findMentions(lower, nick string) []int {
	if nick == "" {
		return nil
	}
	var out []int
	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], nick)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(nick)
		before, _ := utf8.DecodeLastRuneInString(lower[:start])
		after, _ := utf8.DecodeRuneInString(lower[end:])
		if (start == 0 || !isNickRune(before)) && (end == len(lower) || !isNickRune(after)) {
			out = append(out, start)
		}
		from = start + 1
	}
	return out
}

func trimWord(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
}

// wordIndex returns the index in a.words of the word containing offset.
func (a *analysis) wordIndex(offset int) int {
	return len(strings.Fields(a.lower[:offset]))
}

// prevWord returns the word immediately before offset, lower-cased and
// stripped of punctuation.
func (a *analysis) prevWord(offset int) string {
	fields := strings.Fields(a.lower[:offset])
	if len(fields) == 0 {
		return ""
	}
	return trimWord(fields[len(fields)-1])
}

func (a *analysis) followedBy(offset int, suffixes ...string) bool {
	rest := a.lower[offset+len(a.nick):]
	for _, s := range suffixes {
		if strings.HasPrefix(rest, s) {
			return true
		}
	}
	return false
}

// allOccurrences reports whether pred holds for every mention.
func (a *analysis) allOccurrences(pred func(offset int) bool) bool {
	if len(a.occurrences) == 0 {
		return false
	}
	for _, off := range a.occurrences {
		if !pred(off) {
			return false
		}
	}
	return true
}

type verdict int

const (
	reject verdict = iota
	accept
)

// addressRule is one step of the mention-to-address refinement.  Rules are
// evaluated in order and the first one that matches decides.
type addressRule struct {
	name    string
	verdict verdict
	match   func(a *analysis) bool
}

var addressRules = []addressRule{
	{name: "quoted", verdict: reject, match: matchQuoted},
	{name: "predicative", verdict: reject, match: matchPredicative},
	{name: "reported-speech", verdict: reject, match: matchReportedSpeech},
	{name: "vocative", verdict: accept, match: matchVocative},
	{name: "question", verdict: accept, match: matchQuestion},
	{name: "short", verdict: accept, match: func(a *analysis) bool { return len(a.words) <= maxShortWords }},
	{name: "list", verdict: reject, match: matchList},
	{name: "default", verdict: accept, match: func(*analysis) bool { return true }},
}

// checkAddress applies addressRules to a mentioned line.
func checkAddress(a *analysis) (bool, string) {
	for _, r := range addressRules {
		if r.match(a) {
			return r.verdict == accept, r.name
		}
	}
	return true, "default"
}

type span struct{ start, end int }

func (s span) contains(off int) bool { return off >= s.start && off < s.end }

// quotedSpans returns the regions of lower inside double quotes, curly quotes,
// backticks or URLs.
func quotedSpans(lower string) []span {
	var spans []span
	for _, m := range urlRe.FindAllStringIndex(lower, -1) {
		spans = append(spans, span{m[0], m[1]})
	}
	pairs := [][2]string{{`"`, `"`}, {"“", "”"}, {"`", "`"}}
	for _, p := range pairs {
		from := 0
		for {
			i := strings.Index(lower[from:], p[0])
			if i < 0 {
				break
			}
			open := from + i + len(p[0])
			j := strings.Index(lower[open:], p[1])
			if j < 0 {
				break
			}
			spans = append(spans, span{open, open + j})
			from = open + j + len(p[1])
		}
	}
	return spans
}

func matchQuoted(a *analysis) bool {
	trimmed := strings.TrimSpace(a.lower)
	if strings.HasPrefix(trimmed, ">") || strings.HasPrefix(trimmed, "```") {
		return true
	}
	spans := quotedSpans(a.lower)
	if len(spans) == 0 {
		return false
	}
	return a.allOccurrences(func(off int) bool {
		for _, s := range spans {
			if s.contains(off) {
				return true
			}
		}
		return false
	})
}

var predicativeWords = set(
	"is", "was", "are", "were", "be", "been", "being", "am", "so", "very",
	"too", "really", "pretty", "kinda", "bit", "more", "less", "most",
	"quite", "super", "totally", "looks", "seems", "feels", "got", "gets",
	"getting", "felt", "seemed", "looked", "sounds", "slightly", "extremely",
)

func matchPredicative(a *analysis) bool {
	return a.allOccurrences(func(off int) bool {
		if a.followedBy(off, "'s", "’s", "s'") {
			return true
		}
		return predicativeWords[a.prevWord(off)]
	})
}

var reportedSpeechWords = set(
	"say", "says", "said", "saying", "type", "types", "typed", "typing",
	"call", "calls", "called", "calling", "named", "name", "word", "spell",
	"spelled", "write", "wrote", "mention", "mentioned", "mentions",
)

func matchReportedSpeech(a *analysis) bool {
	return a.allOccurrences(func(off int) bool {
		return reportedSpeechWords[a.prevWord(off)]
	})
}

var greetingWords = set(
	"hi", "hey", "hello", "heya", "hiya", "yo", "oi", "sup", "thanks",
	"thank", "thx", "ty", "cheers", "morning", "evening", "night", "gn",
	"gm", "ok", "okay", "dear", "please", "pls", "sorry", "welcome", "bye",
	"cya", "ahoy", "howdy", "greetings",
)

func matchVocative(a *analysis) bool {
	nick := a.nick
	head := strings.TrimLeftFunc(a.lower, func(r rune) bool {
		return unicode.IsSpace(r) || r == '@'
	})
	if strings.HasPrefix(head, nick) && !a.followedBy(len(a.lower)-len(head), "'s", "’s") {
		if len(head) == len(nick) {
			return true
		}
		if r, _ := utf8.DecodeRuneInString(head[len(nick):]); !isNickRune(r) {
			return true
		}
	}
	tail := strings.TrimRightFunc(a.lower, func(r rune) bool { return !isNickRune(r) })
	if strings.HasSuffix(tail, nick) {
		rest := tail[:len(tail)-len(nick)]
		if r, _ := utf8.DecodeLastRuneInString(rest); rest == "" || !isNickRune(r) {
			return true
		}
	}
	for _, off := range a.occurrences {
		if greetingWords[a.prevWord(off)] {
			return true
		}
	}
	return false
}

var questionOpeners = set(
	"what", "why", "how", "who", "whom", "whose", "when", "where", "which",
	"can", "could", "would", "will", "should", "do", "does", "did", "is",
	"are", "any", "anyone",
)

func matchQuestion(a *analysis) bool {
	if strings.Contains(a.lower, "?") {
		return true
	}
	return len(a.words) > 0 && questionOpeners[a.words[0]]
}

func matchList(a *analysis) bool {
	if !strings.Contains(a.lower, ",") && !strings.Contains(a.lower, " and ") {
		return false
	}
	return a.wordIndex(a.occurrences[0]) > 2
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
