package intent

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^MODE\s`),
	regexp.MustCompile(`(?i)^(JOIN|PART|QUIT|NICK|KICK|TOPIC)\s`),
	regexp.MustCompile(`(?i)\bhas (joined|quit|left|parted)\b`),
	regexp.MustCompile(`^(\*\*\*|-!-)\s`),
}

func isNoise(line string) bool {
	for _, re := range noisePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// actionBody returns the text of an action line without its marker.
func actionBody(line string, flagged bool) (string, bool) {
	if flagged {
		return line, true
	}
	if rest, ok := strings.CutPrefix(line, "\x01ACTION"); ok {
		return strings.TrimSpace(strings.TrimSuffix(rest, "\x01")), true
	}
	for _, marker := range []string{"* ", "/me "} {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// gestureVerbs maps inflected gesture verbs to their canonical form.
var gestureVerbs = map[string]string{
	"pet": "pet", "pets": "pet", "petted": "pet", "petting": "pet",
	"pat": "pat", "pats": "pat", "patted": "pat", "patting": "pat",
	"headpat": "pat", "headpats": "pat",
	"hug": "hug", "hugs": "hug", "hugged": "hug", "hugging": "hug",
	"cuddle": "hug", "cuddles": "hug", "snuggle": "hug", "snuggles": "hug",
	"poke": "poke", "pokes": "poke", "poked": "poke", "prod": "poke", "prods": "poke",
	"kiss": "kiss", "kisses": "kiss", "kissed": "kiss", "smooch": "kiss", "smooches": "kiss",
	"boop": "boop", "boops": "boop", "booped": "boop",
	"slap": "slap", "slaps": "slap", "slapped": "slap", "whack": "slap", "whacks": "slap",
	"tickle": "tickle", "tickles": "tickle", "tickled": "tickle",
	"feed": "feed", "feeds": "feed", "fed": "feed",
	"high-five": "highfive", "high-fives": "highfive", "highfive": "highfive", "highfives": "highfive",
	"wave": "wave", "waves": "wave", "waved": "wave",
	"nuzzle": "nuzzle", "nuzzles": "nuzzle",
}

// GestureVerbs returns the canonical gesture verbs the classifier knows.
func GestureVerbs() []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range gestureVerbs {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

func classifyAction(body, nick string, direct bool) Result {
	a := analyze(body, nick)
	mentioned := direct || len(a.occurrences) > 0
	if !mentioned {
		return Result{Kind: KindIgnored, Message: body, Rule: "action"}
	}
	for _, w := range a.words {
		if verb, ok := gestureVerbs[w]; ok {
			return Result{Kind: KindEmote, Mentioned: true, Message: body, EmoteVerb: verb, Rule: "emote"}
		}
	}
	return Result{Kind: KindIgnored, Mentioned: true, Message: body, Rule: "action"}
}

// Commands is the allow-list of commands this bot answers.
var Commands = []string{"help", "reset", "join", "part", "ignore", "unignore", "ignored"}

func isOwnCommand(name string) bool {
	for _, c := range Commands {
		if c == name {
			return true
		}
	}
	return false
}

// parseCommand splits "<prefix>name arg..." into its parts.
func parseCommand(message, prefix string) (string, []string, bool) {
	rest, ok := strings.CutPrefix(message, prefix)
	if !ok {
		return "", nil, false
	}
	if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsLetter(r) {
		return "", nil, false
	}
	fields := strings.Fields(rest)
	return strings.ToLower(fields[0]), fields[1:], true
}

// looksLikeCommand matches the prefixes co-resident bots commonly use.
func looksLikeCommand(message string) bool {
	if message == "" || !strings.ContainsRune(".!/", rune(message[0])) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(message[1:])
	return unicode.IsLetter(r)
}

var (
	reviewRe = regexp.MustCompile(`(?i)\b(what do you think|what(?:'s| is) your (?:take|opinion|view|verdict)|your (?:opinion|thoughts|take|verdict) on|thoughts on|opinion on|summari[sz]e|sum (?:it |this |that )?up|recap|tl;?dr|catch me up|review (?:this|that|the)|what did (?:i|we|you|they|he|she|\w+) (?:say|miss|talk)|what (?:have|did) i miss)\b`)
	timeRe   = regexp.MustCompile(`(?i)\b(what(?:'s| is)? the (?:time|date)|what time is it|time is it|current (?:time|date)|(?:local )?time (?:now|in \w+)|what day is (?:it|today)|today'?s date|what(?:'s| is) the day)\b`)
	searchRe = regexp.MustCompile(`(?i)\b(news|headlines?|latest|today'?s|tonight|currently|right now|scores?|who won|weather|forecast|temperature|prices?|stocks?|bitcoin|btc|ethereum|exchange rate|election|trending|look (?:it )?up|search (?:for|the web)|google)\b`)
)

// DetectMode picks the answering mode for an accepted address.
func DetectMode(message string) Mode {
	m := strings.TrimSpace(message)
	if m == "^^" || reviewRe.MatchString(m) {
		return ModeReview
	}
	if timeRe.MatchString(m) {
		return ModeTime
	}
	if searchRe.MatchString(m) {
		return ModeSearch
	}
	return ModePlain
}
