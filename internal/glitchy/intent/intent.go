// Package intent decides what an incoming chat line means to the bot.
//
// Classify is pure and deterministic: it looks only at the line, the bot's
// nick and a few flags describing how the line arrived.  The pipeline runs in
// a fixed order (noise, emote, mention, command, address heuristics, mode)
// and the first stage that reaches a verdict wins.  Result.Rule names the
// stage or heuristic rule that decided, for logging.
package intent

import (
	"strings"
	"unicode"
)

// Kind is the coarse classification of a line.
type Kind int

const (
	// KindIgnored lines are dropped: foreign bot commands, actions that are
	// not gestures at the bot, empty addresses.
	KindIgnored Kind = iota
	// KindNoise lines are connection management chatter.
	KindNoise
	// KindEmote is an action gesture aimed at the bot ("/me pets glitchy").
	KindEmote
	// KindCommand is one of the bot's own commands, addressed to it.
	KindCommand
	// KindAmbient lines are ordinary chat not addressed to the bot.  They are
	// kept as background but never answered.
	KindAmbient
	// KindAddress lines are directed at the bot and should be answered.
	KindAddress
)

func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "ignored"
	case KindNoise:
		return "noise"
	case KindEmote:
		return "emote"
	case KindCommand:
		return "command"
	case KindAmbient:
		return "ambient"
	case KindAddress:
		return "address"
	}
	return "unknown"
}

// Mode selects how an accepted address is answered.
type Mode string

const (
	ModePlain  Mode = "plain"
	ModeSearch Mode = "search"
	ModeReview Mode = "review"
	ModeTime   Mode = "time"
)

// DefaultCommandPrefix introduces the bot's own commands.
const DefaultCommandPrefix = "."

// Input is everything Classify looks at.
type Input struct {
	// Line is the raw text of the message.
	Line string
	// BotNick is the bot's own identifier as users type it.
	BotNick string
	// Direct is true for private (one-to-one) conversations.
	Direct bool
	// Action is true when the transport delivered the line as an action
	// (emote) rather than as plain text.
	Action bool
	// CommandPrefix introduces the bot's commands; empty means
	// DefaultCommandPrefix.
	CommandPrefix string
	// DisableHeuristics accepts every mention as an address.
	DisableHeuristics bool
}

// Result is the outcome of Classify.
type Result struct {
	Kind Kind
	// Mode is set for KindAddress only.
	Mode Mode
	// Mentioned reports whether the bot's nick appears as a token (always
	// true in direct conversations).
	Mentioned bool
	// Message is the line with a leading "nick:" vocative and action markers
	// removed.
	Message string
	// Command and Args are set for KindCommand.
	Command string
	Args    []string
	// EmoteVerb is the canonical gesture for KindEmote ("pet", "hug", ...).
	EmoteVerb string
	// Rule names what decided the classification.
	Rule string
}

// Addressed reports whether the line should be stored as directed at the bot.
func (r Result) Addressed() bool {
	return r.Kind == KindAddress || r.Kind == KindCommand
}

// Classify runs the intent pipeline over in.
func Classify(in Input) Result {
	line := strings.TrimSpace(in.Line)
	nick := strings.ToLower(strings.TrimSpace(in.BotNick))
	prefix := in.CommandPrefix
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}

	if line == "" {
		return Result{Kind: KindIgnored, Rule: "empty"}
	}
	if isNoise(line) {
		return Result{Kind: KindNoise, Rule: "noise"}
	}

	if body, ok := actionBody(line, in.Action); ok {
		return classifyAction(body, nick, in.Direct)
	}

	a := analyze(line, nick)
	mentioned := in.Direct || len(a.occurrences) > 0

	message, vocative := stripVocative(line, nick)
	if name, args, ok := parseCommand(message, prefix); ok {
		if !mentioned || !(in.Direct || vocative) {
			return Result{Kind: KindIgnored, Mentioned: mentioned, Message: message, Rule: "command-not-addressed"}
		}
		if !isOwnCommand(name) {
			return Result{Kind: KindIgnored, Mentioned: mentioned, Message: message, Rule: "foreign-command"}
		}
		return Result{Kind: KindCommand, Mentioned: true, Message: message, Command: name, Args: args, Rule: "command"}
	}
	if looksLikeCommand(message) {
		return Result{Kind: KindIgnored, Mentioned: mentioned, Message: message, Rule: "foreign-command"}
	}

	if !mentioned {
		return Result{Kind: KindAmbient, Message: line, Rule: "no-mention"}
	}
	if strings.TrimSpace(message) == "" {
		return Result{Kind: KindIgnored, Mentioned: true, Rule: "empty-address"}
	}

	rule := "direct"
	if !in.Direct {
		rule = "heuristics-disabled"
		if !in.DisableHeuristics {
			var accepted bool
			accepted, rule = checkAddress(a)
			if !accepted {
				return Result{Kind: KindAmbient, Mentioned: true, Message: line, Rule: rule}
			}
		}
	}

	return Result{
		Kind:      KindAddress,
		Mode:      DetectMode(message),
		Mentioned: true,
		Message:   message,
		Rule:      rule,
	}
}

// isNickRune reports whether r can be part of a chat nick.
func isNickRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '_', '-', '[', ']', '\\', '`', '^', '{', '}', '|':
		return true
	}
	return false
}

// stripVocative removes a leading "nick:", "nick," or "nick " from line.
// The second result reports whether anything was removed.
func stripVocative(line, nick string) (string, bool) {
	if nick == "" {
		return line, false
	}
	rest := strings.TrimLeft(line, "@")
	if len(rest) < len(nick) || !strings.EqualFold(rest[:len(nick)], nick) {
		return line, false
	}
	tail := rest[len(nick):]
	if tail == "" {
		return "", true
	}
	trimmed := strings.TrimLeft(tail, ",:> \t")
	if len(trimmed) == len(tail) {
		// "glitchyness" is not a vocative.
		return line, false
	}
	return strings.TrimSpace(trimmed), true
}
