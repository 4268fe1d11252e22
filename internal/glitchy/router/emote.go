package router

import (
	"context"
	"strings"

	"github.com/bdobrica/glitchy/internal/glitchy/chat"
	"github.com/bdobrica/glitchy/internal/glitchy/persona"
)

type emoteKey struct {
	nick string
	verb string
}

// answerEmote replies to a gesture with an action.  Phrases rotate per
// (nick, verb) so the same user never gets the same phrase twice in a row.
func (r *Router) answerEmote(ctx context.Context, ev chat.Event, verb string) {
	phrases := r.deps.Persona.EmotePhrases(verb)
	if len(phrases) == 0 {
		return
	}
	phrase := persona.Render(phrases[r.nextEmote(ev.Nick, verb, len(phrases))], map[string]string{"nick": ev.Nick})
	if err := r.deps.Transport.SendAction(ctx, ev.Target, phrase); err != nil {
		r.deps.Logger.Warn("router: emote reply failed", "target", ev.Target, "verb", verb, "err", err)
	}
}

func (r *Router) nextEmote(nick, verb string, n int) int {
	k := emoteKey{strings.ToLower(nick), verb}
	r.emoteMu.Lock()
	defer r.emoteMu.Unlock()

	last, seen := r.emotes[k]
	next := 0
	if seen {
		next = (last + 1) % n
	}
	r.emotes[k] = next
	return next
}
