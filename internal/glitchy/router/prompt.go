package router

import (
	"context"
	"math/rand/v2"

	"github.com/bdobrica/glitchy/internal/glitchy/chat"
	"github.com/bdobrica/glitchy/internal/glitchy/intent"
	"github.com/bdobrica/glitchy/internal/glitchy/llm"
	"github.com/bdobrica/glitchy/internal/glitchy/memory"
	"github.com/bdobrica/glitchy/internal/glitchy/persona"
)

// buildMessages assembles the prompt for an accepted address.  It runs
// before the current line is stored, so the line appears once, last.
//
// Plain and search prompts carry the persona, the channel background and the
// requester's own history.  Review prompts carry the review persona and the
// wider background of the conversation or channel, and get a lead-in.
func (r *Router) buildMessages(ctx context.Context, ev chat.Event, key memory.Key, res intent.Result) ([]llm.Message, string) {
	p := r.deps.Persona
	mem := r.deps.Memory
	room := ev.Target
	if ev.Direct {
		room = "our private chat"
	}

	if res.Mode == intent.ModeReview {
		scopeKey := key
		if !ev.Direct {
			scopeKey = memory.ChannelKey(ev.Target, "")
		}
		msgs := []llm.Message{{Role: llm.RoleSystem, Content: p.ReviewPrompt}}
		if bg := mem.ReviewBackground(scopeKey, r.cfg.ReviewChars, r.cfg.ReviewLines); len(bg) > 0 {
			msgs = append(msgs, r.background(room, bg))
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: ev.Nick + ": " + res.Message})
		return msgs, r.leadIn()
	}

	system := p.SystemPrompt
	if res.Mode == intent.ModeSearch && p.SearchPrompt != "" {
		system += "\n\n" + p.SearchPrompt
	}
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: system}}

	if !ev.Direct {
		if bg := mem.ChannelBackground(ev.Target, r.cfg.BackgroundChars, r.cfg.BackgroundLines); len(bg) > 0 {
			msgs = append(msgs, r.background(room, bg))
		}
	}

	for _, t := range mem.Context(ctx, key, ev.Nick, r.cfg.ContextTurns) {
		role := llm.RoleUser
		if t.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: res.Message})
	return msgs, ""
}

func (r *Router) background(room string, entries []memory.Entry) llm.Message {
	header := persona.Render(r.deps.Persona.BackgroundHeader, map[string]string{"room": room})
	return llm.Message{Role: llm.RoleSystem, Content: header + "\n" + memory.Format(entries)}
}

func (r *Router) leadIn() string {
	leadIns := r.deps.Persona.LeadIns
	if len(leadIns) == 0 {
		return ""
	}
	return leadIns[rand.N(len(leadIns))]
}
