package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bdobrica/glitchy/internal/glitchy/chat"
	"github.com/bdobrica/glitchy/internal/glitchy/memory"
	"github.com/bdobrica/glitchy/internal/glitchy/persona"
)

var (
	errDenied = errors.New("router: command requires a privileged sender in private")
	errUsage  = errors.New("router: bad command usage")
)

// command is one parsed invocation.
type command struct {
	Name string
	Args []string
	ev   chat.Event
}

// commandHandler returns the reply text, or an error mapped to a notice.
type commandHandler func(ctx context.Context, cmd command) (string, error)

type commandEntry struct {
	handler    commandHandler
	privileged bool
	usage      string
}

func (r *Router) registerCommands() {
	r.commands = map[string]commandEntry{
		"help":     {handler: r.cmdHelp},
		"reset":    {handler: r.cmdReset, usage: "[room]"},
		"join":     {handler: r.cmdJoin, privileged: true, usage: "<room> [key]"},
		"part":     {handler: r.cmdPart, privileged: true, usage: "<room>"},
		"ignore":   {handler: r.cmdIgnore, privileged: true, usage: "<nick>"},
		"unignore": {handler: r.cmdUnignore, privileged: true, usage: "<nick>"},
		"ignored":  {handler: r.cmdIgnored, privileged: true},
	}
}

// runCommand executes one of the bot's own commands and sends the reply.
// Privileged commands are refused outside private conversations, and
// refusals are only spoken in private so channels stay quiet.
func (r *Router) runCommand(ctx context.Context, ev chat.Event, name string, args []string, log *slog.Logger) {
	entry, ok := r.commands[name]
	if !ok {
		return
	}
	log = log.With("command", name)

	var (
		reply string
		err   error
	)
	if entry.privileged && !(ev.Privileged && ev.Direct) {
		err = errDenied
	} else {
		reply, err = entry.handler(ctx, command{Name: name, Args: args, ev: ev})
	}

	p := r.deps.Persona
	switch {
	case err == nil:
		log.Info("router: command executed", "args", args)
	case errors.Is(err, errDenied):
		log.Warn("router: command denied", "privileged", ev.Privileged, "direct", ev.Direct)
		if !ev.Direct {
			return
		}
		reply = p.Notice(persona.NoticeDenied, nil)
	case errors.Is(err, errUsage):
		reply = p.Notice(persona.NoticeUsage, map[string]string{
			"prefix": r.cfg.CommandPrefix, "command": name, "args": entry.usage,
		})
	default:
		log.Error("router: command failed", "err", err)
		reply = p.Notice(persona.NoticeFailed, map[string]string{"error": err.Error()})
	}
	r.reply(ctx, ev, reply)
}

func (r *Router) cmdHelp(_ context.Context, _ command) (string, error) {
	return r.deps.Persona.Notice(persona.NoticeHelp, map[string]string{"prefix": r.cfg.CommandPrefix}), nil
}

// cmdReset clears the sender's own history, or with a room argument (a
// privileged sender, in private) every conversation in that room.
func (r *Router) cmdReset(ctx context.Context, cmd command) (string, error) {
	p := r.deps.Persona
	if len(cmd.Args) == 0 {
		r.deps.Memory.Reset(ctx, conversationKey(cmd.ev), false)
		return p.Notice(persona.NoticeResetSelf, nil), nil
	}
	if !(cmd.ev.Privileged && cmd.ev.Direct) {
		return "", errDenied
	}
	room := cmd.Args[0]
	n := r.deps.Memory.Reset(ctx, memory.ChannelKey(room, ""), true)
	r.deps.Logger.Info("router: room history reset", "room", room, "conversations", n)
	return p.Notice(persona.NoticeResetRoom, map[string]string{"room": room}), nil
}

func (r *Router) cmdJoin(ctx context.Context, cmd command) (string, error) {
	if len(cmd.Args) < 1 || len(cmd.Args) > 2 {
		return "", errUsage
	}
	var key string
	if len(cmd.Args) == 2 {
		key = cmd.Args[1]
	}
	if err := r.deps.Transport.Join(ctx, cmd.Args[0], key); err != nil {
		return "", err
	}
	return r.deps.Persona.Notice(persona.NoticeJoined, map[string]string{"room": cmd.Args[0]}), nil
}

func (r *Router) cmdPart(ctx context.Context, cmd command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", errUsage
	}
	if err := r.deps.Transport.Part(ctx, cmd.Args[0]); err != nil {
		return "", err
	}
	return r.deps.Persona.Notice(persona.NoticeParted, map[string]string{"room": cmd.Args[0]}), nil
}

func (r *Router) cmdIgnore(ctx context.Context, cmd command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", errUsage
	}
	nick := strings.ToLower(cmd.Args[0])
	if r.deps.Ignores != nil {
		if err := r.deps.Ignores.AddIgnored(ctx, nick); err != nil {
			r.deps.Logger.Warn("router: failed to persist ignore", "nick", nick, "err", err)
		}
	}
	r.ignored.Add(nick)
	return r.deps.Persona.Notice(persona.NoticeIgnoreAdded, map[string]string{"nick": nick}), nil
}

func (r *Router) cmdUnignore(ctx context.Context, cmd command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", errUsage
	}
	nick := strings.ToLower(cmd.Args[0])
	if r.deps.Ignores != nil {
		if err := r.deps.Ignores.RemoveIgnored(ctx, nick); err != nil {
			r.deps.Logger.Warn("router: failed to persist unignore", "nick", nick, "err", err)
		}
	}
	r.ignored.Remove(nick)
	return r.deps.Persona.Notice(persona.NoticeIgnoreRemoved, map[string]string{"nick": nick}), nil
}

func (r *Router) cmdIgnored(_ context.Context, _ command) (string, error) {
	nicks := r.ignored.List()
	if len(nicks) == 0 {
		return r.deps.Persona.Notice(persona.NoticeIgnoreEmpty, nil), nil
	}
	return r.deps.Persona.Notice(persona.NoticeIgnoreList, map[string]string{"nicks": strings.Join(nicks, ", ")}), nil
}
