// Package chat defines the boundary between the bot core and the chat
// network: inbound events and the outbound Transport.
package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/bdobrica/glitchy/internal/glitchy/sanitize"
)

// Event is one inbound chat line.
type Event struct {
	// Target is where replies go: a channel or a private conversation.
	Target string
	// Nick is the sender's display identifier.
	Nick string
	// Text is the message body.
	Text string
	// Direct is true for one-to-one conversations.
	Direct bool
	// Action is true for emotes ("/me ...").
	Action bool
	// Privileged is true for bot owners/admins.
	Privileged bool
	// At is when the event was sent.
	At time.Time
}

// Transport sends lines to the chat network.  Implementations must be safe
// for concurrent use.
type Transport interface {
	Send(ctx context.Context, target, text string) error
	SendAction(ctx context.Context, target, text string) error
	Join(ctx context.Context, target, key string) error
	Part(ctx context.Context, target string) error
}

// DefaultChunkDelay is the pause between consecutive chunks of one reply.
const DefaultChunkDelay = time.Second

// Deliver folds text into chunks of at most maxChunk runes and sends them in
// order, pausing delay between chunks.  A failed send is logged to log and
// the rest of the reply is abandoned.  It returns the number of chunks sent.
func Deliver(ctx context.Context, t Transport, target, text string, maxChunk int, delay time.Duration, log *slog.Logger) int {
	if log == nil {
		log = slog.Default()
	}
	chunks := sanitize.Fold(text, maxChunk)
	for i, chunk := range chunks {
		if err := t.Send(ctx, target, chunk); err != nil {
			log.Warn("chat: send failed", "target", target, "chunk", i+1, "of", len(chunks), "err", err)
			return i
		}
		if i == len(chunks)-1 || delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return i + 1
		case <-time.After(delay):
		}
	}
	return len(chunks)
}

// Notify sends a single short line, logging rather than returning failures.
func Notify(ctx context.Context, t Transport, target, text string, log *slog.Logger) {
	if err := t.Send(ctx, target, text); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("chat: notice failed", "target", target, "err", err)
	}
}
