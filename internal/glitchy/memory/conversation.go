// Package memory keeps the bot's conversational context: a bounded ring of
// recent lines per conversation, cross-conversation aggregation for channel
// background, and an optional durable per-user turn log that survives
// restarts.
package memory

import (
	"strings"
	"time"
)

// Kind distinguishes channel conversations from private ones.
type Kind int

const (
	// KindChannel is one user's thread within a shared channel.
	KindChannel Kind = iota
	// KindDirect is a private one-to-one conversation.
	KindDirect
)

// Key identifies a conversation.  Nicks are case-folded so "Alice" and
// "alice" share context.
type Key struct {
	Kind    Kind
	Channel string
	Nick    string
}

// ChannelKey returns the key for nick's thread in channel.
func ChannelKey(channel, nick string) Key {
	return Key{Kind: KindChannel, Channel: channel, Nick: strings.ToLower(nick)}
}

// DirectKey returns the key for a private conversation with nick.
func DirectKey(nick string) Key {
	return Key{Kind: KindDirect, Nick: strings.ToLower(nick)}
}

func (k Key) String() string {
	if k.Kind == KindDirect {
		return "direct:" + k.Nick
	}
	return k.Channel + ":" + k.Nick
}

// Entry is one stored line.
type Entry struct {
	Speaker string
	Text    string
	At      time.Time
	// Seq orders entries across conversations; larger is newer.
	Seq uint64
}

// Roles used in Turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of prompt context.
type Turn struct {
	Role string
	Text string
	At   time.Time
}

// ring is a fixed-capacity FIFO buffer; pushing onto a full ring evicts the
// oldest element.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// last returns a pointer to the newest element, or nil when empty.
func (r *ring[T]) last() *T {
	if r.n == 0 {
		return nil
	}
	return &r.buf[(r.start+r.n-1)%len(r.buf)]
}

// items copies the contents oldest-first.
func (r *ring[T]) items() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring[T]) len() int { return r.n }

func (r *ring[T]) clear() {
	clear(r.buf)
	r.start, r.n = 0, 0
}
