// Package chattest provides an in-memory chat.Transport for tests.
package chattest

import (
	"context"
	"sync"
)

// Line is one recorded outbound operation.
type Line struct {
	Op     string // "send", "action", "join", "part"
	Target string
	Text   string
}

// Recorder records everything sent through it.  Err, when set, is returned
// from every call (after recording).
type Recorder struct {
	mu    sync.Mutex
	lines []Line
	Err   error
	// Sent, when non-nil, receives every recorded line.
	Sent chan Line
}

func (r *Recorder) record(l Line) error {
	r.mu.Lock()
	r.lines = append(r.lines, l)
	err := r.Err
	ch := r.Sent
	r.mu.Unlock()
	if ch != nil {
		ch <- l
	}
	return err
}

func (r *Recorder) Send(_ context.Context, target, text string) error {
	return r.record(Line{Op: "send", Target: target, Text: text})
}

func (r *Recorder) SendAction(_ context.Context, target, text string) error {
	return r.record(Line{Op: "action", Target: target, Text: text})
}

func (r *Recorder) Join(_ context.Context, target, key string) error {
	return r.record(Line{Op: "join", Target: target, Text: key})
}

func (r *Recorder) Part(_ context.Context, target string) error {
	return r.record(Line{Op: "part", Target: target})
}

// Lines returns a copy of everything recorded so far.
func (r *Recorder) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line(nil), r.lines...)
}

// Texts returns the text of every "send" line.
func (r *Recorder) Texts() []string {
	var out []string
	for _, l := range r.Lines() {
		if l.Op == "send" {
			out = append(out, l.Text)
		}
	}
	return out
}
