package memory

import (
	"slices"
	"strings"
)

// ChannelBackground gathers the newest lines from every conversation in
// channel, drops duplicates and keeps as many as fit in charBudget characters
// and maxLines lines.  The result is chronological.
func (s *Store) ChannelBackground(channel string, charBudget, maxLines int) []Entry {
	return s.aggregate(s.channelKeys(channel), charBudget, maxLines)
}

// ReviewBackground is ChannelBackground for opinion and summary requests.  A
// direct scope covers that one private conversation; a channel scope covers
// the whole channel.
func (s *Store) ReviewBackground(scope Key, charBudget, maxLines int) []Entry {
	if scope.Kind == KindDirect {
		return s.aggregate([]Key{scope}, charBudget, maxLines)
	}
	return s.aggregate(s.channelKeys(scope.Channel), charBudget, maxLines)
}

// aggregate snapshots each key in turn, taking one conversation lock at a
// time.
func (s *Store) aggregate(keys []Key, charBudget, maxLines int) []Entry {
	var all []Entry
	for _, k := range keys {
		all = append(all, s.History(k)...)
	}
	slices.SortFunc(all, func(a, b Entry) int {
		switch {
		case a.Seq > b.Seq:
			return -1
		case a.Seq < b.Seq:
			return 1
		}
		return 0
	})

	type line struct{ speaker, text string }
	seen := make(map[line]bool, len(all))
	var out []Entry
	used := 0
	for _, e := range all {
		if maxLines > 0 && len(out) >= maxLines {
			break
		}
		id := line{strings.ToLower(e.Speaker), e.Text}
		if seen[id] {
			continue
		}
		cost := len(e.Speaker) + 2 + len(e.Text)
		if charBudget > 0 && used+cost > charBudget {
			break
		}
		seen[id] = true
		used += cost
		out = append(out, e)
	}
	slices.Reverse(out)
	return out
}

// Format renders entries as "speaker: text" lines.
func Format(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Speaker)
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	return b.String()
}
