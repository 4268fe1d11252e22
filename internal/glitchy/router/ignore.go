package router

import (
	"slices"
	"strings"
	"sync"
)

// IgnoreSet is the in-memory mirror of the durable ignore list.  Nicks are
// case-folded.
type IgnoreSet struct {
	mu    sync.RWMutex
	nicks map[string]struct{}
}

// NewIgnoreSet returns an empty set.
func NewIgnoreSet() *IgnoreSet {
	return &IgnoreSet{nicks: make(map[string]struct{})}
}

func (s *IgnoreSet) Contains(nick string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nicks[strings.ToLower(nick)]
	return ok
}

// Add reports whether nick was newly added.
func (s *IgnoreSet) Add(nick string) bool {
	n := strings.ToLower(nick)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nicks[n]; ok {
		return false
	}
	s.nicks[n] = struct{}{}
	return true
}

// Remove reports whether nick was present.
func (s *IgnoreSet) Remove(nick string) bool {
	n := strings.ToLower(nick)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nicks[n]; !ok {
		return false
	}
	delete(s.nicks, n)
	return true
}

// Replace swaps the whole set.
func (s *IgnoreSet) Replace(nicks []string) {
	m := make(map[string]struct{}, len(nicks))
	for _, n := range nicks {
		m[strings.ToLower(n)] = struct{}{}
	}
	s.mu.Lock()
	s.nicks = m
	s.mu.Unlock()
}

// List returns the nicks in alphabetical order.
func (s *IgnoreSet) List() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.nicks))
	for n := range s.nicks {
		out = append(out, n)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}
