package ingest

import (
	"sync"
)

// session remembers, for one run, every fingerprint known to exist: preloaded from the index
// or written during the run. Items later in the same batch are checked against it without
// another query.
type session struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newSession(existing map[string]bool) *session {
	s := &session{seen: make(map[string]bool, len(existing))}
	for h := range existing {
		s.seen[h] = true
	}
	return s
}

func (s *session) has(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[hash]
}

func (s *session) mark(hashes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hashes {
		if h != "" {
			s.seen[h] = true
		}
	}
}
