package bridge

import "sync"

// SeenSet records ids of inbound messages already relayed during this
// process lifetime. It is never persisted: a restart re-polls the lookback
// window and may relay those messages again.
type SeenSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[string]struct{})}
}

// Seen reports whether id was already marked.
func (s *SeenSet) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// MarkIfNew marks id and reports true, or reports false if it was already
// marked. The check and the mark are atomic, so concurrent poll and callback
// paths never both claim the same message.
func (s *SeenSet) MarkIfNew(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Len returns the number of marked ids.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
