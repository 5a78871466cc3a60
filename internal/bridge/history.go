package bridge

import "sync"

const defaultHistorySize = 500

// History is the transient log of formatted inbound messages, oldest first.
// When full, the oldest entry is evicted.
type History struct {
	mu      sync.Mutex
	entries []string
	max     int
}

// NewHistory creates a History holding at most max entries (default 500).
func NewHistory(max int) *History {
	if max <= 0 {
		max = defaultHistorySize
	}
	return &History{max: max}
}

// Append adds an entry at the end.
func (h *History) Append(entry string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) >= h.max {
		h.entries = h.entries[1:]
	}
	h.entries = append(h.entries, entry)
}

// Entries returns a copy of the log in insertion order.
func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
