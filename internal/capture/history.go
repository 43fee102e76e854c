package capture

import (
	"sync"

	"github.com/meshflow/capture/internal/detector"
)

// History is the ordered, append-only list of captured entries for one
// session. Entries are never reordered, deduplicated, or evicted.
type History struct {
	mu      sync.RWMutex
	entries []detector.Entry
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds an entry in capture order.
func (h *History) Append(e detector.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
}

// Entries returns a copy of all entries.
func (h *History) Entries() []detector.Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]detector.Entry, len(h.entries))
	copy(result, h.entries)
	return result
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Last returns the most recent entry, if any.
func (h *History) Last() (detector.Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return detector.Entry{}, false
	}
	return h.entries[len(h.entries)-1], true
}
