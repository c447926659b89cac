package nlautomation

import (
	"time"

	"github.com/ashureev/toolhub/internal/interpret"
)

// HistoryCapacity is the number of entries a session keeps.
const HistoryCapacity = 50

// HistoryEntry records one interpreted instruction and its outcome.
type HistoryEntry struct {
	Timestamp   time.Time        `json:"timestamp"`
	Instruction string           `json:"instruction"`
	Action      interpret.Action `json:"action"`
	Outcome     string           `json:"outcome"`
	Success     bool             `json:"success"`
}

// History is a fixed-size ring of entries. When full, Push overwrites the
// oldest entry. It is guarded by the owning session's lock.
type History struct {
	buf  []HistoryEntry
	size int
	head int // write position
	tail int // read position
	full bool
}

// NewHistory creates a ring with the given capacity.
func NewHistory(size int) *History {
	if size <= 0 {
		size = HistoryCapacity
	}
	return &History{
		buf:  make([]HistoryEntry, size),
		size: size,
	}
}

// Push appends e, evicting the oldest entry when full.
func (h *History) Push(e HistoryEntry) {
	if h.full {
		h.tail = (h.tail + 1) % h.size
	}
	h.buf[h.head] = e
	h.head = (h.head + 1) % h.size
	if h.head == h.tail {
		h.full = true
	}
}

// Entries returns the entries oldest first.
func (h *History) Entries() []HistoryEntry {
	n := h.Len()
	out := make([]HistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, h.buf[(h.tail+i)%h.size])
	}
	return out
}

// Last returns the newest n entries, oldest first.
func (h *History) Last(n int) []HistoryEntry {
	all := h.Entries()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	switch {
	case h.full:
		return h.size
	case h.head >= h.tail:
		return h.head - h.tail
	default:
		return (h.size - h.tail) + h.head
	}
}

// Capacity returns the maximum number of entries.
func (h *History) Capacity() int {
	return h.size
}
