package wizard

import "context"

// History is the host navigation surface the controller writes to.
// Push appends an entry after the current one, discarding any forward
// entries; Replace overwrites the current entry (or records the first one).
type History interface {
	Push(ctx context.Context, entry Entry) error
	Replace(ctx context.Context, entry Entry) error
}

// MemoryHistory is an in-process History with browser back/forward semantics.
// It backs tests and CLI use where no persistent store is configured.
type MemoryHistory struct {
	entries []Entry
	index   int
}

// NewMemoryHistory returns an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{index: -1}
}

// Push records entry after the current position.
func (h *MemoryHistory) Push(_ context.Context, entry Entry) error {
	h.entries = append(h.entries[:h.index+1], entry)
	h.index = len(h.entries) - 1
	return nil
}

// Replace overwrites the current entry.
func (h *MemoryHistory) Replace(ctx context.Context, entry Entry) error {
	if h.index < 0 {
		return h.Push(ctx, entry)
	}
	h.entries[h.index] = entry
	return nil
}

// Go moves delta entries (negative is back) and returns the entry now current.
// It returns nil and leaves the position unchanged when out of range.
func (h *MemoryHistory) Go(delta int) *Entry {
	target := h.index + delta
	if target < 0 || target >= len(h.entries) {
		return nil
	}
	h.index = target
	e := h.entries[target]
	return &e
}

// Back is Go(-1).
func (h *MemoryHistory) Back() *Entry { return h.Go(-1) }

// Forward is Go(1).
func (h *MemoryHistory) Forward() *Entry { return h.Go(1) }

// Current returns the current entry, or nil when nothing is recorded.
func (h *MemoryHistory) Current() *Entry {
	if h.index < 0 {
		return nil
	}
	e := h.entries[h.index]
	return &e
}

// Len returns the number of recorded entries.
func (h *MemoryHistory) Len() int { return len(h.entries) }

// Entries returns a copy of all recorded entries.
func (h *MemoryHistory) Entries() []Entry {
	return append([]Entry(nil), h.entries...)
}
