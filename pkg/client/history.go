package client

import "encoding/json"

// History is a bounded stack of whole-scene snapshots with a movable index,
// backing undo/redo for one participant. It is never shared between clients
// and never persisted.
type History struct {
	entries []json.RawMessage
	index   int // -1 when empty
	limit   int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 1
	}
	return &History{
		entries: make([]json.RawMessage, 0, limit),
		index:   -1,
		limit:   limit,
	}
}

// Reset discards all entries and seeds the stack with a single base
// snapshot. Used for the initial load, which is not an authored edit and
// must not become an undo step of its own.
func (h *History) Reset(base json.RawMessage) {
	h.entries = h.entries[:0]
	h.entries = append(h.entries, cloneSnapshot(base))
	h.index = 0
}

// Push records a new snapshot after an authored edit. Any redo tail beyond
// the current index is discarded first; once the stack is full the oldest
// entry is evicted.
func (h *History) Push(snapshot json.RawMessage) {
	h.entries = h.entries[:h.index+1]
	h.entries = append(h.entries, cloneSnapshot(snapshot))
	h.index = len(h.entries) - 1

	if len(h.entries) > h.limit {
		h.entries = h.entries[1:]
		h.index--
	}
}

// Undo steps the index back one entry and returns it. Returns false when
// already at the base of the stack.
func (h *History) Undo() (json.RawMessage, bool) {
	if h.index <= 0 {
		return nil, false
	}
	h.index--
	return cloneSnapshot(h.entries[h.index]), true
}

// Redo steps the index forward one entry and returns it. Returns false when
// there is no redo tail.
func (h *History) Redo() (json.RawMessage, bool) {
	if h.index >= len(h.entries)-1 {
		return nil, false
	}
	h.index++
	return cloneSnapshot(h.entries[h.index]), true
}

func (h *History) CanUndo() bool {
	return h.index > 0
}

func (h *History) CanRedo() bool {
	return h.index < len(h.entries)-1
}

func (h *History) Len() int {
	return len(h.entries)
}

func cloneSnapshot(snapshot json.RawMessage) json.RawMessage {
	if snapshot == nil {
		return nil
	}
	out := make(json.RawMessage, len(snapshot))
	copy(out, snapshot)
	return out
}
