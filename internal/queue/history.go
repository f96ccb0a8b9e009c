package queue

import "github.com/crucible-editor/taskcore/internal/task"

// DefaultHistoryCapacity bounds the retained terminal-task history.
const DefaultHistoryCapacity = 100

// History is a bounded circular buffer of terminal tasks. When full, the
// oldest entry is evicted first.
type History struct {
	entries  []*task.Task
	capacity int
}

// NewHistory creates a history with the given capacity. Non-positive values
// fall back to DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{capacity: capacity}
}

// Add appends a terminal task, evicting the oldest entry when full.
func (h *History) Add(t *task.Task) {
	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries[len(h.entries)-1] = t
		return
	}
	h.entries = append(h.entries, t)
}

// Get returns the entry with the given ID, or nil.
func (h *History) Get(id string) *task.Task {
	for _, t := range h.entries {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []*task.Task {
	n := len(h.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*task.Task, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.entries[i].Clone())
	}
	return out
}

// All returns every entry, oldest first.
func (h *History) All() []*task.Task {
	out := make([]*task.Task, 0, len(h.entries))
	for _, t := range h.entries {
		out = append(out, t.Clone())
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int { return len(h.entries) }
