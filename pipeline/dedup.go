package pipeline

import (
	"fmt"
	"sync"
)

// Dedup is a process-wide set of "<chat_id>:<user_id>:<message_id>" keys
// with atomic insert-if-absent, per spec.md §4.6. Entries are removed when
// the caller reaches a terminal state for that message (Done or Dropped).
type Dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedup constructs an empty dedup set.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// Key builds the canonical dedup key for an inbound message.
func Key(chatID, userID, messageID string) string {
	return fmt.Sprintf("%s:%s:%s", chatID, userID, messageID)
}

// TryInsert atomically inserts key if absent, returning true on success and
// false if key was already present (a duplicate).
func (d *Dedup) TryInsert(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.seen[key]; exists {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Remove clears key, to be called once a message reaches a terminal state.
func (d *Dedup) Remove(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Len reports how many keys are currently tracked, for diagnostics.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
