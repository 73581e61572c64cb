// Package presence counts the live sessions attached to each document. The
// counts exist only in memory and reset to empty on restart.
package presence

import "sync"

type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func New() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// Increment records one more open session for name.
func (t *Tracker) Increment(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[name]++
}

// Decrement records one closed session for name. The count never goes below
// zero and the entry is dropped when it reaches zero.
func (t *Tracker) Decrement(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[name] <= 1 {
		delete(t.counts, name)
		return
	}
	t.counts[name]--
}

// IsOpen reports whether name has at least one live session.
func (t *Tracker) IsOpen(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[name] > 0
}

// Count returns the number of live sessions for name.
func (t *Tracker) Count(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[name]
}

// Rename moves name's count to another name, adding to any sessions already
// open there.
func (t *Tracker) Rename(from string, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.counts[from]; n > 0 {
		delete(t.counts, from)
		t.counts[to] += n
	}
}

// Clear drops name's count entirely.
func (t *Tracker) Clear(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, name)
}
