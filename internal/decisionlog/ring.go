// ABOUTME: Bounded in-memory ring buffer sink for decision log entries
// ABOUTME: Oldest entries are overwritten once capacity is reached

package decisionlog

import "sync"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 4096

// Ring is a fixed-capacity Sink that keeps the most recent entries.
type Ring struct {
	mu      sync.Mutex
	buf     []Entry
	next    int // index the next entry is written to
	full    bool
	dropped uint64
	onDrop  func()
}

// NewRing creates a ring buffer holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Entry, capacity)}
}

// OnDrop registers a callback run (outside the lock) whenever an entry is overwritten.
func (r *Ring) OnDrop(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDrop = fn
}

// Append stores e, overwriting the oldest entry when full.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	overwrote := r.full
	if overwrote {
		r.dropped++
	}
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	onDrop := r.onDrop
	r.mu.Unlock()

	if overwrote && onDrop != nil {
		onDrop()
	}
}

// Len returns the number of entries held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Cap returns the capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Dropped returns how many entries have been overwritten.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Snapshot returns the held entries oldest first.
func (r *Ring) Snapshot() []Entry {
	return r.filter(func(Entry) bool { return true })
}

// ByCorrelation returns the held entries for one request, oldest first.
func (r *Ring) ByCorrelation(id string) []Entry {
	return r.filter(func(e Entry) bool { return e.CorrelationID == id })
}

func (r *Ring) filter(keep func(Entry) bool) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Entry{}
	start, n := 0, r.next
	if r.full {
		start, n = r.next, len(r.buf)
	}
	for i := 0; i < n; i++ {
		e := r.buf[(start+i)%len(r.buf)]
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
