package timeline

import (
	"sync"

	"reqscope/internal/event"
)

// Buffer is the session's event buffer: a ring of at most max events in
// arrival order. Once full, each Append evicts the oldest event. Event IDs
// are unique; a redelivered ID is ignored.
type Buffer struct {
	mu      sync.RWMutex
	events  []event.Event
	byID    map[string]int // ID -> index in events
	max     int
	head    int // next write position
	count   int
	version uint64
}

// NewBuffer creates a buffer holding at most max events.
func NewBuffer(max int) *Buffer {
	if max < 1 {
		max = 1
	}
	return &Buffer{
		events: make([]event.Event, max),
		byID:   make(map[string]int),
		max:    max,
	}
}

// Append adds e unless an event with the same ID is already buffered.
// added is false for such duplicates; evicted reports whether an older
// event was dropped to make room.
func (b *Buffer) Append(e event.Event) (added, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.byID[e.ID]; dup {
		return false, false
	}
	evicted = b.appendLocked(e)
	b.version++
	return true, evicted
}

func (b *Buffer) appendLocked(e event.Event) bool {
	evicted := false
	if b.count == b.max {
		delete(b.byID, b.events[b.head].ID)
		evicted = true
	}

	b.events[b.head] = e
	b.byID[e.ID] = b.head

	b.head = (b.head + 1) % b.max
	if b.count < b.max {
		b.count++
	}
	return evicted
}

// Replace resets the buffer to events, keeping the newest max of them.
func (b *Buffer) Replace(events []event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetLocked()
	if len(events) > b.max {
		events = events[len(events)-b.max:]
	}
	for _, e := range events {
		if _, dup := b.byID[e.ID]; dup {
			continue
		}
		b.appendLocked(e)
	}
	b.version++
}

// Clear drops every event.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.version++
}

func (b *Buffer) resetLocked() {
	for i := range b.events {
		b.events[i] = event.Event{}
	}
	b.byID = make(map[string]int)
	b.head = 0
	b.count = 0
}

// Snapshot copies the buffer in arrival order, oldest first.
// Callers may iterate it while appends continue.
func (b *Buffer) Snapshot() []event.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}
	out := make([]event.Event, 0, b.count)
	start := (b.head - b.count + b.max) % b.max
	for i := 0; i < b.count; i++ {
		out = append(out, b.events[(start+i)%b.max])
	}
	return out
}

// Get returns the event with the given id.
func (b *Buffer) Get(id string) (event.Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	idx, ok := b.byID[id]
	if !ok {
		return event.Event{}, false
	}
	return b.events[idx], true
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the maximum number of buffered events.
func (b *Buffer) Cap() int {
	return b.max
}

// Version increases on every mutation.
func (b *Buffer) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}
