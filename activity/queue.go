package activity

import "sync"

// Queue is an ordered in-memory buffer of pending events. Batches are
// taken from the front; failed batches go back to the front.
// It has no capacity limit.
type Queue struct {
	mu     sync.Mutex
	events []Event
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends e and returns the new length.
func (q *Queue) Push(e Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
	return len(q.events)
}

// TakeFront removes and returns up to n events from the front.
// Concurrent callers never receive overlapping events.
func (q *Queue) TakeFront(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.events) == 0 {
		return nil
	}
	if n > len(q.events) {
		n = len(q.events)
	}

	batch := make([]Event, n)
	copy(batch, q.events[:n])

	rest := q.events[n:]
	q.events = make([]Event, len(rest), len(rest)+n)
	copy(q.events, rest)
	return batch
}

// PushFront puts batch back in front of the queued events, keeping its
// order. Returns the new length.
func (q *Queue) PushFront(batch []Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(batch) == 0 {
		return len(q.events)
	}
	merged := make([]Event, 0, len(batch)+len(q.events))
	merged = append(merged, batch...)
	merged = append(merged, q.events...)
	q.events = merged
	return len(q.events)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Snapshot returns a copy of the queued events in order.
func (q *Queue) Snapshot() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Event(nil), q.events...)
}
