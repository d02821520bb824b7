package rsflow

import (
	"sync"

	"github.com/gammazero/deque"
)

// Queue is the bounded, single-consumer queue contract the Publish
// multicaster holds its prefetched items in. Offer is safe for concurrent
// use by the single upstream producer and the multicaster's own termination
// path; Poll/IsEmpty/Clear are only ever called by the drain loop, so they
// need no synchronization beyond what protects Offer.
type Queue interface {
	// Offer adds item to the queue, returning false if the queue is at
	// capacity. A false return is a fatal protocol break for the caller.
	Offer(item interface{}) bool
	// Poll removes and returns the oldest item, or ok=false if empty.
	Poll() (item interface{}, ok bool)
	// IsEmpty reports whether Poll would currently return ok=false.
	IsEmpty() bool
	// Clear discards all buffered items.
	Clear()
}

// QueueFactory produces a fresh Queue for a single Publish subscription.
type QueueFactory func() Queue

// boundedQueue is a fixed-capacity Queue backed by gammazero/deque, the same
// ring-buffer-backed double-ended queue the teacher corpus uses for its own
// single-consumer buffering (see ticketqueue.TicketQueue in the reference
// pack). A mutex guards it rather than a lock-free structure: Offer can race
// the drain's Poll/IsEmpty/Clear across goroutines (single producer, single
// consumer, but different goroutines), and deque.Deque itself has none of
// its own synchronization.
type boundedQueue struct {
	mu       sync.Mutex
	capacity int
	dq       deque.Deque[interface{}]
}

// NewBoundedQueue returns a QueueFactory producing queues with a fixed
// capacity. A non-positive capacity is treated as 1.
func NewBoundedQueue(capacity int) QueueFactory {
	if capacity < 1 {
		capacity = 1
	}
	return func() Queue {
		return &boundedQueue{capacity: capacity}
	}
}

func (q *boundedQueue) Offer(item interface{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dq.Len() >= q.capacity {
		return false
	}
	q.dq.PushBack(item)
	return true
}

func (q *boundedQueue) Poll() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dq.Len() == 0 {
		return nil, false
	}
	return q.dq.PopFront(), true
}

func (q *boundedQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dq.Len() == 0
}

func (q *boundedQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dq.Clear()
}
