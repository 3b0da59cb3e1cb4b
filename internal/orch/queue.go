package orch

import "sync"

// envKind distinguishes the work items a session loop processes.
type envKind int

const (
	envGesture envKind = iota + 1
	envTick
	envStop
)

// envelope is one delivery awaiting its turn in a session's FIFO. The
// reply channel makes delivery synchronous request/response: the caller
// blocks on it, not on the queue.
type envelope struct {
	kind    envKind
	payload map[string]any
	reply   chan deliverResult
}

type deliverResult struct {
	ack *Ack
	err error
}

// envelopeQueue is a thread-safe FIFO for one session's envelopes.
//
// Unbounded so the front door (Enqueue) never blocks on hook
// execution; backpressure is the caller waiting on its reply channel.
//
// A buffered size-1 channel signals availability so the session loop
// can wait with context awareness.
type envelopeQueue struct {
	mu     sync.Mutex
	items  []envelope
	closed bool
	signal chan struct{}
}

func newEnvelopeQueue() *envelopeQueue {
	return &envelopeQueue{
		items:  make([]envelope, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an envelope to the back of the queue. Returns false if
// the queue is closed; the caller must then fail the delivery itself.
func (q *envelopeQueue) Enqueue(e envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front envelope without blocking. Returns
// false if the queue is empty.
func (q *envelopeQueue) TryDequeue() (envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return envelope{}, false
	}
	e := q.items[0]
	// Nil the slot so the backing array does not retain the payload.
	q.items[0] = envelope{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return e, true
}

// Wait returns the availability signal for select-based waiting.
func (q *envelopeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Close rejects future enqueues and wakes the loop so it can observe
// the closure. Envelopes already queued stay dequeueable.
func (q *envelopeQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *envelopeQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
