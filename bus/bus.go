// Package bus provides the single synchronization primitive exchanged
// between actors in the substrate: an unbounded, single-consumer FIFO
// queue.
//
// A Bus has no notion of the values it carries. Producers enqueue
// immutable messages from any number of goroutines; a single consumer
// goroutine drains them in the order each producer enqueued them. There
// is no peek, no cancel, and no close visible to producers — shutdown is
// always an in-band message understood by whatever sits on the consuming
// end.
package bus

import "sync"

// Bus is an append-only FIFO with exactly one consumer.
//
// Send never blocks and never drops a message while the Bus is live: the
// underlying queue grows as needed. Recv blocks until a message is
// available or the Bus is stopped locally via Stop.
//
// The zero value is not usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []any
	closed bool
}

// New returns a ready-to-use Bus.
func New() *Bus {
	b := &Bus{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send enqueues message at the tail of the queue and wakes the consumer.
// Send is safe to call concurrently from any number of goroutines and
// never fails while the Bus is live.
func (b *Bus) Send(message any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, message)
	b.mu.Unlock()
	b.cond.Signal()
}

// Recv blocks until a message is available and returns it. Recv is meant
// to be called from a single consumer goroutine; calling it concurrently
// from multiple goroutines would violate the single-consumer contract the
// rest of the substrate relies on, and is not supported.
//
// Recv returns ok=false only after Stop has been called and the queue has
// been fully drained — it never returns ok=false while messages remain.
func (b *Bus) Recv() (message any, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.queue) == 0 {
		return nil, false
	}
	message = b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return message, true
}

// TryRecv returns the next message without blocking. ok is false if the
// queue is currently empty.
func (b *Bus) TryRecv() (message any, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	message = b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return message, true
}

// Len reports the number of messages currently queued. Intended for tests
// and diagnostics; ordinary consumers should just call Recv.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Stop releases any goroutine blocked in Recv with ok=false once the
// queue drains. Stop is idempotent. Messages already queued are still
// delivered; any Send after Stop is silently discarded. A Bus has no
// producer-visible close — Stop is used by a gateway to unwind its own
// dispatch loop, never exposed to producers as part of the wire
// contract.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}
