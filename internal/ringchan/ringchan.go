// Package ringchan provides a bounded channel that overwrites its oldest element.
package ringchan

import "sync/atomic"

// RingChannel is a bounded buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded. Consumers read from C() like a normal channel.
//
//	rc := ringchan.New[Event](16)
//	rc.Send(ev)
//	for ev := range rc.C() { ... }
type RingChannel[T any] struct {
	ch          chan T
	closed      atomic.Bool
	written     atomic.Int64
	overwritten atomic.Int64
}

// Stats is a snapshot of channel counters
type Stats struct {
	Written     int64
	Overwritten int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// Returns true when an element was dropped. Sends after Close are ignored.
func (rc *RingChannel[T]) Send(v T) bool {
	if rc.closed.Load() {
		return false
	}
	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Close closes the underlying channel. Safe to call more than once.
// Callers must ensure no Send runs concurrently with Close.
func (rc *RingChannel[T]) Close() {
	if rc.closed.CompareAndSwap(false, true) {
		close(rc.ch)
	}
}

// Stats returns the current counters
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{Written: rc.written.Load(), Overwritten: rc.overwritten.Load()}
}
