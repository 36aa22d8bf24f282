// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package queue implements the bounded single-producer/single-consumer
// ring of actuation events consumed by the actuation scheduler (spec
// §4.B).
package queue

import (
	"sync"

	"github.com/flocklab-tec/observer-core/conn/level"
)

// MinPeriod is the minimum offset, in microseconds, between two
// consecutive actuation events. Events requesting a smaller non-zero
// offset are coalesced to offset 0 (spec §3 "Actuation event").
const MinPeriod = 10

// DefaultCapacity is the reference queue capacity (spec §3 "Actuation
// event"). Must be a power of two.
const DefaultCapacity = 8192

// Event is a single scheduled actuation: drive pin to level, offset_us
// after the previous event (or after the armed start time, for the
// head of the queue).
type Event struct {
	OffsetUS uint32
	Pin      uint8
	Level    level.Action
}

// Queue is a fixed-capacity power-of-two ring buffer of Events.
//
// Push, Pop, and PeekOffset all take q.mu, mirroring fl_actuation.c's
// single queue_sem guarding add_event and clear_queue: Cancel's Clear
// path runs from a signal-handling goroutine and can race a concurrent
// Push from the command-parsing goroutine (cmd/flocklab-actuate), so
// the producer side must hold the same lock Clear holds rather than
// relying on the "timer not running" discipline alone.
type Queue struct {
	mu     sync.Mutex
	events []Event
	mask   uint32
	read   uint32
	write  uint32

	// TimerRunning, if set, is consulted by Push and rejects while it
	// reports true (spec §4.B: "Pushes are allowed only when the
	// scheduler timer is not running"). Left nil, Push never rejects on
	// this basis — useful for tests and for command-stream replies that
	// want to report the rejection themselves.
	TimerRunning func() bool
}

// New creates a Queue with the given capacity, which must be a power
// of two.
func New(capacity uint32) *Queue {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("queue: capacity must be a power of two")
	}
	return &Queue{
		events: make([]Event, capacity),
		mask:   capacity - 1,
	}
}

// Size returns the number of queued, unpopped events: (write - read)
// mod capacity, matching fl_actuation.c's queue_size(). Capacity being
// a power of two lets the modulo be done with the same mask used for
// index wraparound.
func (q *Queue) Size() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return (q.write - q.read) & q.mask
}

// Full reports whether the queue has no room for another event.
func (q *Queue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.full()
}

// full is Full's lock-free body, used by callers that already hold
// q.mu.
func (q *Queue) full() bool {
	return ((q.write + 1) & q.mask) == q.read
}

// Push appends ev to the queue. It fails if the queue is full, or if
// TimerRunning is set and reports true, the same way fl_actuation.c's
// add_event() checks timer_running itself.
//
// Offsets in (0, MinPeriod) are snapped to 0, coalescing the event into
// the same timer firing as the one before it.
func (q *Queue) Push(ev Event) bool {
	if q.TimerRunning != nil && q.TimerRunning() {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full() {
		return false
	}
	if ev.OffsetUS > 0 && ev.OffsetUS < MinPeriod {
		ev.OffsetUS = 0
	}
	q.events[q.write] = ev
	q.write = (q.write + 1) & q.mask
	return true
}

// Pop removes and returns the head event, or ok=false if the queue is
// empty.
func (q *Queue) Pop() (ev Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.read == q.write {
		return Event{}, false
	}
	ev = q.events[q.read]
	q.read = (q.read + 1) & q.mask
	return ev, true
}

// PeekOffset returns the head event's offset without removing it. The
// second return value is false if the queue is empty.
func (q *Queue) PeekOffset() (uint32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.read == q.write {
		return 0, false
	}
	return q.events[q.read].OffsetUS, true
}

// Clear empties the queue. Safe to call concurrently with Push/Pop from
// a different goroutine (the command parser's cancel path, per spec
// §5), though never concurrently with itself.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.read = 0
	q.write = 0
	for i := range q.events {
		q.events[i] = Event{}
	}
}
