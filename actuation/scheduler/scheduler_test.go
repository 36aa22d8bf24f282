// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scheduler

import (
	"testing"
	"time"

	"github.com/flocklab-tec/observer-core/conn/level"
	"github.com/flocklab-tec/observer-core/conn/queue"
)

type fakeGPIO struct {
	calls []call
}

type call struct {
	pin    uint32
	action uint8
}

func (g *fakeGPIO) Update(pin uint32, action uint8) {
	g.calls = append(g.calls, call{pin, action})
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// fakeRearmer never actually waits: it records the last scheduled
// duration/callback so the test can invoke it synchronously.
type fakeRearmer struct {
	lastDuration time.Duration
	lastFn       func()
	armCount     int
}

func (r *fakeRearmer) Arm(d time.Duration, fn func()) Timer {
	r.lastDuration = d
	r.lastFn = fn
	r.armCount++
	return &fakeTimer{}
}

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() bool {
	already := t.stopped
	t.stopped = true
	return !already
}

func newTestScheduler() (*Scheduler, *fakeGPIO, *fakeRearmer, *queue.Queue) {
	q := queue.New(16)
	gpio := &fakeGPIO{}
	rearmer := &fakeRearmer{}
	s := New(q, gpio, &fakeClock{now: time.Unix(1000, 0)})
	s.Rearmer = rearmer
	s.Spin = func(time.Duration) {} // no-op: tests never need a real busy-wait
	return s, gpio, rearmer, q
}

func TestArmSchedulesFirstEvent(t *testing.T) {
	s, _, rearmer, q := newTestScheduler()
	q.Push(queue.Event{OffsetUS: 500, Pin: 3, Level: level.Set})
	s.Arm(time.Unix(1001, 0))
	if rearmer.armCount != 1 {
		t.Fatalf("armCount = %d, want 1", rearmer.armCount)
	}
	if !s.Running() {
		t.Fatal("Running() should be true after Arm")
	}
}

func TestFireExecutesPoppedEventAndRearms(t *testing.T) {
	s, gpio, rearmer, q := newTestScheduler()
	q.Push(queue.Event{OffsetUS: 100, Pin: 3, Level: level.Set})
	q.Push(queue.Event{OffsetUS: 200, Pin: 4, Level: level.Clear})
	s.Arm(time.Unix(1001, 0))

	rearmer.lastFn() // simulates the first timer firing

	if len(gpio.calls) != 0 {
		t.Fatalf("no event should execute on the very first fire (nextEvent was nil), got %v", gpio.calls)
	}
	if rearmer.armCount != 2 {
		t.Fatalf("armCount = %d, want 2 (rearmed for the next event)", rearmer.armCount)
	}
	if rearmer.lastDuration != 100*time.Microsecond {
		t.Fatalf("rearm duration = %v, want 100us", rearmer.lastDuration)
	}

	rearmer.lastFn() // second fire: executes the first queued event

	if len(gpio.calls) != 1 || gpio.calls[0].pin != 3 || gpio.calls[0].action != uint8(level.Set) {
		t.Fatalf("unexpected gpio calls: %+v", gpio.calls)
	}
}

func TestFireCoalescesZeroOffsetEvents(t *testing.T) {
	s, gpio, rearmer, q := newTestScheduler()
	q.Push(queue.Event{OffsetUS: 1000000, Pin: 5, Level: level.Set}) // SIG1
	q.Push(queue.Event{OffsetUS: 0, Pin: 6, Level: level.Set})       // SIG2, coalesced
	q.Push(queue.Event{OffsetUS: 0, Pin: 7, Level: level.Set})       // nRST, coalesced
	s.Arm(time.Unix(1001, 0))

	rearmer.lastFn() // pop first event (offset != 0), no execution yet
	rearmer.lastFn() // execute pin 5, pop+coalesce pins 6 and 7

	if len(gpio.calls) != 3 {
		t.Fatalf("got %d gpio calls, want 3 (all coalesced in one firing): %+v", len(gpio.calls), gpio.calls)
	}
}

func TestFireStopsWhenQueueDrained(t *testing.T) {
	s, _, rearmer, q := newTestScheduler()
	q.Push(queue.Event{OffsetUS: 0, Pin: 1, Level: level.Set})
	s.Arm(time.Unix(1001, 0))
	rearmer.lastFn() // pops the single event (offset 0): loop consumes it, queue now empty
	if s.Running() {
		t.Fatal("Running() should be false once the queue is drained")
	}
}

func TestCancelClearsQueueAndDrivesPinsLow(t *testing.T) {
	s, gpio, _, q := newTestScheduler()
	q.Push(queue.Event{OffsetUS: 100, Pin: 1, Level: level.Set})
	s.Arm(time.Unix(1001, 0))
	s.Cancel(5, 6)

	if s.Running() {
		t.Fatal("Running() should be false after Cancel")
	}
	if q.Size() != 0 {
		t.Fatalf("queue size = %d after Cancel, want 0", q.Size())
	}
	if len(gpio.calls) != 2 || gpio.calls[0].action != uint8(level.Clear) || gpio.calls[1].action != uint8(level.Clear) {
		t.Fatalf("Cancel should drive both pins low, got %+v", gpio.calls)
	}
}

func TestPPSPiggybackSkipsOutsideWindow(t *testing.T) {
	s, gpio, rearmer, q := newTestScheduler()
	q.Push(queue.Event{OffsetUS: 0, Pin: level.PPSBit, Level: level.Set})
	s.Clock = &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 500000000, time.UTC)} // 500ms into the second: far outside the 220us window
	s.Arm(time.Unix(1001, 0))
	rearmer.lastFn() // pop the PPS event, nothing executed yet
	rearmer.lastFn() // attempt to fire it: should be skipped, not executed

	if len(gpio.calls) != 0 {
		t.Fatalf("PPS edge outside the piggyback window should be skipped, got %+v", gpio.calls)
	}
	if s.SkippedCount() != 1 {
		t.Fatalf("SkippedCount() = %d, want 1", s.SkippedCount())
	}
}

func TestPPSPiggybackFiresWithinWindow(t *testing.T) {
	s, gpio, rearmer, q := newTestScheduler()
	q.Push(queue.Event{OffsetUS: 0, Pin: level.PPSBit, Level: level.Set})
	s.Clock = &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 999999900, time.UTC)} // 100ns before the boundary
	s.Arm(time.Unix(1001, 0))
	rearmer.lastFn()
	rearmer.lastFn()

	if len(gpio.calls) != 1 || gpio.calls[0].pin != level.PPSBit {
		t.Fatalf("expected the PPS pin to fire, got %+v", gpio.calls)
	}
	if s.SkippedCount() != 0 {
		t.Fatalf("SkippedCount() = %d, want 0", s.SkippedCount())
	}
}
