// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package scheduler implements the actuation scheduler: an
// absolute-time one-shot timer that dispatches queued events,
// coalesces zero-offset batches, and busy-waits a PPS rising edge onto
// the next integer second. Grounded on
// original_source/various/actuation/fl_actuation.c's
// timer_expired/timer_set/timer_reset.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flocklab-tec/observer-core/conn/level"
	"github.com/flocklab-tec/observer-core/conn/queue"
)

// TimerOfsUS compensates for measured kernel scheduling latency when
// arming the start timer (fl_actuation.c's TIMER_OFS_US, "applies to
// the start marker only").
const TimerOfsUS = -90

// PPSMaxWaitNS bounds how close to the end of the current second the
// callback may fire and still attempt the PPS piggyback busy-wait
// (fl_actuation.c's PPS_MAX_WAIT_TIME).
const PPSMaxWaitNS = 220000

// PPSShiftNS is an empirical fudge subtracted from the nanoseconds
// remaining until the next integer second before the piggyback
// decision is made.
const PPSShiftNS = 0

// GPIOWriter actuates a single output pin. It matches
// host/gpiowriter.Writer's Update method.
type GPIOWriter interface {
	Update(pin uint32, action uint8)
}

// Clock abstracts wall-clock reads so Arm's absolute deadline and the
// PPS piggyback path are testable without a real clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Rearmer schedules fn to run once after d elapses. Production code
// uses a time.Timer-backed implementation; tests can substitute one
// that records the call instead of actually waiting.
type Rearmer interface {
	Arm(d time.Duration, fn func()) Timer
}

// Timer is the minimal handle Rearmer.Arm returns.
type Timer interface {
	Stop() bool
}

// TimerRearmer is the production Rearmer, backed by time.AfterFunc.
type TimerRearmer struct{}

func (TimerRearmer) Arm(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Spinner busy-waits for d. The production implementation polls
// Clock.Now() in a tight loop (periph's Nanospin-equivalent technique,
// since the real periph.io/x/periph host/cpu.Nanospin was never part
// of this retrieval); tests substitute a no-op or recording spinner so
// PPS piggyback logic can be verified without a real busy-wait.
type Spinner func(d time.Duration)

// BusyWaitSpin is the production Spinner: a tight loop polling the
// monotonic clock, suitable for the low hundreds-of-nanoseconds waits
// the PPS piggyback path needs.
func BusyWaitSpin(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// Scheduler is the actuation event dispatcher.
type Scheduler struct {
	Queue   *queue.Queue
	GPIO    GPIOWriter
	Clock   Clock
	Rearmer Rearmer
	Spin    Spinner

	mu            sync.Mutex
	timer         Timer
	timerRunning  int32
	nextEvent     *queue.Event
	skippedCount  uint32
}

// New returns a ready Scheduler with Rearmer and Spin set to the
// production implementations; callers may replace either afterwards.
func New(q *queue.Queue, gpio GPIOWriter, clock Clock) *Scheduler {
	return &Scheduler{
		Queue:   q,
		GPIO:    gpio,
		Clock:   clock,
		Rearmer: TimerRearmer{},
		Spin:    BusyWaitSpin,
	}
}

// Running reports whether the timer is currently armed.
func (s *Scheduler) Running() bool {
	return atomic.LoadInt32(&s.timerRunning) != 0
}

// SkippedCount returns the number of PPS edges skipped because the
// callback fired outside the piggyback window.
func (s *Scheduler) SkippedCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skippedCount
}

// Arm schedules the first event at absolute wall-clock time at, with
// TimerOfsUS applied to the start marker.
func (s *Scheduler) Arm(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.nextEvent = nil
	atomic.StoreInt32(&s.timerRunning, 1)
	d := at.Add(TimerOfsUS * time.Microsecond).Sub(s.Clock.Now())
	s.timer = s.Rearmer.Arm(d, s.fire)
}

// Cancel stops the timer, clears the queue, drives SIG1/SIG2 low, and
// resets counters.
func (s *Scheduler) Cancel(sig1, sig2 uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	atomic.StoreInt32(&s.timerRunning, 0)
	s.Queue.Clear()
	s.GPIO.Update(sig1, uint8(level.Clear))
	s.GPIO.Update(sig2, uint8(level.Clear))
	s.skippedCount = 0
	s.nextEvent = nil
}

func (s *Scheduler) executeEvent(ev queue.Event) {
	s.GPIO.Update(uint32(ev.Pin), uint8(ev.Level))
}

// fire is the timer callback: it executes any pending event (applying
// the PPS piggyback fast path when applicable), pops and coalesces
// zero-offset events, and rearms for the next offset.
func (s *Scheduler) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var extraUS uint32

	// Mirrors timer_expired's do/while: every event due this firing,
	// including zero-offset ones coalesced into the same callback,
	// passes through the same PPS-piggyback-aware dispatch.
	for {
		if s.nextEvent != nil {
			ev := *s.nextEvent
			if ev.Pin == level.PPSBit && ev.Level == level.Set {
				extraUS += s.firePPSPiggyback(ev)
			} else {
				s.executeEvent(ev)
			}
		}

		ev, ok := s.Queue.Pop()
		if !ok {
			s.nextEvent = nil
			break
		}
		s.nextEvent = &ev
		if ev.OffsetUS != 0 {
			break
		}
	}

	if s.nextEvent != nil {
		d := time.Duration(s.nextEvent.OffsetUS+extraUS) * time.Microsecond
		s.timer = s.Rearmer.Arm(d, s.fire)
		return
	}
	atomic.StoreInt32(&s.timerRunning, 0)
}

// firePPSPiggyback either drives the PPS pin immediately after a
// bounded busy-wait, pulling forward any events that fall inside the
// remaining window, or skips the edge entirely if the callback fired
// too early or too late relative to the next integer second.
func (s *Scheduler) firePPSPiggyback(ev queue.Event) uint32 {
	now := s.Clock.Now()
	deltaNS := int64(time.Second) - int64(now.Nanosecond()) - PPSShiftNS
	if deltaNS >= PPSMaxWaitNS || deltaNS < 0 {
		s.skippedCount++
		return 0
	}

	var extraUS uint32
	for {
		offset, ok := s.Queue.PeekOffset()
		if !ok {
			break
		}
		nextNS := int64(offset) * 1000
		if nextNS >= deltaNS {
			break
		}
		next, ok := s.Queue.Pop()
		if !ok {
			break
		}
		s.Spin(time.Duration(next.OffsetUS) * time.Microsecond)
		s.executeEvent(next)
		deltaNS -= nextNS
		extraUS += next.OffsetUS
	}

	s.Spin(time.Duration(deltaNS) * time.Nanosecond)
	s.executeEvent(ev)
	return extraUS
}
