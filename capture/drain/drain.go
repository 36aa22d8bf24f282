// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package drain implements the sample drain loop (spec §4.D): it waits
// for the coprocessor to signal a half-buffer fill, writes that half to
// a backing file, clears it, and watches for overrun — the host side
// of original_source/pru/fl_logic/fl_logic.c's pru1_run.
package drain

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// EventChannel is the coprocessor interrupt-equivalent event the drain
// loop blocks on. It has the same shape as host/coproc.EventChannel;
// kept as a separate, narrower interface here so this package has no
// import-time dependency on host/coproc.
type EventChannel interface {
	Wait(timeout time.Duration) (pending bool, err error)
	Clear()
}

// Buffer is the physically mapped ring buffer shared with the
// coprocessor. It has the same shape as host/coproc.Buffer.
type Buffer interface {
	Bytes() []byte
}

// overrunProbe is the timeout used to detect a lapped consumer (spec
// §4.D step 4: "re-check the event channel with a 10 µs timeout").
const overrunProbe = 10 * time.Microsecond

// pollTimeout bounds each blocking wait so the stop condition and the
// running flag are re-checked periodically (spec §4.D step 1: "a
// few-hundred-millisecond timeout"), matching fl_logic.c's
// prussdrv_pru_wait_event_timeout(PRU_EVTOUT_1, 100000) (100 ms).
const pollTimeout = 100 * time.Millisecond

// startAlignSlack is added to the 1-second pre-roll sleep before the
// start handshake (spec §4.D "Timing rules": "usleep 1s + 100ms of
// slack").
const startAlignSlack = 100 * time.Millisecond

// Clock abstracts wall-clock reads and sleeps so the loop is testable
// without waiting on a real clock.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the production Clock, backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time      { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Result reports what actually happened during a drain run, including
// any adjustment to the requested start/stop times.
type Result struct {
	EffectiveStartS int64
	EffectiveStopS  int64
	ReadoutCount    uint32
	Overrun         bool
}

// Loop drives one capture session: handshake, drain until stop, final
// quiescence and trailing copy.
type Loop struct {
	Events EventChannel
	Buf    Buffer
	Out    io.Writer
	Clock  Clock
	// Running is checked at the top of every iteration; the caller
	// (typically a signal handler) clears it to request a clean stop,
	// matching spec §5's shared `running` flag.
	Running *int32
}

func (l *Loop) running() bool {
	return atomic.LoadInt32(l.Running) != 0
}

// waitForStart polls until one second before startS, matching
// wait_for_start's "starttime--" pre-roll, then sleeps a further
// second plus startAlignSlack before returning.
func (l *Loop) waitForStart(startS int64) {
	if startS == 0 {
		return
	}
	target := startS - 1
	for l.running() {
		now := l.Clock.Now().Unix()
		if now >= target {
			break
		}
		l.Clock.Sleep(startAlignSlack)
	}
	if l.running() {
		l.Clock.Sleep(time.Second + startAlignSlack)
	}
}

// handshake is supplied by the caller as a function rather than a
// method on an interface embedded here, since the handshake protocol
// (host/coproc.Bridge.Handshake) is a richer operation than this
// package needs to know about.
type HandshakeFunc func() error

// Run executes the full drain protocol and returns once sampling has
// stopped, the file has been fully written, or an unrecoverable error
// occurs.
func (l *Loop) Run(startS, stopS int64, handshake HandshakeFunc) (Result, error) {
	l.waitForStart(startS)

	if err := handshake(); err != nil {
		return Result{}, fmt.Errorf("drain: start handshake: %w", err)
	}

	effectiveStart := startS
	if now := l.Clock.Now().Unix(); startS != 0 && now > startS {
		effectiveStart = now
	}

	var readoutCount uint32
	overrun := false

	for l.running() {
		if stopS != 0 && l.Clock.Now().Unix() >= stopS {
			break
		}

		pending, err := l.Events.Wait(pollTimeout)
		if err != nil {
			if !l.running() {
				break
			}
			return Result{}, fmt.Errorf("drain: event wait: %w", err)
		}
		if !pending {
			continue
		}
		l.Events.Clear()

		data := l.Buf.Bytes()
		half := len(data) / 2
		curr := data[:half]
		if readoutCount&1 != 0 {
			curr = data[half:]
		}

		if _, err := l.Out.Write(curr); err != nil {
			return Result{}, fmt.Errorf("drain: write sample half: %w", err)
		}
		zero(curr)
		readoutCount++

		if pending, _ := l.Events.Wait(overrunProbe); pending {
			overrun = true
			break
		}
	}

	if err := handshake(); err != nil {
		return Result{}, fmt.Errorf("drain: stop handshake: %w", err)
	}

	// The effective stop time is sampled one second in the past,
	// matching pru1_run's `currtime = time(NULL) - 1`: the last
	// completed second is what the trace actually covers, since the
	// in-flight second hasn't finished being sampled when this runs.
	// Preserved as specified rather than treated as an off-by-one bug.
	effectiveStop := stopS
	if now := l.Clock.Now().Unix() - 1; stopS != 0 && now > stopS {
		effectiveStop = now
	}

	data := l.Buf.Bytes()
	half := len(data) / 2
	trail := 32
	if trail > half {
		trail = half
	}
	if readoutCount&1 != 0 {
		if _, err := l.Out.Write(data[half:]); err != nil {
			return Result{}, fmt.Errorf("drain: write trailing half: %w", err)
		}
		if _, err := l.Out.Write(data[:trail]); err != nil {
			return Result{}, fmt.Errorf("drain: write trailing bytes: %w", err)
		}
	} else {
		if _, err := l.Out.Write(data[:half+trail]); err != nil {
			return Result{}, fmt.Errorf("drain: write trailing half+slack: %w", err)
		}
	}

	return Result{
		EffectiveStartS: effectiveStart,
		EffectiveStopS:  effectiveStop,
		ReadoutCount:    readoutCount,
		Overrun:         overrun,
	}, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
