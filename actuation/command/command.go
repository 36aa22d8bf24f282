// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package command parses the textual actuation command stream and
// applies it against an event queue and scheduler. Grounded on
// original_source/various/actuation/fl_actuation.c's
// parse_argument/parse_uint32.
package command

import (
	"time"

	"github.com/flocklab-tec/observer-core/actuation/scheduler"
	"github.com/flocklab-tec/observer-core/conn/level"
	"github.com/flocklab-tec/observer-core/conn/queue"
)

// Pins names the four dedicated actuation pin roles plus the
// actuation-enable pin, resolved by the caller to whatever GPIO indices
// the board wiring uses.
type Pins struct {
	SIG1  uint8
	SIG2  uint8
	NRST  uint8
	PPS   uint8
	ActEn uint8
}

// Target is one enqueued command's (pin, level) pair.
type Target struct {
	Pin   uint8
	Level level.Action
}

// Arm is emitted for an 'S'/'s' command: arm the scheduler at this
// absolute wall-clock time.
//
// Valid is false when the parsed start time is zero or not strictly
// after the now passed to Parse, matching fl_actuation.c's
// "if (val > now.tv_sec)" guard around the actual timer_set call: such
// a start time is silently ignored (no arm, and no error counted)
// rather than rejected.
type Arm struct {
	At    time.Time
	Valid bool
}

// Cancel is emitted for a 'C'/'c' command.
type Cancel struct{}

// Enqueue is emitted for H/L/T/R/P/A commands.
type Enqueue struct {
	OffsetUS uint32
	Target   Target
}

// Action is one parsed command: exactly one of Arm, Cancel, or Enqueue
// is non-nil.
type Action struct {
	Arm     *Arm
	Cancel  *Cancel
	Enqueue *Enqueue
}

// Parse reads cmds one character at a time (whitespace ignored) and
// returns the sequence of actions it represents.
//
// A command with no numeric argument following it (including at the
// end of the stream) is parsed with an implicit offset/start value of
// 0, matching fl_actuation.c's parse_uint32 returning 0 for a
// digit-less string rather than signaling an error: the error counting
// in the reply happens when an action is later applied (queue full, or
// an arm attempted on an empty queue), not during parsing.
//
// now is the wall-clock time used to resolve 'S' arguments under 1000
// as a relative offset.
func Parse(cmds []byte, pins Pins, now time.Time) []Action {
	var actions []Action

	for i := 0; i < len(cmds); i++ {
		c := cmds[i]
		switch c {
		case ' ', '\t', '\r', '\n':
			continue

		case 'S', 's':
			val := parseUint32(cmds[i+1:])
			sec := int64(val)
			if val > 0 && val < 1000 {
				// treat as relative start time
				sec += now.Unix()
			}
			valid := val > 0 && sec > now.Unix()
			actions = append(actions, Action{Arm: &Arm{At: time.Unix(sec, 0), Valid: valid}})

		case 'C', 'c':
			actions = append(actions, Action{Cancel: &Cancel{}})

		case 'H', 'h':
			actions = append(actions, enqueueAction(cmds[i+1:], sig(pins, c == 'H'), level.Set))
		case 'L', 'l':
			actions = append(actions, enqueueAction(cmds[i+1:], sig(pins, c == 'L'), level.Clear))
		case 'T', 't':
			actions = append(actions, enqueueAction(cmds[i+1:], sig(pins, c == 'T'), level.Toggle))
		case 'R', 'r':
			actions = append(actions, enqueueAction(cmds[i+1:], pins.NRST, boolLevel(c == 'R')))
		case 'P', 'p':
			actions = append(actions, enqueueAction(cmds[i+1:], pins.PPS, boolLevel(c == 'P')))
		case 'A', 'a':
			actions = append(actions, enqueueAction(cmds[i+1:], pins.ActEn, boolLevel(c == 'A')))

		default:
			// Digits belonging to a preceding command's argument, or
			// any other unrecognized byte: a no-op. fl_actuation.c's
			// parse_argument scans one byte at a time and only acts on
			// recognized command letters; parse_uint32 looks ahead
			// into the digits that follow without the outer loop
			// skipping over them explicitly.
		}
	}

	return actions
}

func sig(pins Pins, upper bool) uint8 {
	if upper {
		return pins.SIG1
	}
	return pins.SIG2
}

func boolLevel(upper bool) level.Action {
	if upper {
		return level.Set
	}
	return level.Clear
}

func enqueueAction(rest []byte, pin uint8, lvl level.Action) Action {
	val := parseUint32(rest)
	return Action{Enqueue: &Enqueue{OffsetUS: val, Target: Target{Pin: pin, Level: lvl}}}
}

// parseUint32 reads leading decimal digits from b, returning 0 if none
// are present.
func parseUint32(b []byte) uint32 {
	var res uint32
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		res = res*10 + uint32(c-'0')
	}
	return res
}

// Apply runs actions against q and sched in order, returning the
// number of actions that could not be applied (a full queue, or an arm
// attempted while the queue is empty), matching fl_actuation.c's
// errcnt. An arm attempted on a non-empty queue with a past or zero
// start time is silently ignored and does not count as an error,
// matching parse_argument's "if (val > now.tv_sec)" guard.
func Apply(actions []Action, q *queue.Queue, sched *scheduler.Scheduler, sig1, sig2 uint8) int {
	errCount := 0
	for _, a := range actions {
		switch {
		case a.Enqueue != nil:
			ev := queue.Event{OffsetUS: a.Enqueue.OffsetUS, Pin: a.Enqueue.Target.Pin, Level: a.Enqueue.Target.Level}
			if !q.Push(ev) {
				// Rejected either because the queue is full or because
				// the scheduler timer is running (conn/queue.Queue's
				// TimerRunning hook, wired to sched.Running by the
				// caller that constructs both).
				errCount++
			}
		case a.Arm != nil:
			if q.Size() == 0 {
				errCount++
				continue
			}
			if a.Arm.Valid {
				sched.Arm(a.Arm.At)
			}
		case a.Cancel != nil:
			sched.Cancel(uint32(sig1), uint32(sig2))
		}
	}
	return errCount
}
