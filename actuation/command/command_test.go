// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package command

import (
	"testing"
	"time"

	"github.com/flocklab-tec/observer-core/conn/level"
	"github.com/flocklab-tec/observer-core/conn/queue"
)

var testPins = Pins{SIG1: 5, SIG2: 6, NRST: 7, PPS: 8, ActEn: 9}

func TestParseEnqueueUppercaseTargetsSIG1(t *testing.T) {
	actions := Parse([]byte("H1000"), testPins, time.Unix(1000, 0))
	if len(actions) != 1 || actions[0].Enqueue == nil {
		t.Fatalf("got %+v, want a single Enqueue action", actions)
	}
	e := actions[0].Enqueue
	if e.OffsetUS != 1000 || e.Target.Pin != testPins.SIG1 || e.Target.Level != level.Set {
		t.Fatalf("unexpected enqueue: %+v", e)
	}
}

func TestParseLowercaseTargetsSIG2(t *testing.T) {
	actions := Parse([]byte("l500"), testPins, time.Unix(1000, 0))
	e := actions[0].Enqueue
	if e.Target.Pin != testPins.SIG2 || e.Target.Level != level.Clear {
		t.Fatalf("unexpected enqueue: %+v", e)
	}
}

func TestParseMultipleCommandsBackToBack(t *testing.T) {
	actions := Parse([]byte("H1000L500"), testPins, time.Unix(1000, 0))
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2: %+v", len(actions), actions)
	}
	if actions[0].Enqueue.OffsetUS != 1000 || actions[1].Enqueue.OffsetUS != 500 {
		t.Fatalf("offsets = %d, %d, want 1000, 500", actions[0].Enqueue.OffsetUS, actions[1].Enqueue.OffsetUS)
	}
}

func TestParseIgnoresWhitespace(t *testing.T) {
	actions := Parse([]byte("H1000 L500"), testPins, time.Unix(1000, 0))
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
}

func TestParseCommandWithNoDigitsDefaultsToZero(t *testing.T) {
	actions := Parse([]byte("H"), testPins, time.Unix(1000, 0))
	if len(actions) != 1 || actions[0].Enqueue.OffsetUS != 0 {
		t.Fatalf("got %+v, want a single enqueue with offset 0", actions)
	}
}

func TestParseStartRelativeOffset(t *testing.T) {
	now := time.Unix(1000, 0)
	actions := Parse([]byte("S5"), testPins, now)
	if actions[0].Arm == nil {
		t.Fatal("expected an Arm action")
	}
	if actions[0].Arm.At.Unix() != 1005 {
		t.Fatalf("Arm.At = %v, want 1005 (now+5, relative since < 1000)", actions[0].Arm.At.Unix())
	}
}

func TestParseStartAbsoluteOffset(t *testing.T) {
	now := time.Unix(1000, 0)
	actions := Parse([]byte("S2000"), testPins, now)
	if actions[0].Arm.At.Unix() != 2000 {
		t.Fatalf("Arm.At = %v, want 2000 (absolute, >= 1000)", actions[0].Arm.At.Unix())
	}
	if !actions[0].Arm.Valid {
		t.Fatal("expected Arm.Valid for a start time after now")
	}
}

func TestParseStartPastAbsoluteTimeIsInvalid(t *testing.T) {
	now := time.Unix(2000, 0)
	actions := Parse([]byte("S1000"), testPins, now)
	if actions[0].Arm.Valid {
		t.Fatal("expected Arm.Valid = false for a start time not after now")
	}
}

func TestParseStartZeroIsInvalid(t *testing.T) {
	now := time.Unix(1000, 0)
	actions := Parse([]byte("S"), testPins, now)
	if actions[0].Arm.Valid {
		t.Fatal("expected Arm.Valid = false for an absent/zero start time")
	}
}

func TestParseCancel(t *testing.T) {
	actions := Parse([]byte("C"), testPins, time.Unix(1000, 0))
	if len(actions) != 1 || actions[0].Cancel == nil {
		t.Fatalf("got %+v, want a single Cancel action", actions)
	}
}

func TestParseResetPPSAndActuationEnable(t *testing.T) {
	actions := Parse([]byte("R100r100P100p100A100a100"), testPins, time.Unix(1000, 0))
	if len(actions) != 6 {
		t.Fatalf("got %d actions, want 6", len(actions))
	}
	want := []struct {
		pin uint8
		lvl level.Action
	}{
		{testPins.NRST, level.Set}, {testPins.NRST, level.Clear},
		{testPins.PPS, level.Set}, {testPins.PPS, level.Clear},
		{testPins.ActEn, level.Set}, {testPins.ActEn, level.Clear},
	}
	for i, w := range want {
		got := actions[i].Enqueue
		if got.Target.Pin != w.pin || got.Target.Level != w.lvl {
			t.Errorf("action %d = %+v, want pin=%d level=%v", i, got, w.pin, w.lvl)
		}
	}
}

func TestApplyCountsFullQueueAsError(t *testing.T) {
	q := queue.New(2) // holds at most 1 event
	actions := []Action{
		{Enqueue: &Enqueue{OffsetUS: 100, Target: Target{Pin: 1, Level: level.Set}}},
		{Enqueue: &Enqueue{OffsetUS: 100, Target: Target{Pin: 1, Level: level.Set}}},
	}
	errCount := Apply(actions, q, nil, 5, 6)
	if errCount != 1 {
		t.Fatalf("errCount = %d, want 1 (second push rejected, queue full)", errCount)
	}
}

func TestApplyArmOnEmptyQueueIsError(t *testing.T) {
	q := queue.New(8)
	actions := []Action{{Arm: &Arm{At: time.Unix(2000, 0), Valid: true}}}
	errCount := Apply(actions, q, nil, 5, 6)
	if errCount != 1 {
		t.Fatalf("errCount = %d, want 1 (arm on empty queue)", errCount)
	}
}

func TestApplySilentlyIgnoresPastOrZeroArm(t *testing.T) {
	q := queue.New(8)
	q.Push(queue.Event{OffsetUS: 100, Pin: 1, Level: level.Set})
	// Valid is false (the zero value), matching a past or zero start
	// time: Apply must not dereference sched at all.
	actions := []Action{{Arm: &Arm{At: time.Unix(500, 0)}}}
	errCount := Apply(actions, q, nil, 5, 6)
	if errCount != 0 {
		t.Fatalf("errCount = %d, want 0 (past/zero start time is silently ignored, not an error)", errCount)
	}
}
