// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package timestamp

import (
	"fmt"
	"math"

	"github.com/flocklab-tec/observer-core/capture/decode"
)

type stepwiseState int

const (
	waitRising stepwiseState = iota
	waitFalling
)

// StepwiseResult is the outcome of a stepwise reconstruction.
type StepwiseResult struct {
	Edges    []OutputEdge
	Warnings []string
}

// Stepwise applies per-second scaling: a state machine over PPS edges
// recomputes the correction factor at every rising edge and re-emits
// the samples buffered since the previous sync point with that factor.
//
// edges must come from a decode.Decoder run with keepAllSync=true, so
// every PPS transition is visible, not only the first and last.
//
// This implementation buffers and replays from the in-memory edge
// slice rather than rewinding and re-reading the backing trace file:
// the original C implementation streamed samples and could not hold a
// whole trace in memory, but a host-side Go process operating on an
// already-decoded edge list has no such constraint, so the rewind-and-
// replay is realized here as a replay over a buffered segment with
// equivalent output.
func Stepwise(edges []decode.Edge, startS, offsetS, stopS float64, samplingRateHz uint64) StepwiseResult {
	var (
		out      []OutputEdge
		warnings []string

		state           = waitRising
		seenFirstPulse  bool
		syncPointTicks  uint64
		syncPointSecond = startS
		prevCorr        = 1.0
		haveCorr        bool
		buffered        []decode.Edge
	)

	emitSegment := func(corr float64, anchor float64) {
		for _, e := range buffered {
			rt := anchor + float64(e.MonotonicTicks-syncPointTicks)/float64(samplingRateHz)*corr
			out = append(out, OutputEdge{
				RealtimeSeconds: rt,
				MonotonicTicks:  e.MonotonicTicks,
				Pin:             e.Pin,
				Level:           e.Level,
				SyncEdge:        e.SyncEdge,
			})
		}
		buffered = buffered[:0]
	}

	computeCorr := func(ticks uint64) (corr, secElapsed float64) {
		elapsed := float64(ticks) / float64(samplingRateHz)
		secElapsed = math.Round(elapsed)
		if elapsed == 0 {
			return 1, 0
		}
		return secElapsed / elapsed, secElapsed
	}

	for _, e := range edges {
		buffered = append(buffered, e)
		if !isPPSRising(e) && !isPPSFalling(e) {
			continue
		}
		switch state {
		case waitRising:
			if !isPPSRising(e) {
				continue
			}
			if !seenFirstPulse {
				// The first pulse is skipped unconditionally, even
				// when offsetS == 0: its timing is perturbed by the
				// coprocessor's own pre-trace offset mechanism, so no
				// correction factor is computed for the interval that
				// ends at it. Its rising edge becomes the initial sync
				// point (at startS), and it and every edge buffered
				// before it are dropped from the output.
				seenFirstPulse = true
				syncPointTicks = e.MonotonicTicks
				buffered = buffered[:0]
				state = waitFalling
				continue
			}

			elapsedTicks := e.MonotonicTicks - syncPointTicks
			corr, secElapsed := computeCorr(elapsedTicks)
			rejected := corr < 1-MaxCorrectionDeviation || corr > 1+MaxCorrectionDeviation
			if rejected {
				warnings = append(warnings, "timestamp scaling failed")
				corr = 1
			} else if haveCorr && math.Abs(corr-prevCorr) > DriftWarnThreshold {
				warnings = append(warnings, "correction factor discontinuity")
			}

			emitSegment(corr, syncPointSecond)
			prevCorr = corr
			haveCorr = true
			syncPointSecond += secElapsed
			syncPointTicks = e.MonotonicTicks
			state = waitFalling

		case waitFalling:
			if isPPSFalling(e) {
				state = waitRising
			}
		}
	}

	if len(buffered) > 0 {
		last := buffered[len(buffered)-1]
		elapsedTicks := last.MonotonicTicks - syncPointTicks
		corr := 1.0
		secElapsed := 0.0
		if elapsedTicks > 0 {
			corr, secElapsed = computeCorr(elapsedTicks)
			if corr < 1-MaxCorrectionDeviation || corr > 1+MaxCorrectionDeviation {
				warnings = append(warnings, "timestamp scaling failed")
				corr = 1
			}
		}
		emitSegment(corr, syncPointSecond)
		syncPointSecond += secElapsed
	}

	if math.Abs(syncPointSecond-(stopS+1)) > 0.5 {
		warnings = append(warnings, fmt.Sprintf("final sync second %.1f does not match expected %.1f", syncPointSecond, stopS+1))
	}

	return StepwiseResult{Edges: out, Warnings: warnings}
}
