// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package decode reassembles the delta-encoded sample stream dumped by
// the drain loop into pin-edge events, tracking accumulated ticks and
// per-pin level changes across the stream.
package decode

import (
	"github.com/flocklab-tec/observer-core/conn/level"
	"github.com/flocklab-tec/observer-core/conn/sample"
)

// Edge is a single detected pin-level transition, monotonic-time only;
// the timestamp reconstructor attaches wall-clock time separately.
type Edge struct {
	MonotonicTicks uint64
	Pin            int
	Level          level.Level
	// SyncEdge is true when this is a bit-7 transition observed at the
	// first or last sample of the stream: the trace-start/stop reset
	// bookend, not a periodic PPS pulse. Callers label such an edge with
	// level.Labels.Name(7) ("nRST"); a bit-7 transition at any other
	// sample is a genuine per-second pulse and is labeled Name(8)
	// ("PPS") instead (see capture/csvout's label, grounded on
	// parse_tracing_data's "i == 7 && sample_cnt > 0 && sample_cnt <
	// parsed_size/4 - 1" relabel, which only fires on middle samples).
	SyncEdge bool
}

// Decoder reassembles a stream of sample.Word values into Edge events.
// The zero value is not usable; use New.
type Decoder struct {
	accumulated  uint64
	previousBits uint8
	sampleCount  int
	started      bool
}

// New returns a Decoder ready to process the first sample of a trace.
func New() *Decoder {
	return &Decoder{}
}

// Feed processes one sample word and appends any edges it produced to
// dst, returning the extended slice. The caller supplies totalSamples
// (the count of non-sentinel words in the whole stream, known only
// once the stream has been fully read) so the bit-7 suppression rule
// below can tell "last sample" apart from "middle sample"; pass -1 if
// unknown, in which case every bit-7 transition after the first is
// suppressed (conservative: matches "not yet known to be the last").
//
// keepAllSync, when true, disables the suppression below, needed when
// the caller explicitly asked for an unscaled/relative-time dump. When
// false, pin 7 (reset/PPS) edges are reported only on the very first
// and very last sample of the stream; every other bit-7 transition is
// dropped, matching parse_tracing_data's second pass.
func (d *Decoder) Feed(w sample.Word, totalSamples int, keepAllSync bool, dst []Edge) []Edge {
	if w.IsSentinel() {
		return dst
	}
	if !d.started {
		// Every pin whose initial level is 1 must emit a synthetic
		// rising edge at t=0, and vice versa: seed previousBits as the
		// bitwise complement of the first sample so the first XOR pass
		// reports every pin's initial state as a transition.
		d.previousBits = ^w.Pins()
		d.started = true
	}

	d.accumulated += uint64(w.Delta())
	changed := w.Pins() ^ d.previousBits

	isFirst := d.sampleCount == 0
	isLast := totalSamples >= 0 && d.sampleCount == totalSamples-1

	for i := 0; i < level.PinCount; i++ {
		bit := uint8(1) << uint(i)
		if changed&bit == 0 {
			continue
		}
		sync := i == level.PPSBit && (isFirst || isLast)
		if i == level.PPSBit && !sync && !keepAllSync {
			continue
		}
		lvl := level.Low
		if w.Pins()&bit != 0 {
			lvl = level.High
		}
		dst = append(dst, Edge{MonotonicTicks: d.accumulated, Pin: i, Level: lvl, SyncEdge: sync})
	}

	d.previousBits = w.Pins()
	if isFirst {
		// Fixup for the initial synthetic bit-7 edge: clear it so the
		// very next real PPS transition is reported rather than
		// suppressed by an XOR that still shows it as "unchanged".
		d.previousBits &^= 1 << level.PPSBit
	}
	d.sampleCount++
	return dst
}

// AccumulatedTicks returns the running tick total after the most
// recent Feed call.
func (d *Decoder) AccumulatedTicks() uint64 {
	return d.accumulated
}

// SampleCount returns the number of non-sentinel samples processed so
// far.
func (d *Decoder) SampleCount() int {
	return d.sampleCount
}

// DecodeAll decodes every word in words (already stripped of or
// terminated by the sentinel) and returns the full edge list.
func DecodeAll(words []sample.Word, keepAllSync bool) []Edge {
	d := New()
	n := len(words)
	for i, w := range words {
		if w.IsSentinel() {
			n = i
			break
		}
	}
	var edges []Edge
	for i := 0; i < n; i++ {
		edges = d.Feed(words[i], n, keepAllSync, edges)
	}
	return edges
}
