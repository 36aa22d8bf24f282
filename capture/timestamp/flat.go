// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package timestamp

import (
	"github.com/flocklab-tec/observer-core/capture/decode"
)

// FlatResult is the outcome of a flat (single-factor) reconstruction.
type FlatResult struct {
	Edges      []OutputEdge
	Corr       float64
	Rejected   bool
	Discovered bool // false if the trace had no PPS rising+falling pair
}

// Flat applies single-factor scaling across the whole trace (spec
// §4.F "Flat (simple) scaling"): the correction factor is computed once
// from the first PPS rising edge to the last PPS falling edge, and
// every sample's monotonic tick count is scaled by it.
//
// edges must come from a decode.Decoder run with keepAllSync=false, so
// only the first and last bit-7 transitions are present (flat mode
// anchors on exactly those two).
func Flat(edges []decode.Edge, startS, stopS float64, samplingRateHz uint64) FlatResult {
	firstRising, lastFalling, ok := ppsWindow(edges)
	if !ok {
		return flatWithCorr(edges, startS, samplingRateHz, 1, true, false)
	}

	elapsedTicks := lastFalling - firstRising
	if elapsedTicks == 0 {
		return flatWithCorr(edges, startS, samplingRateHz, 1, true, true)
	}

	corr := ((stopS - startS) + 1) / (float64(elapsedTicks) / float64(samplingRateHz))
	rejected := corr < 1-MaxCorrectionDeviation || corr > 1+MaxCorrectionDeviation
	if rejected {
		corr = 1
	}
	return flatWithCorr(edges, startS, samplingRateHz, corr, rejected, true)
}

func flatWithCorr(edges []decode.Edge, startS float64, samplingRateHz uint64, corr float64, rejected, discovered bool) FlatResult {
	out := make([]OutputEdge, len(edges))
	for i, e := range edges {
		out[i] = OutputEdge{
			RealtimeSeconds: startS + float64(e.MonotonicTicks)/float64(samplingRateHz)*corr,
			MonotonicTicks:  e.MonotonicTicks,
			Pin:             e.Pin,
			Level:           e.Level,
			SyncEdge:        e.SyncEdge,
		}
	}
	return FlatResult{Edges: out, Corr: corr, Rejected: rejected, Discovered: discovered}
}

// ppsWindow returns the tick count of the first PPS rising edge and
// the last PPS falling edge in edges.
func ppsWindow(edges []decode.Edge) (firstRising, lastFalling uint64, ok bool) {
	haveFirst := false
	haveLast := false
	for _, e := range edges {
		if !haveFirst && isPPSRising(e) {
			firstRising = e.MonotonicTicks
			haveFirst = true
		}
		if isPPSFalling(e) {
			lastFalling = e.MonotonicTicks
			haveLast = true
		}
	}
	return firstRising, lastFalling, haveFirst && haveLast
}
