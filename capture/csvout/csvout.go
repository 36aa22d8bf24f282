// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package csvout writes the decoded, timestamped edge stream in the
// two line formats of spec §6: a four-column scaled schema and a
// three-column unscaled schema, matching
// original_source/pru/fl_logic/fl_logic.c's hand-built
// "%.7f,%.7f,%s,%u" field layout rather than an RFC 4180 writer. Each
// line is terminated by "\r\n".
package csvout

import (
	"bufio"
	"io"

	"github.com/flocklab-tec/observer-core/capture/timestamp"
	"github.com/flocklab-tec/observer-core/conn/level"
)

// label returns the pin name for edge e. A middle (non-boundary) bit-7
// transition is a genuine periodic PPS pulse and gets the "PPS" alias
// (index 8); the first/last bit-7 transition is the trace-start/stop
// reset bookend and keeps the regular "nRST" name — matching
// fl_logic.c's parse_tracing_data, which only relabels i==7 to
// pin_mapping[8] when "sample_cnt > 0 && sample_cnt <
// parsed_size/4 - 1" (a middle sample), never at the first or last.
func label(labels level.Labels, e timestamp.OutputEdge) string {
	if !e.SyncEdge && e.Pin == level.PPSBit {
		return labels.Name(8)
	}
	return labels.Name(e.Pin)
}

func levelDigit(l level.Level) byte {
	if l == level.High {
		return '1'
	}
	return '0'
}

// WriteScaled emits the four-column schema:
// realtime_seconds,monotonic_seconds,pin_label,level\r\n for each edge in
// order, using labels to name the traced pins and samplingRateHz to
// convert accumulated ticks to seconds.
func WriteScaled(w io.Writer, edges []timestamp.OutputEdge, labels level.Labels, samplingRateHz uint64) error {
	bw := bufio.NewWriter(w)
	for _, e := range edges {
		mono := float64(e.MonotonicTicks) / float64(samplingRateHz)
		if _, err := bw.WriteString(formatFloat7(e.RealtimeSeconds)); err != nil {
			return err
		}
		bw.WriteByte(',')
		bw.WriteString(formatFloat7(mono))
		bw.WriteByte(',')
		bw.WriteString(label(labels, e))
		bw.WriteByte(',')
		bw.WriteByte(levelDigit(e.Level))
		bw.WriteByte('\r')
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteUnscaled emits the three-column schema:
// monotonic_seconds,pin_label,level\r\n for each edge. Unlike
// WriteScaled, every bit-7 transition is expected to be present in
// edges (spec §4.E.5: suppression is skipped "if the caller explicitly
// asked for an unscaled/relative-time dump").
func WriteUnscaled(w io.Writer, edges []EdgeTick, labels level.Labels, samplingRateHz uint64) error {
	bw := bufio.NewWriter(w)
	for _, e := range edges {
		mono := float64(e.MonotonicTicks) / float64(samplingRateHz)
		bw.WriteString(formatFloat7(mono))
		bw.WriteByte(',')
		bw.WriteString(labels.Name(e.Pin))
		bw.WriteByte(',')
		bw.WriteByte(levelDigit(e.Level))
		bw.WriteByte('\r')
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// EdgeTick is the minimal edge shape the unscaled schema needs: no
// realtime reconstruction is performed in that mode.
type EdgeTick struct {
	MonotonicTicks uint64
	Pin            int
	Level          level.Level
}
