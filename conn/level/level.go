// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package level defines the digital pin vocabulary shared by the
// capture and actuation halves of the observer core: signal levels,
// edges, and the fixed label tables for the eight traced pins and the
// handful of dedicated actuation pins.
package level

import "fmt"

// Level is the level of a pin: Low or High.
type Level bool

// Acceptable level values.
const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == Low {
		return "Low"
	}
	return "High"
}

// Action is the effect requested on an actuation pin: clear, set, or
// toggle. It mirrors the 0/1/2 encoding of an actuation event's level
// field (spec §3 "Actuation event").
type Action uint8

// Acceptable actuation actions.
const (
	Clear  Action = 0
	Set    Action = 1
	Toggle Action = 2
)

func (a Action) String() string {
	switch a {
	case Clear:
		return "Clear"
	case Set:
		return "Set"
	case Toggle:
		return "Toggle"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Edge specifies the pin transition direction an observer is
// interested in.
type Edge int

// Acceptable edge values.
const (
	NoEdge Edge = iota
	Rising
	Falling
)

func (e Edge) String() string {
	switch e {
	case NoEdge:
		return "NoEdge"
	case Rising:
		return "Rising"
	case Falling:
		return "Falling"
	default:
		return fmt.Sprintf("Edge(%d)", int(e))
	}
}

// PinCount is the number of digital input pins the coprocessor can
// trace in a single sample word (spec §3 "Sample").
const PinCount = 8

// PPSBit is the bit position reserved for the PPS/reset synchronization
// channel (spec §3 "Pin identity").
const PPSBit = 7

// defaultLabels is the pin_mapping table from
// original_source/pru/fl_logic/fl_logic.c, indexed by bit position.
// Index 8 ("PPS") is not a ninth traced bit: it is an alternate label
// for bit 7 used for every transition except the first and last, which
// keep "nRST" (see capture/decode and capture/csvout).
var defaultLabels = [...]string{"LED1", "LED2", "LED3", "INT1", "INT2", "SIG1", "SIG2", "nRST", "PPS"}

// altLabels is the platform-pin alias set a caller may request instead
// of the logical names above (spec §6 "CSV output").
var altLabels = [...]string{"P845", "P846", "P843", "P844", "P841", "P842", "P839", "P840", "P827"}

// Labels selects between the logical pin-name table and the
// platform-pin alias table.
type Labels struct {
	Alt bool
}

// Name returns the label for bit index i (0..8, where 8 is the PPS
// alias of bit 7).
func (s Labels) Name(i int) string {
	if s.Alt {
		return altLabels[i]
	}
	return defaultLabels[i]
}
