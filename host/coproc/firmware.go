// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package coproc

import (
	"fmt"
	"os"
	"path/filepath"
)

// Firmware enumerates the fixed set of coprocessor firmware images
// selectable via the extra_options_hex capability flags.
type Firmware int

// Acceptable Firmware values, in the order firmware selection in
// original_source/pru/fl_logic/fl_logic.c checks capability flags.
const (
	Standard10MHz Firmware = iota
	CycleCounter625MHz
	Medium1MHz
	Low100kHz
	DualCoreScratchpad
)

// SamplingRateHz returns the nominal sampling rate of each firmware
// image, used by the decoder and timestamp reconstructor to turn ticks
// into seconds.
func (f Firmware) SamplingRateHz() uint64 {
	switch f {
	case Standard10MHz:
		return 10000000
	case CycleCounter625MHz:
		return 6250000
	case Medium1MHz:
		return 1000000
	case Low100kHz:
		return 100000
	case DualCoreScratchpad:
		return 10000000
	default:
		return 10000000
	}
}

func (f Firmware) String() string {
	switch f {
	case Standard10MHz:
		return "standard_10MHz"
	case CycleCounter625MHz:
		return "cycle_counter_6.25MHz"
	case Medium1MHz:
		return "medium_1MHz"
	case Low100kHz:
		return "low_100kHz"
	case DualCoreScratchpad:
		return "dual_core_scratchpad"
	default:
		return fmt.Sprintf("Firmware(%d)", int(f))
	}
}

// filename is the image file basename for f, matching the naming
// scheme of original_source/pru/fl_logic/fl_logic.c's
// PRU1_FIRMWARE ("fl_pru1_logic.bin").
func (f Firmware) filename() string {
	switch f {
	case Standard10MHz:
		return "fl_pru1_logic.bin"
	case CycleCounter625MHz:
		return "fl_pru1_logic_cyclecnt.bin"
	case Medium1MHz:
		return "fl_pru1_logic_med.bin"
	case Low100kHz:
		return "fl_pru1_logic_low.bin"
	case DualCoreScratchpad:
		return "fl_pru1_logic_dualcore.bin"
	default:
		return "fl_pru1_logic.bin"
	}
}

// SelectFirmware returns the path to the requested firmware image under
// dir, verifying the file exists before selecting it. If that image
// does not exist on disk, selection falls through to Standard10MHz.
func SelectFirmware(requested Firmware, dir string) (Firmware, string, error) {
	path := filepath.Join(dir, requested.filename())
	if _, err := os.Stat(path); err == nil {
		return requested, path, nil
	}
	if requested == Standard10MHz {
		return Standard10MHz, path, fmt.Errorf("coproc: default firmware %s not found", path)
	}
	defPath := filepath.Join(dir, Standard10MHz.filename())
	if _, err := os.Stat(defPath); err != nil {
		return Standard10MHz, defPath, fmt.Errorf("coproc: neither %s nor default firmware %s found", path, defPath)
	}
	return Standard10MHz, defPath, nil
}
