// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// flocklab-logic drives the coprocessor through one capture session:
// handshake, drain to a binary trace file, then decode and timestamp
// that file into a CSV edge stream (spec §6). Grounded on
// cmd/gpio-read/main.go's mainImpl()/main() split and
// original_source/pru/fl_logic/fl_logic.c's main().
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"golang.org/x/sys/unix"

	"github.com/flocklab-tec/observer-core/capture/csvout"
	"github.com/flocklab-tec/observer-core/capture/decode"
	"github.com/flocklab-tec/observer-core/capture/drain"
	"github.com/flocklab-tec/observer-core/capture/timestamp"
	"github.com/flocklab-tec/observer-core/conn/level"
	"github.com/flocklab-tec/observer-core/conn/sample"
	"github.com/flocklab-tec/observer-core/host/coproc"
	"github.com/flocklab-tec/observer-core/internal/obslog"
)

// Capability flags packed into the extra_options_hex argument (spec
// §6: "the extra-options word enumerates the capability flags").
const (
	optDebugLog        = 1 << 0
	optNoResetRemap    = 1 << 1
	optStepwiseScaling = 1 << 2
	optRateMedium      = 1 << 3
	optRateLow         = 1 << 4
	optSharedMemBuffer = 1 << 5
	optDualCoreHelper  = 1 << 6
	optCycleCounter    = 1 << 7
	optNoPPS           = 1 << 8
	optRelativeOnly    = 1 << 9
	optAltLabels       = 1 << 10
	optStdoutMirror    = 1 << 11
)

const (
	bufferSize   = 8192
	firmwareDir  = "/lib/firmware/flocklab"
	eventDevPath = "/dev/flocklab-pru-event"
	configPath   = "/sys/class/remoteproc/remoteproc1/flocklab,config"
	firmwarePath = "/sys/class/remoteproc/remoteproc1/firmware"
	statePath    = "/sys/class/remoteproc/remoteproc1/state"
	lockPath     = "/var/run/flocklab-logic.lock"
	logPath      = "/home/flocklab/log/flocklab-logic.log"
)

// selectFirmware turns the capability flag word into the firmware
// enumeration of host/coproc (spec §4.C).
func selectFirmware(opts uint64) coproc.Firmware {
	switch {
	case opts&optDualCoreHelper != 0:
		return coproc.DualCoreScratchpad
	case opts&optCycleCounter != 0:
		return coproc.CycleCounter625MHz
	case opts&optRateMedium != 0:
		return coproc.Medium1MHz
	case opts&optRateLow != 0:
		return coproc.Low100kHz
	default:
		return coproc.Standard10MHz
	}
}

// resolveTime interprets a starttime/stop_or_duration argument: values
// under 1000 are relative to now (or to start, for stop), matching
// spec §3 "Trace window".
func resolveTime(v, now int64) int64 {
	if v > 0 && v < 1000 {
		return now + v
	}
	return v
}

func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another instance is already running: %w", err)
	}
	return f, nil
}

func mainImpl() int {
	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "flocklab-logic: usage: flocklab-logic <outfile> [starttime] [stop_or_duration] [pinmask] [offset_s] [extra_options_hex]")
		return 1
	}

	outfile := args[0]
	now := time.Now().Unix()

	var startS, stopS int64
	var pinMask uint64 = 0xff
	var offsetS float64
	var opts uint64

	if len(args) > 1 {
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flocklab-logic: bad starttime %q: %s.\n", args[1], err)
			return 1
		}
		startS = resolveTime(v, now)
	}
	if len(args) > 2 {
		v, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flocklab-logic: bad stop_or_duration %q: %s.\n", args[2], err)
			return 1
		}
		stopS = resolveTime(v, startS)
	}
	if len(args) > 3 {
		v, err := strconv.ParseUint(args[3], 0, 8)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flocklab-logic: bad pinmask %q: %s.\n", args[3], err)
			return 1
		}
		pinMask = v
	}
	if len(args) > 4 {
		v, err := strconv.ParseFloat(args[4], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flocklab-logic: bad offset_s %q: %s.\n", args[4], err)
			return 1
		}
		offsetS = v
	}
	if len(args) > 5 {
		v, err := strconv.ParseUint(args[5], 16, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flocklab-logic: bad extra_options_hex %q: %s.\n", args[5], err)
			return 1
		}
		opts = v
	}

	lock, err := acquireLock(lockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flocklab-logic: %s.\n", err)
		return 1
	}
	defer lock.Close()

	verbosity := obslog.Info
	if opts&optDebugLog != 0 {
		verbosity = obslog.Debug
	}
	logger, err := obslog.Open(logPath, verbosity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flocklab-logic: %s.\n", err)
		return 1
	}
	defer logger.Close()

	out, err := os.Create(outfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flocklab-logic: open output: %s.\n", err)
		return 2
	}
	defer out.Close()

	events, err := coproc.OpenEventChannel(eventDevPath)
	if err != nil {
		logger.Errorf("failed to open PRU event channel: %s", err)
		return 3
	}
	defer events.Close()

	buf, err := coproc.NewBuffer(bufferSize)
	if err != nil {
		logger.Errorf("insufficient PRU memory available: %s", err)
		return 3
	}
	defer buf.Close()

	dataMem := &coproc.FileDataMemory{ConfigPath: configPath, FirmwarePath: firmwarePath, StatePath: statePath}
	requested := selectFirmware(opts)
	ppsEnabled := opts&optNoPPS == 0
	_ = opts & optNoResetRemap  // external shell-side pin-mux concern, not this process's responsibility.
	_ = opts & optSharedMemBuffer // buffer placement (DMA region vs. coprocessor SRAM) is fixed to pmem.Alloc in this build.

	bridge, fw, err := coproc.Open(events, dataMem, buf, requested, firmwareDir, uint8(pinMask), ppsEnabled, offsetS)
	if err != nil {
		logger.Errorf("failed to start PRU (invalid or inexisting firmware file): %s", err)
		return 3
	}
	logger.Infof("PRU firmware loaded: %s", fw)

	var running int32 = 1
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Debugf("abort signal received")
		atomic.StoreInt32(&running, 0)
	}()

	loop := &drain.Loop{
		Events:  events,
		Buf:     buf,
		Out:     out,
		Clock:   drain.SystemClock{},
		Running: &running,
	}

	logger.Debugf("waiting for start time... (%ds)", startS-now)
	result, err := loop.Run(startS, stopS, bridge.Handshake)
	if err != nil {
		logger.Errorf("an error occurred while waiting for the PRU event: %s", err)
		bridge.Deinit()
		return 4
	}
	if result.Overrun {
		logger.Errorf("buffer overrun detected!")
	}
	logger.Infof("start time adjusted to %d", result.EffectiveStartS)
	logger.Infof("stop time adjusted to %d", result.EffectiveStopS)
	logger.Debugf("collected %d samples", result.ReadoutCount*(bufferSize/2)/sample.Size)

	if err := bridge.Deinit(); err != nil {
		logger.Errorf("%s", err)
	}
	out.Close()

	if opts&optDebugLog != 0 {
		logger.Debugf("drain result: %s", pretty.Sprint(result))
	}

	if err := decodeAndWrite(outfile, result, opts, offsetS, logger); err != nil {
		logger.Errorf("%s", err)
		return 4
	}

	return 0
}

func decodeAndWrite(outfile string, result drain.Result, opts uint64, offsetS float64, logger *obslog.Logger) error {
	raw, err := os.ReadFile(outfile)
	if err != nil {
		return fmt.Errorf("reopen trace for decode: %w", err)
	}

	n := len(raw) / sample.Size
	words := make([]sample.Word, n)
	for i := 0; i < n; i++ {
		words[i] = sample.Decode(raw[i*sample.Size:])
	}

	samplingRateHz := selectFirmware(opts).SamplingRateHz()
	labels := level.Labels{Alt: opts&optAltLabels != 0}

	csvPath := outfile + ".csv"
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", csvPath, err)
	}
	defer csvFile.Close()

	var csvWriter = io.Writer(csvFile)
	if opts&optStdoutMirror != 0 {
		csvWriter = io.MultiWriter(csvFile, os.Stdout)
	}

	if opts&optRelativeOnly != 0 {
		edges := decode.DecodeAll(words, true)
		ticks := make([]csvout.EdgeTick, len(edges))
		for i, e := range edges {
			ticks[i] = csvout.EdgeTick{MonotonicTicks: e.MonotonicTicks, Pin: e.Pin, Level: e.Level}
		}
		return csvout.WriteUnscaled(csvWriter, ticks, labels, samplingRateHz)
	}

	edges := decode.DecodeAll(words, false)
	startS := float64(result.EffectiveStartS)
	stopS := float64(result.EffectiveStopS)

	if opts&optStepwiseScaling != 0 {
		stepwiseEdges := decode.DecodeAll(words, true)
		res := timestamp.Stepwise(stepwiseEdges, startS, offsetS, stopS, samplingRateHz)
		for _, w := range res.Warnings {
			logger.Warningf("%s", w)
		}
		return csvout.WriteScaled(csvWriter, res.Edges, labels, samplingRateHz)
	}

	res := timestamp.Flat(edges, startS, stopS, samplingRateHz)
	if res.Rejected {
		logger.Errorf("timestamp scaling failed, correction factor %f is out of valid range (timestamps are returned unscaled)", res.Corr)
	}
	logger.Infof("corr_factor: %f", res.Corr)
	return csvout.WriteScaled(csvWriter, res.Edges, labels, samplingRateHz)
}

func main() {
	os.Exit(mainImpl())
}
