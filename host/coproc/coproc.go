// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package coproc implements the coprocessor bridge: it maps the
// physically contiguous ring buffer, writes the config record to the
// coprocessor's data memory, loads and starts the chosen firmware
// image, and carries out the host-ready handshake.
package coproc

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/flocklab-tec/observer-core/conn/level"
)

// ConfigSize is the size, in bytes, of the configuration record written
// to the coprocessor's data memory.
const ConfigSize = 16

// HandshakeTimeout is the maximum time to wait for the coprocessor to
// acknowledge a handshake.
const HandshakeTimeout = 10 * time.Second

// EventChannel models the interrupt-equivalent event the host blocks
// on to learn the coprocessor has something for it — either "half
// buffer full" during capture, or "ready"/"ack" during a handshake.
// Implementations must be safe to Wait on from the drain loop's
// goroutine only; Clear is called from the same goroutine between
// waits, never concurrently with Wait.
type EventChannel interface {
	// Wait blocks until an event is pending or timeout elapses, and
	// reports which occurred.
	Wait(timeout time.Duration) (pending bool, err error)
	// Clear discards any pending event without waiting.
	Clear()
}

// DataMemory is the coprocessor's addressable data memory, used to
// deliver the config record and to load and start a firmware image.
// The physical buffer address passed to Buffer() is handed to
// WriteConfig so it can be embedded verbatim in the config record.
type DataMemory interface {
	// WriteConfig writes record to the coprocessor's data memory at a
	// fixed, implementation-defined offset, then issues the memory
	// barrier required before the firmware image starts reading it:
	// producer writes and consumer reads each need one.
	WriteConfig(record [ConfigSize]byte) error
	// Load starts executing the firmware image at path.
	Load(path string) error
	// Disable stops the coprocessor and releases driver state.
	Disable() error
}

// Buffer is the physically contiguous ring buffer shared with the
// coprocessor: Bytes is the host's virtual mapping, PhysAddr is the
// address handed to the firmware. Callers obtain one from a
// periph.io/x/periph/host/pmem.Mem-shaped allocator (see NewBuffer).
type Buffer interface {
	Bytes() []byte
	PhysAddr() uint64
	Close() error
}

// Bridge is the host-side handle to a running coprocessor trace.
type Bridge struct {
	events  EventChannel
	dataMem DataMemory
	buf     Buffer
	running int32
}

// Open performs the coprocessor init sequence: builds the pin mask
// (forcing the PPS bit on regardless of caller preference, so the
// decode layer always has it), writes the config record, issues the
// memory barrier, and loads the selected firmware.
//
// ppsEnabled controls only whether the caller asked to trace PPS
// explicitly; bit 7 of the delivered mask is always force-set in the
// delivered mask either way, so the coprocessor samples it regardless.
func Open(events EventChannel, dataMem DataMemory, buf Buffer, requested Firmware, firmwareDir string, pinMask uint8, ppsEnabled bool, offsetS float64) (*Bridge, Firmware, error) {
	_ = ppsEnabled // documented above: has no effect on the delivered mask.
	mask := pinMask | (1 << level.PPSBit)

	zero(buf.Bytes())

	fw, path, err := SelectFirmware(requested, firmwareDir)
	if err != nil {
		return nil, fw, err
	}

	var record [ConfigSize]byte
	binary.LittleEndian.PutUint32(record[0:4], uint32(buf.PhysAddr()))
	binary.LittleEndian.PutUint32(record[4:8], uint32(len(buf.Bytes())))
	binary.LittleEndian.PutUint32(record[8:12], uint32(offsetS))
	record[12] = mask
	if err := dataMem.WriteConfig(record); err != nil {
		return nil, fw, fmt.Errorf("coproc: write config: %w", err)
	}
	if err := dataMem.Load(path); err != nil {
		return nil, fw, fmt.Errorf("coproc: load firmware %s: %w", path, err)
	}
	return &Bridge{events: events, dataMem: dataMem, buf: buf}, fw, nil
}

// zero clears a buffer the way pru1_init's memset(*out_buffer_addr, 0,
// BUFFER_SIZE) does, so the first sample's delta field is
// distinguishable from stale memory.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Buffer returns the mapped ring buffer.
func (br *Bridge) Buffer() Buffer {
	return br.buf
}

// Handshake clears any stale event and waits for the coprocessor's
// acknowledgement, then clears that event. It does not itself send the
// coprocessor a host-ready signal: EventChannel has no operation for
// that. It returns an error on timeout.
func (br *Bridge) Handshake() error {
	br.events.Clear()
	pending, err := br.events.Wait(HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("coproc: handshake wait: %w", err)
	}
	if !pending {
		return fmt.Errorf("coproc: handshake timed out after %s", HandshakeTimeout)
	}
	br.events.Clear()
	atomic.StoreInt32(&br.running, 1)
	return nil
}

// Running reports whether a handshake has completed without a matching
// Deinit.
func (br *Bridge) Running() bool {
	return atomic.LoadInt32(&br.running) != 0
}

// Deinit disables the coprocessor and releases driver state.
func (br *Bridge) Deinit() error {
	atomic.StoreInt32(&br.running, 0)
	return br.dataMem.Disable()
}

// Events exposes the underlying event channel so the drain loop can
// wait on buffer-half-full events directly, without going back through
// Handshake.
func (br *Bridge) Events() EventChannel {
	return br.events
}
