// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpiowriter implements the memory-mapped SET/CLR register
// writer for the actuation pins. All four actuation pins (SIG1, SIG2,
// nRST/reset, PPS) and the actuation-enable pin must live on the same
// 32-bit GPIO port; Writer asserts this at construction time rather
// than at every access, the same way fl_actuation.c enforces it with a
// compile-time #error.
package gpiowriter

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Register offsets within the GPIO port's memory-mapped page, taken
// from fl_actuation.c's GPIO_{DO,CLR,SET}_OFS (AM335x RM p.180).
const (
	dataOutOffset = 0x13C
	clrOffset     = 0x190
	setOffset     = 0x194
	pageSize      = 0x2000
)

// Writer maps one GPIO port and exposes write-one-to-set /
// write-one-to-clear register access for pins on that port. No
// read-modify-write is needed for Set/Clear; Toggle reads the output
// data register once to learn the current level.
type Writer struct {
	mem      []byte
	setAddr  *uint32
	clrAddr  *uint32
	doAddr   *uint32
	portBase uint32
}

// pinBit reduces a pin index to its bit position within a 32-pin port,
// matching fl_actuation.c's PIN_TO_BITMASK.
func pinBit(pin uint32) uint32 {
	return 1 << (pin & 31)
}

// Open memory-maps the GPIO port containing portBase (the physical
// base address of that port's register block, e.g. GPIO1_START_ADDR)
// via /dev/mem. pins lists every pin this Writer will be asked to
// drive; Open fails if they don't all reduce to the same port (i.e.
// pin/32 differs), mirroring the compile-time assertion in
// fl_actuation.c.
func Open(memFD int, portBase uint32, pins ...uint32) (*Writer, error) {
	if len(pins) == 0 {
		return nil, fmt.Errorf("gpiowriter: no pins given")
	}
	port := pins[0] / 32
	for _, p := range pins[1:] {
		if p/32 != port {
			return nil, fmt.Errorf("gpiowriter: pin %d is not on the same GPIO port as pin %d", p, pins[0])
		}
	}
	mem, err := unix.Mmap(memFD, int64(portBase), pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("gpiowriter: mmap GPIO port at %#x: %w", portBase, err)
	}
	w := &Writer{mem: mem, portBase: portBase}
	w.setAddr = wordAt(mem, setOffset)
	w.clrAddr = wordAt(mem, clrOffset)
	w.doAddr = wordAt(mem, dataOutOffset)
	return w, nil
}

// fromBytes builds a Writer directly over an in-memory register page,
// bypassing Open's /dev/mem mmap. It exists so tests can exercise the
// register-twiddling logic without real hardware.
func fromBytes(mem []byte) *Writer {
	return &Writer{
		mem:     mem,
		setAddr: wordAt(mem, setOffset),
		clrAddr: wordAt(mem, clrOffset),
		doAddr:  wordAt(mem, dataOutOffset),
	}
}

// wordAt returns a pointer to the uint32 register at byte offset off
// within mem, the way fl_actuation.c casts ioremap'd addresses to
// volatile unsigned int*.
func wordAt(mem []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// Close unmaps the GPIO port.
func (w *Writer) Close() error {
	if w.mem == nil {
		return nil
	}
	err := unix.Munmap(w.mem)
	w.mem = nil
	return err
}

// Set drives pin high.
func (w *Writer) Set(pin uint32) {
	*w.setAddr = pinBit(pin)
}

// Clear drives pin low.
func (w *Writer) Clear(pin uint32) {
	*w.clrAddr = pinBit(pin)
}

// Toggle flips pin's current level. It reads the data-output register
// once (this is the one register access on this path that is not a
// write-one primitive) and writes the opposite SET/CLR register.
func (w *Writer) Toggle(pin uint32) {
	mask := pinBit(pin)
	if *w.doAddr&mask != 0 {
		*w.clrAddr = mask
	} else {
		*w.setAddr = mask
	}
}

// Update drives pin according to a level.Action-shaped value: 0
// clears, 1 sets, 2 toggles. It mirrors fl_actuation.c's gpio_update()
// so the scheduler and command parser can dispatch without importing
// level just for this one call.
func (w *Writer) Update(pin uint32, action uint8) {
	switch action {
	case 0:
		w.Clear(pin)
	case 1:
		w.Set(pin)
	case 2:
		w.Toggle(pin)
	}
}
