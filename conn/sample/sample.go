// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sample defines the delta-encoded sample word the coprocessor
// writes into the ring buffer, and the arithmetic to read it back.
package sample

import "encoding/binary"

// Word is one 32-bit sample: delta ticks since the previous sample in
// the top 24 bits, the current level of the eight traced pins in the
// bottom 8 bits (spec §3 "Sample"). A zero Word is the end-of-stream
// sentinel.
type Word uint32

// Size is the on-the-wire size of a Word, in bytes.
const Size = 4

// New packs a delta and a pin-level byte into a Word. delta must fit
// in 24 bits; it is truncated otherwise.
func New(delta uint32, pins uint8) Word {
	return Word(delta<<8) | Word(pins)
}

// Delta returns the accumulated-ticks-since-previous-sample field.
func (w Word) Delta() uint32 {
	return uint32(w) >> 8
}

// Pins returns the current level of the eight traced pins.
func (w Word) Pins() uint8 {
	return uint8(w)
}

// IsSentinel reports whether w is the zero end-of-stream marker.
func (w Word) IsSentinel() bool {
	return w == 0
}

// Decode reads a little-endian Word from b, which must be at least
// Size bytes long.
func Decode(b []byte) Word {
	return Word(binary.LittleEndian.Uint32(b))
}

// Encode writes w little-endian into b, which must be at least Size
// bytes long.
func Encode(b []byte, w Word) {
	binary.LittleEndian.PutUint32(b, uint32(w))
}
