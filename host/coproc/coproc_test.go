// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package coproc

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeEvents struct {
	pending bool
	cleared int
	waited  int
}

func (f *fakeEvents) Wait(timeout time.Duration) (bool, error) {
	f.waited++
	return f.pending, nil
}

func (f *fakeEvents) Clear() {
	f.cleared++
	f.pending = false
}

type fakeDataMem struct {
	config   [ConfigSize]byte
	loaded   string
	disabled bool
}

func (f *fakeDataMem) WriteConfig(r [ConfigSize]byte) error {
	f.config = r
	return nil
}

func (f *fakeDataMem) Load(path string) error {
	f.loaded = path
	return nil
}

func (f *fakeDataMem) Disable() error {
	f.disabled = true
	return nil
}

type fakeBuffer struct {
	b    []byte
	phys uint64
}

func (f *fakeBuffer) Bytes() []byte    { return f.b }
func (f *fakeBuffer) PhysAddr() uint64 { return f.phys }
func (f *fakeBuffer) Close() error     { return nil }

func makeFirmwareDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("fw"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestOpenForcesPPSBit(t *testing.T) {
	dir := makeFirmwareDir(t, Standard10MHz.filename())
	dm := &fakeDataMem{}
	buf := &fakeBuffer{b: make([]byte, 128), phys: 0xdeadbeef}
	ev := &fakeEvents{}

	_, fw, err := Open(ev, dm, buf, Standard10MHz, dir, 0x00, false, 2)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if fw != Standard10MHz {
		t.Fatalf("selected firmware = %v, want Standard10MHz", fw)
	}
	if dm.config[12]&(1<<7) == 0 {
		t.Fatal("PPS bit not forced into the delivered pin mask")
	}
	if dm.loaded == "" {
		t.Fatal("firmware was not loaded")
	}
}

func TestOpenZeroesBuffer(t *testing.T) {
	dir := makeFirmwareDir(t, Standard10MHz.filename())
	buf := &fakeBuffer{b: []byte{1, 2, 3, 4}, phys: 0}
	_, _, err := Open(&fakeEvents{}, &fakeDataMem{}, buf, Standard10MHz, dir, 0xff, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range buf.b {
		if b != 0 {
			t.Fatalf("buf.b[%d] = %d, want 0", i, b)
		}
	}
}

func TestHandshakeSuccess(t *testing.T) {
	dir := makeFirmwareDir(t, Standard10MHz.filename())
	ev := &fakeEvents{pending: true}
	br, _, err := Open(ev, &fakeDataMem{}, &fakeBuffer{b: make([]byte, 128)}, Standard10MHz, dir, 0, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := br.Handshake(); err != nil {
		t.Fatalf("Handshake() = %v, want nil", err)
	}
	if !br.Running() {
		t.Fatal("Running() should be true after a successful handshake")
	}
	if ev.cleared != 2 {
		t.Fatalf("events cleared %d times, want 2 (before and after wait)", ev.cleared)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	dir := makeFirmwareDir(t, Standard10MHz.filename())
	ev := &fakeEvents{pending: false}
	br, _, err := Open(ev, &fakeDataMem{}, &fakeBuffer{b: make([]byte, 128)}, Standard10MHz, dir, 0, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := br.Handshake(); err == nil {
		t.Fatal("Handshake() should fail when no event arrives")
	}
	if br.Running() {
		t.Fatal("Running() should stay false after a failed handshake")
	}
}

func TestDeinitDisablesAndClearsRunning(t *testing.T) {
	dir := makeFirmwareDir(t, Standard10MHz.filename())
	dm := &fakeDataMem{}
	br, _, err := Open(&fakeEvents{pending: true}, dm, &fakeBuffer{b: make([]byte, 128)}, Standard10MHz, dir, 0, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	br.Handshake()
	if err := br.Deinit(); err != nil {
		t.Fatal(err)
	}
	if !dm.disabled {
		t.Fatal("Deinit() did not disable the data memory")
	}
	if br.Running() {
		t.Fatal("Running() should be false after Deinit()")
	}
}

func TestSelectFirmwareFallsThroughToDefault(t *testing.T) {
	dir := makeFirmwareDir(t, Standard10MHz.filename())
	fw, path, err := SelectFirmware(Medium1MHz, dir)
	if err != nil {
		t.Fatal(err)
	}
	if fw != Standard10MHz {
		t.Fatalf("fallback selected %v, want Standard10MHz", fw)
	}
	if filepath.Base(path) != Standard10MHz.filename() {
		t.Fatalf("fallback path = %s, want %s", path, Standard10MHz.filename())
	}
}

func TestSelectFirmwarePrefersRequested(t *testing.T) {
	dir := makeFirmwareDir(t, Standard10MHz.filename(), Low100kHz.filename())
	fw, _, err := SelectFirmware(Low100kHz, dir)
	if err != nil {
		t.Fatal(err)
	}
	if fw != Low100kHz {
		t.Fatalf("selected %v, want Low100kHz", fw)
	}
}

func TestSamplingRates(t *testing.T) {
	cases := map[Firmware]uint64{
		Standard10MHz:      10000000,
		CycleCounter625MHz: 6250000,
		Medium1MHz:         1000000,
		Low100kHz:          100000,
	}
	for fw, want := range cases {
		if got := fw.SamplingRateHz(); got != want {
			t.Errorf("%v.SamplingRateHz() = %d, want %d", fw, got, want)
		}
	}
}
