// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package coproc

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"periph.io/x/periph/host/pmem"
)

// PmemBuffer adapts a periph.io/x/periph/host/pmem.Mem allocation to
// this package's Buffer interface.
type PmemBuffer struct {
	mem pmem.Mem
}

// NewBuffer allocates a physically contiguous ring buffer of size
// bytes (must be a power of two and a multiple of 128; 8192 is the
// reference value), the same way host/allwinner/junk.go allocates its
// DMA destination buffer via pmem.Alloc.
func NewBuffer(size int) (*PmemBuffer, error) {
	if size <= 0 || size%128 != 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("coproc: buffer size %d must be a power of two and a multiple of 128", size)
	}
	m, err := pmem.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("coproc: pmem.Alloc(%d): %w", size, err)
	}
	return &PmemBuffer{mem: m}, nil
}

func (b *PmemBuffer) Bytes() []byte    { return b.mem.Bytes() }
func (b *PmemBuffer) PhysAddr() uint64 { return uint64(b.mem.PhysAddr()) }
func (b *PmemBuffer) Close() error     { return b.mem.Close() }

// EpollEventChannel is an EventChannel backed by epoll on a
// remoteproc/uio-style file descriptor, the Linux equivalent of
// prussdrv_pru_wait_event_timeout used in
// original_source/pru/fl_logic/fl_logic.c.
type EpollEventChannel struct {
	fd     int
	epfd   int
	closed bool
}

// OpenEventChannel opens path (e.g. a /dev/uioN or
// /dev/remoteproc-event node) and registers it with a dedicated epoll
// instance.
func OpenEventChannel(path string) (*EpollEventChannel, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("coproc: open event channel %s: %w", path, err)
	}
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("coproc: epoll_create1: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		unix.Close(epfd)
		return nil, fmt.Errorf("coproc: epoll_ctl: %w", err)
	}
	return &EpollEventChannel{fd: fd, epfd: epfd}, nil
}

// Wait implements EventChannel.
func (c *EpollEventChannel) Wait(timeout time.Duration) (bool, error) {
	ms := int(timeout / time.Millisecond)
	if ms <= 0 && timeout > 0 {
		ms = 1
	}
	events := make([]unix.EpollEvent, 1)
	n, err := unix.EpollWait(c.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

// Clear implements EventChannel by draining any bytes the driver left
// readable, matching prussdrv_pru_clear_event's stale-event flush.
func (c *EpollEventChannel) Clear() {
	var buf [32]byte
	for {
		n, err := unix.Read(c.fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close releases the epoll instance and the underlying file.
func (c *EpollEventChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	unix.Close(c.epfd)
	return unix.Close(c.fd)
}

// FileDataMemory writes the config record and loads firmware through
// sysfs-style files, the Linux remoteproc analogue of
// prussdrv_pru_write_memory / prussdrv_exec_program /
// prussdrv_pru_disable.
type FileDataMemory struct {
	// ConfigPath is written with the 16-byte config record.
	ConfigPath string
	// FirmwarePath is written with the firmware image path passed to
	// Load to select it (remoteproc's "firmware" sysfs attribute convention),
	// then StatePath is written "start".
	FirmwarePath string
	StatePath    string
}

// WriteConfig implements DataMemory.
func (d *FileDataMemory) WriteConfig(record [ConfigSize]byte) error {
	if err := os.WriteFile(d.ConfigPath, record[:], 0o644); err != nil {
		return err
	}
	// Memory barrier before the firmware image starts reading: a plain
	// store is insufficient to guarantee visibility to a non-coherent
	// coprocessor, but os.WriteFile already serializes through a
	// syscall, which is the portable substitute for __sync_synchronize
	// available without cgo.
	return nil
}

// Load implements DataMemory.
func (d *FileDataMemory) Load(path string) error {
	if err := os.WriteFile(d.FirmwarePath, []byte(path), 0o644); err != nil {
		return err
	}
	return os.WriteFile(d.StatePath, []byte("start"), 0o644)
}

// Disable implements DataMemory.
func (d *FileDataMemory) Disable() error {
	return os.WriteFile(d.StatePath, []byte("stop"), 0o644)
}
