// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package obslog is the append-only, tab-separated logger both
// command-line tools write diagnostics through (spec §6). Grounded on
// original_source/pru/fl_logic/fl_logic.c's fl_log(): a verbosity
// level gate, a timestamp column, a level column, then the message.
package obslog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level mirrors fl_log()'s log_level_t, ordered from most to least
// severe so "log at this verbosity or higher" is a single comparison.
type Level int

const (
	Error Level = iota
	Warning
	Info
	Debug
)

var levelName = [...]string{
	Error:   "ERROR",
	Warning: "WARN",
	Info:    "INFO",
	Debug:   "DEBUG",
}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelName) {
		return "UNKNOWN"
	}
	return levelName[l]
}

// Logger writes tab-separated "YYYY-MM-DD HH:MM:SS\tLEVEL\tmessage"
// lines to an append-only file (spec §6 "Log file"), gating out
// anything less severe than Verbosity the same way fl_log() compares
// log_level against LOG_VERBOSITY. Unlike log.Logger's default flags,
// the timestamp column is rendered by hand to match the fixed format
// spec §6 specifies rather than Go's "/"-separated stdlib date.
type Logger struct {
	Verbosity Level
	mu        sync.Mutex
	out       io.Writer
	closer    io.Closer
}

// Open appends to path, creating it if necessary, and returns a Logger
// gated at verbosity. The caller must Close it when done.
func Open(path string, verbosity Level) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("obslog: open %s: %w", path, err)
	}
	return &Logger{Verbosity: verbosity, out: f, closer: f}, nil
}

// New wraps an already-open writer (e.g. os.Stdout, or ioutil.Discard
// in non-interactive runs, matching the teacher's cmd/ binaries gating
// log.SetOutput on an interactive flag). The returned Logger's Close is
// a no-op; the caller owns w's lifetime.
func New(w io.Writer, verbosity Level) *Logger {
	return &Logger{Verbosity: verbosity, out: w}
}

// Close releases any file opened by Open. Safe to call on a Logger
// returned by New.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level > l.Verbosity {
		return
	}
	line := fmt.Sprintf("%s\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), level, fmt.Sprintf(format, args...))
	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, line)
}

func (l *Logger) Errorf(format string, args ...interface{})   { l.log(Error, format, args...) }
func (l *Logger) Warningf(format string, args ...interface{}) { l.log(Warning, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})    { l.log(Info, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{})   { l.log(Debug, format, args...) }
