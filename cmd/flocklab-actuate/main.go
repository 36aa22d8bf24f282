// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// flocklab-actuate serves the actuation control channel of spec §6: it
// maps the GPIO port carrying the four dedicated actuation pins, reads
// one command stream per line of stdin, applies it against the event
// queue and scheduler, and writes the OK/ERROR reply to stdout —
// host-side stand-ins for a character device's write()/read() pair.
// Grounded on cmd/gpio-write/main.go's mainImpl()/main() split.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/flocklab-tec/observer-core/actuation/command"
	"github.com/flocklab-tec/observer-core/actuation/scheduler"
	"github.com/flocklab-tec/observer-core/conn/queue"
	"github.com/flocklab-tec/observer-core/host/ctlchan"
	"github.com/flocklab-tec/observer-core/host/gpiowriter"
	"github.com/flocklab-tec/observer-core/internal/obslog"
)

const logPath = "/home/flocklab/log/flocklab-actuate.log"

func parsePin(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func mainImpl() error {
	args := os.Args[1:]
	if len(args) != 6 {
		return errors.New("usage: flocklab-actuate <portbase_hex> <sig1> <sig2> <nrst> <pps> <acten>")
	}

	portBase, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("bad portbase: %w", err)
	}
	sig1, err := parsePin(args[1])
	if err != nil {
		return fmt.Errorf("bad sig1 pin: %w", err)
	}
	sig2, err := parsePin(args[2])
	if err != nil {
		return fmt.Errorf("bad sig2 pin: %w", err)
	}
	nrst, err := parsePin(args[3])
	if err != nil {
		return fmt.Errorf("bad nrst pin: %w", err)
	}
	pps, err := parsePin(args[4])
	if err != nil {
		return fmt.Errorf("bad pps pin: %w", err)
	}
	acten, err := parsePin(args[5])
	if err != nil {
		return fmt.Errorf("bad acten pin: %w", err)
	}

	logger, err := obslog.Open(logPath, obslog.Info)
	if err != nil {
		return err
	}
	defer logger.Close()

	memFD, err := syscall.Open("/dev/mem", syscall.O_RDWR|syscall.O_SYNC, 0)
	if err != nil {
		return fmt.Errorf("open /dev/mem: %w", err)
	}
	defer syscall.Close(memFD)

	gpio, err := gpiowriter.Open(memFD, uint32(portBase), sig1, sig2, nrst, pps, acten)
	if err != nil {
		return fmt.Errorf("map GPIO port: %w", err)
	}
	defer gpio.Close()

	q := queue.New(queue.DefaultCapacity)
	sched := scheduler.New(q, gpio, scheduler.SystemClock{})
	q.TimerRunning = sched.Running

	pins := command.Pins{SIG1: uint8(sig1), SIG2: uint8(sig2), NRST: uint8(nrst), PPS: uint8(pps), ActEn: uint8(acten)}

	handler := ctlchan.HandlerFunc(func(cmds []byte) string {
		actions := command.Parse(cmds, pins, time.Now())
		errCount := command.Apply(actions, q, sched, pins.SIG1, pins.SIG2)
		if errCount > 0 {
			logger.Warningf("command stream produced %d error(s)", errCount)
			return ctlchan.FormatError(errCount)
		}
		return ctlchan.FormatOK(q.Size())
	})
	ch := ctlchan.New(handler)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Debugf("abort signal received")
		sched.Cancel(sig1, sig2)
		os.Exit(0)
	}()

	logger.Infof("actuation control channel ready")
	scanner := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for scanner.Scan() {
		if _, err := ch.Write(scanner.Bytes()); err != nil {
			logger.Errorf("%s", err)
			continue
		}
		fmt.Fprintln(out, ch.LastReply())
		out.Flush()
	}
	return scanner.Err()
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "flocklab-actuate: %s.\n", err)
		os.Exit(1)
	}
}
