// Programmable Interval Timer (8253/8254) driver.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package timerdrv implements a PIT-driven millisecond timer: a periodic
// tick at ~1kHz, an atomic tick counter, and a single "next wake deadline"
// register consulted by the tick handler.
package timerdrv

import (
	"sync/atomic"

	"github.com/foundryos/unikernel/internal/reg"
)

const (
	pitChannel0 = 0x40
	pitCommand  = 0x43

	// pitInputFreq is the PIT's fixed 1.193182 MHz input clock.
	pitInputFreq = 1193182

	// TargetHz is the nominal tick frequency.
	TargetHz = 1000

	// minHz is the floor applied to the requested rate; at this rate the
	// divisor exceeds 16 bits and clamps to 0xffff (~18.2 Hz).
	minHz = 18 // 1193182/65536 rounded down
)

var (
	ticks          uint64
	nextDeadline   uint64 // 0 = none
	deadlineHandler func()
)

// reloadValue computes the PIT channel-0 reload value for a target
// frequency, clamped to fit 16 bits (minimum representable rate is
// ~18 Hz).
func reloadValue(hz uint32) uint16 {
	if hz < minHz {
		hz = minHz
	}

	v := pitInputFreq / hz
	if v > 0xffff {
		v = 0xffff
	}
	if v == 0 {
		v = 1
	}

	return uint16(v)
}

// Init programs the PIT for a periodic (mode 2, square-wave-adjacent
// rate-generator-style) tick at the given target frequency and resets the
// tick counter and deadline register.
func Init(hz uint32) {
	rv := reloadValue(hz)

	// channel 0, access lobyte/hibyte, mode 2 (rate generator), binary
	reg.Out8(pitCommand, 0b00_11_010_0)
	reg.Out8(pitChannel0, uint8(rv))
	reg.Out8(pitChannel0, uint8(rv>>8))

	atomic.StoreUint64(&ticks, 0)
	atomic.StoreUint64(&nextDeadline, 0)
}

// SetDeadlineHandler registers the routine the tick ISR invokes, inside its
// interrupts-disabled section, when the deadline register is reached. The
// async timer wheel is the sole intended caller (see async.Wheel.WakeDue).
func SetDeadlineHandler(h func()) {
	deadlineHandler = h
}

// Tick is the PIT IRQ0 interrupt service routine: increments the tick
// counter and, if a deadline is set and has been reached, invokes the
// registered handler. Runs in interrupt context: never blocks and never
// allocates.
func Tick() {
	n := atomic.AddUint64(&ticks, 1)
	_ = n

	d := atomic.LoadUint64(&nextDeadline)
	if d != 0 && Millis() >= d {
		if deadlineHandler != nil {
			deadlineHandler()
		}
	}
}

// Ticks returns the raw tick count since boot.
func Ticks() uint64 {
	return atomic.LoadUint64(&ticks)
}

// Millis returns milliseconds elapsed since boot, a pure function of the
// tick counter at the nominal 1kHz rate.
func Millis() uint64 {
	return atomic.LoadUint64(&ticks) * 1000 / TargetHz
}

// Seconds returns whole seconds elapsed since boot.
func Seconds() uint64 {
	return Millis() / 1000
}

// SetDeadline sets the next wake deadline (absolute milliseconds since
// boot). Idempotent and monotone-weak: overwriting an
// existing deadline with an earlier or later one is always allowed, the
// timer wheel is responsible for only ever installing the earliest
// outstanding deadline.
func SetDeadline(ms uint64) {
	atomic.StoreUint64(&nextDeadline, ms)
}

// ClearDeadline zeros the deadline register, disarming wake-due checks
// until the next SetDeadline.
func ClearDeadline() {
	atomic.StoreUint64(&nextDeadline, 0)
}

// Deadline returns the currently armed deadline, or 0 if none.
func Deadline() uint64 {
	return atomic.LoadUint64(&nextDeadline)
}
