// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package async implements the cooperative synchronization primitives:
// Sleep, Interval, an async Mutex, an async RwLock, and an unbounded MPSC
// channel, all integrating with task.Waker and the PIT-driven timer wheel.
package async

import (
	"sort"
	"sync"

	"github.com/foundryos/unikernel/task"
	"github.com/foundryos/unikernel/timerdrv"
)

type wheelEntry struct {
	deadline uint64
	waker    *task.Waker
}

// Wheel is the ordered deadline->waker mapping . There is one
// instance per kernel, installed as timerdrv's deadline handler.
type Wheel struct {
	mu      sync.Mutex
	entries []wheelEntry
}

// NewWheel constructs a timer wheel and wires it as the PIT driver's
// deadline handler.
func NewWheel() *Wheel {
	w := &Wheel{}
	timerdrv.SetDeadlineHandler(w.WakeDue)
	return w
}

// Push inserts a (deadline, waker) pair: (a) masks interrupts around the
// update to entries and timerdrv's deadline register, since the PIT tick
// ISR reaches this same mutex via WakeDue, and (b) re-runs wake-due
// immediately afterwards, so that a deadline already in the past wakes its
// waker without waiting for the next tick.
func (w *Wheel) Push(deadlineMs uint64, waker *task.Waker) {
	restore := guardSection()
	w.mu.Lock()
	w.entries = append(w.entries, wheelEntry{deadline: deadlineMs, waker: waker})
	w.armEarliestLocked()
	w.mu.Unlock()
	restore()

	w.WakeDue()
}

func (w *Wheel) armEarliestLocked() {
	if len(w.entries) == 0 {
		timerdrv.ClearDeadline()
		return
	}

	earliest := w.entries[0].deadline
	for _, e := range w.entries[1:] {
		if e.deadline < earliest {
			earliest = e.deadline
		}
	}

	timerdrv.SetDeadline(earliest)
}

// WakeDue wakes every waker whose deadline has passed and re-arms the
// register to the next-earliest remaining deadline. Called from the PIT
// tick ISR (via timerdrv), where interrupts are already masked by the
// interrupt gate, and re-entrantly from Push in task context, where
// guardSection masks them for the mutex section below.
func (w *Wheel) WakeDue() {
	now := timerdrv.Millis()

	restore := guardSection()
	w.mu.Lock()

	due := w.entries[:0:0]
	remaining := w.entries[:0:0]

	for _, e := range w.entries {
		if e.deadline <= now {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}

	w.entries = remaining
	w.armEarliestLocked()

	w.mu.Unlock()
	restore()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline < due[j].deadline })
	for _, e := range due {
		e.waker.Wake()
	}
}
