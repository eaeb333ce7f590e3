// GDT/IDT/PIC bring-up and interrupt dispatch.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package arch is the hardware bring-up boundary: GDT/IDT/PIC
// initialization, interrupt dispatch, paging bring-up, frame allocation and
// CPUID probing. PIT programming lives in timerdrv, and the device drivers
// (timerdrv, net/rtl8139) do their own port I/O through internal/reg.
package arch

import (
	"sync"
)

// Vector numbers used by this kernel. The legacy 8259 PIC remaps IRQ 0-15
// onto 32-47 during Init, leaving the low 32 vectors for CPU exceptions.
const (
	VectorPITTick = 32 + 0
	VectorNIC     = 32 + 11
)

// defined in arch_amd64.s
func disableInterrupts()
func enableInterrupts()
func enableInterruptsAndHalt()
func irqSave() uintptr
func irqRestore(flags uintptr)
func loadIDT(addr uintptr, limit uint16)
func outb(port uint16, val uint8)

// ISRHandler is an interrupt service routine. It must never allocate,
// block, or touch an async primitive: it mutates a lock-free queue or flag
// and returns.
type ISRHandler func()

var (
	handlersMu sync.Mutex
	handlers   [256]ISRHandler
)

// RegisterInterrupt installs handler for the given vector. Called during
// bring-up only, before interrupts are enabled.
func RegisterInterrupt(vector int, handler ISRHandler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()

	handlers[vector] = handler
}

// dispatch is invoked by isrCommon, the assembly trampoline (arch_amd64.s)
// every one of the 256 irqVectors slots calls into; it exists in Go so that
// ISRHandler can be an ordinary function value instead of a fixed jump
// table entry.
//
//go:nosplit
func dispatch(vector int) {
	handlersMu.Lock()
	h := handlers[vector]
	handlersMu.Unlock()

	if h != nil {
		h()
	}

	sendEOI(vector)
}

// DisableInterrupts masks external interrupts (cli).
func DisableInterrupts() {
	disableInterrupts()
}

// EnableInterrupts unmasks external interrupts (sti).
func EnableInterrupts() {
	enableInterrupts()
}

// EnableInterruptsAndHalt atomically unmasks interrupts and halts the core
// (sti; hlt), the executor's idle step. This ordering is the only one that
// cannot race a wake arriving between the check and the halt, because on
// x86 `sti` only takes effect after the instruction that follows it has
// retired.
func EnableInterruptsAndHalt() {
	enableInterruptsAndHalt()
}

// IRQSave disables interrupts and returns the prior RFLAGS value, for
// passing to IRQRestore. Unlike a bare DisableInterrupts/EnableInterrupts
// pair, this composes: a caller that entered with interrupts already
// masked (an ISR, or a nested guard) gets that state back on IRQRestore
// instead of having interrupts forced back on underneath it. Used to guard
// the run queue, timer wheel and channel critical sections shared between
// task and ISR context (see task.SetInterruptGuard, async.SetInterruptGuard).
func IRQSave() uintptr {
	return irqSave()
}

// IRQRestore puts back the RFLAGS state captured by a matching IRQSave.
func IRQRestore(flags uintptr) {
	irqRestore(flags)
}

// Init brings up the GDT, IDT and remaps the legacy 8259 PIC so that
// hardware IRQs 0-15 land on vectors 32-47. Interrupt handlers are
// installed afterwards with RegisterInterrupt.
func Init() {
	initGDT()
	initIDT()
	initPIC()
}
