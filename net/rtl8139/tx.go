// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rtl8139

import (
	"github.com/foundryos/unikernel/pci"
	"github.com/foundryos/unikernel/task"
)

// StartSend appends buf to the pending-frame buffer drained by the next
// Flush.
func (d *Driver) StartSend(buf []byte) {
	frame := append([]byte(nil), buf...)

	d.pendingMu.Lock()
	d.pending = append(d.pending, frame)
	d.pendingMu.Unlock()
}

type flushFuture struct {
	d *Driver
}

// Flush returns a Future that drives every buffered frame onto the wire:
// disable the card's interrupts on the PCI command word, take the driver
// state lock (non-blocking — contention yields to the executor), program
// each TX descriptor and spin for its done bit, then re-enable interrupts.
func (d *Driver) Flush() task.Future {
	return &flushFuture{d: d}
}

func (f *flushFuture) Poll(w *task.Waker) bool {
	d := f.d

	d.pendingMu.Lock()
	if len(d.pending) == 0 {
		d.pendingMu.Unlock()
		return true
	}
	d.pendingMu.Unlock()

	d.dev.Write32(pciOffCommand, d.dev.Read32(pciOffCommand)|pci.CommandInterruptDisable)

	if !d.mu.TryLock() {
		// The ISR is mid-drainRX; put the card's interrupts back and retry
		// on the next poll. There is no waker to register against a
		// spinlock, so this task wakes itself: the caller's executor will
		// simply poll this future again on its next pass through the run
		// queue.
		d.dev.Write32(pciOffCommand, d.dev.Read32(pciOffCommand)&^pci.CommandInterruptDisable)
		w.Wake()
		return false
	}
	defer d.mu.Unlock()

	d.pendingMu.Lock()
	frames := d.pending
	d.pending = nil
	d.pendingMu.Unlock()

	for _, frame := range frames {
		d.transmitOne(frame)
	}

	d.dev.Write32(pciOffCommand, d.dev.Read32(pciOffCommand)&^pci.CommandInterruptDisable)

	return true
}

const pciOffCommand = 0x04

// transmitOne programs TX descriptor d.txCursor with frame's physical
// address and length, then spins for the card's done bit before advancing
// to the next slot mod 4. Caller holds d.mu.
func (d *Driver) transmitOne(frame []byte) {
	slot := d.txCursor
	addr, buf := d.txAddr[slot], d.txBuf[slot]

	n := copy(buf, frame)

	d.out32(offTSAD0+uint16(slot)*4, uint32(addr))
	d.out32(offTSD0+uint16(slot)*4, uint32(n)&0xfff)

	for d.in32(offTSD0+uint16(slot)*4)&tsdTOK == 0 {
	}

	d.txCursor = (slot + 1) % txSlots
}
