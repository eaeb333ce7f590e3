// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package async

// InterruptGuard lets the timer wheel and channel mask interrupts around
// their mutexes without this package importing arch directly, mirroring
// task.InterruptGuard. Save/Restore round-trip whatever state arch.IRQSave
// captured, so a guard entered from inside an ISR - where interrupts are
// already masked by the CPU on interrupt-gate entry - restores that masked
// state rather than force re-enabling interrupts mid-handler.
type InterruptGuard struct {
	Save    func() uintptr
	Restore func(uintptr)
}

var interruptGuard InterruptGuard

// SetInterruptGuard installs the process-wide guard used by every Wheel
// and Channel critical section. Call once during bring-up, before
// interrupts are enabled; the zero value is a no-op.
func SetInterruptGuard(g InterruptGuard) {
	interruptGuard = g
}

// guardSection masks interrupts if a guard is installed and returns a func
// that restores them; callers defer the result around their mutex section
// so the restore runs after (not before) the unlock.
func guardSection() func() {
	if interruptGuard.Save == nil {
		return func() {}
	}

	flags := interruptGuard.Save()
	restore := interruptGuard.Restore

	return func() {
		if restore != nil {
			restore(flags)
		}
	}
}
