// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package task

// InterruptGuard lets the run queue mask interrupts around its mutex
// without this package importing arch directly, the same way IdleHooks
// keeps the executor's idle step free of a hardware dependency. Save must
// return a value that Restore can later put back exactly (arch.IRQSave
// captures RFLAGS), so a guard entered from inside an ISR - where
// interrupts are already masked - restores that masked state instead of
// force-enabling interrupts mid-handler.
type InterruptGuard struct {
	Save    func() uintptr
	Restore func(uintptr)
}

var interruptGuard InterruptGuard

// SetInterruptGuard installs the process-wide guard used by every
// RunQueue's critical section. Call once during bring-up, before
// interrupts are enabled; the zero value is a no-op, so code that never
// calls this (e.g. tests) runs unmasked exactly as before this existed.
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
