// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package timerdrv

import "testing"

func TestReloadValueClamping(t *testing.T) {
	if rv := reloadValue(1000); rv == 0 {
		t.Fatalf("reload value should not be zero at 1kHz")
	}

	if rv := reloadValue(1); rv != 0xffff {
		t.Fatalf("sub-minimum frequency should clamp to 0xffff, got %#x", rv)
	}
}

func TestMillisIsPureFunctionOfTicks(t *testing.T) {
	ticks = 0
	nextDeadline = 0

	for i := 0; i < TargetHz; i++ {
		Tick()
	}

	if got := Millis(); got != 1000 {
		t.Fatalf("Millis() = %d, want 1000 after %d ticks at %dHz", got, TargetHz, TargetHz)
	}

	if got := Seconds(); got != 1 {
		t.Fatalf("Seconds() = %d, want 1", got)
	}
}

func TestDeadlineHandlerFiresWhenReached(t *testing.T) {
	ticks = 0
	nextDeadline = 0

	fired := false
	SetDeadlineHandler(func() { fired = true })
	defer SetDeadlineHandler(nil)

	SetDeadline(5)

	for i := 0; i < 4; i++ {
		Tick()
	}
	if fired {
		t.Fatalf("handler fired before deadline reached")
	}

	for i := 0; i < 2; i++ {
		Tick()
	}
	if !fired {
		t.Fatalf("handler did not fire once deadline reached")
	}
}

func TestClearDeadlineDisarms(t *testing.T) {
	ticks = 0
	SetDeadline(1)
	ClearDeadline()

	if d := Deadline(); d != 0 {
		t.Fatalf("Deadline() = %d after clear, want 0", d)
	}
}
