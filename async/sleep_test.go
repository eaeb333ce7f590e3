// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package async

import (
	"testing"

	"github.com/foundryos/unikernel/task"
	"github.com/foundryos/unikernel/timerdrv"
)

func resetClock(t *testing.T) {
	t.Helper()
	timerdrv.Init(timerdrv.TargetHz)
	defaultWheel = NewWheel()
}

func noopHooks() task.IdleHooks {
	return task.IdleHooks{
		DisableInterrupts: func() {},
		EnableInterrupts:  func() {},
		EnableAndHalt:     func() {},
	}
}

// TestSleepOrdering checks that two tasks sleeping 50 and 100ms starting
// at t=0 resume in that order and never before their deadline.
func TestSleepOrdering(t *testing.T) {
	resetClock(t)

	e := task.NewExecutor(8, noopHooks())

	var resumedAt50, resumedAt100 uint64
	done50, done100 := false, false

	e.Spawn(task.FuncFuture(func(w *task.Waker) bool {
		if done := NewSleep(50).Poll(w); !done {
			return false
		}
		resumedAt50 = timerdrv.Millis()
		done50 = true
		return true
	}))

	e.Spawn(task.FuncFuture(func(w *task.Waker) bool {
		if done := NewSleep(100).Poll(w); !done {
			return false
		}
		resumedAt100 = timerdrv.Millis()
		done100 = true
		return true
	}))

	e.Step()

	for ms := uint64(1); ms <= 100 && (!done50 || !done100); ms++ {
		timerdrv.Tick()
		e.Step()

		if done50 && resumedAt50 < 50 {
			t.Fatalf("50ms sleeper resumed early at %d", resumedAt50)
		}
		if done100 && resumedAt100 < 100 {
			t.Fatalf("100ms sleeper resumed early at %d", resumedAt100)
		}
	}

	if !done50 || !done100 {
		t.Fatalf("sleepers did not resume: 50=%v 100=%v", done50, done100)
	}
	if resumedAt50 > resumedAt100 {
		t.Fatalf("50ms sleeper resumed after 100ms sleeper")
	}
}

func TestIntervalDoesNotDrift(t *testing.T) {
	resetClock(t)

	iv := NewInterval(10)
	e := task.NewExecutor(4, noopHooks())

	ticksSeen := 0

	e.Spawn(task.FuncFuture(func(w *task.Waker) bool {
		for ticksSeen < 3 {
			if !iv.PollTick(w) {
				return false
			}
			ticksSeen++
		}
		return true
	}))

	e.Step()
	for ms := uint64(1); ms <= 30 && ticksSeen < 3; ms++ {
		timerdrv.Tick()
		e.Step()
	}

	if ticksSeen != 3 {
		t.Fatalf("interval delivered %d ticks in 30ms at period 10, want 3", ticksSeen)
	}
}
