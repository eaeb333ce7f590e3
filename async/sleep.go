// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package async

import (
	"sync"

	"github.com/foundryos/unikernel/task"
	"github.com/foundryos/unikernel/timerdrv"
)

var (
	defaultWheel     *Wheel
	defaultWheelOnce sync.Once
)

// DefaultWheel returns the process-wide timer wheel, creating and wiring it
// to timerdrv on first use.
func DefaultWheel() *Wheel {
	defaultWheelOnce.Do(func() {
		defaultWheel = NewWheel()
	})
	return defaultWheel
}

// Sleep is a Future that becomes ready once timerdrv.Millis() reaches
// untilMs.
type Sleep struct {
	UntilMs uint64
	wheel   *Wheel
	queued  bool
}

// NewSleep constructs a Sleep future for an absolute deadline in
// milliseconds since boot.
func NewSleep(untilMs uint64) *Sleep {
	return &Sleep{UntilMs: untilMs, wheel: DefaultWheel()}
}

// SleepFor constructs a Sleep future for a duration relative to now.
func SleepFor(durationMs uint64) *Sleep {
	return NewSleep(timerdrv.Millis() + durationMs)
}

// Poll implements task.Future.
func (s *Sleep) Poll(w *task.Waker) bool {
	if timerdrv.Millis() >= s.UntilMs {
		return true
	}

	if !s.queued {
		s.queued = true
		s.wheel.Push(s.UntilMs, w)
	}

	return false
}

// Interval produces one tick per period; rather than rescheduling from
// "now" on every fire (which would drift by the scheduling latency each
// time), it always computes the next deadline as prevDeadline+period.
type Interval struct {
	period   uint64
	deadline uint64
	sleep    *Sleep
}

// NewInterval constructs an Interval whose first tick is due now and each
// later tick one period after the previous one.
func NewInterval(periodMs uint64) *Interval {
	start := timerdrv.Millis()
	return &Interval{
		period:   periodMs,
		deadline: start,
		sleep:    NewSleep(start),
	}
}

// PollTick implements one iteration of the interval: returns true exactly
// when the current tick's deadline is reached (the first at once), at which point the caller should act and call
// PollTick again to arm the next period. It deliberately does not implement
// task.Future itself (an Interval yields many times, not once), matching
// how a task body loops over it, e.g.:
//
//	for { if iv.PollTick(w) { doWork() } else { return false } }
func (iv *Interval) PollTick(w *task.Waker) bool {
	if !iv.sleep.Poll(w) {
		return false
	}

	iv.deadline += iv.period
	iv.sleep = &Sleep{UntilMs: iv.deadline, wheel: iv.sleep.wheel}

	return true
}
