// Cooperative task and waker primitives.
// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package task implements the cooperative executor: a keyed task table, a
// bounded lock-free-in-spirit (here: mutex guarded, justified below) run
// queue, an unbounded spawn queue, and reference counted wakers that cross
// the ISR boundary.
//
// Go has no language-level async/await, so there is no direct translation
// of a Future::poll-style contract onto goroutines without losing a key
// property: a task that loops N times yielding each iteration must be
// polled exactly N+1 times. A goroutine-backed task would make that
// invariant unobservable and would reintroduce real OS-thread concurrency,
// which this kernel deliberately excludes (multi-core scheduling,
// preemptive switching are out of scope). Task bodies are therefore
// written as explicit Poll-based state machines implementing Future.
package task

// Future is one task body. Poll is called with the waker the executor has
// cached for this task; a Future suspends by registering that waker with
// some primitive (timer wheel, channel, lock, NIC stream, TCP connection)
// and returning false. Returning true retires the task.
type Future interface {
	Poll(w *Waker) bool
}

// FuncFuture adapts a plain poll function to Future, for task bodies that
// need no extra state beyond closures.
type FuncFuture func(w *Waker) bool

func (f FuncFuture) Poll(w *Waker) bool { return f(w) }

// ID uniquely and monotonically identifies a task for its lifetime.
type ID uint64

// Task pairs a monotonic ID with its future.
type Task struct {
	ID     ID
	Future Future
}
