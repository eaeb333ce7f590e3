// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package task

import "testing"

func noopHooks() IdleHooks {
	return IdleHooks{
		DisableInterrupts: func() {},
		EnableInterrupts:  func() {},
		EnableAndHalt:     func() {},
	}
}

// loopFuture polls ready N times (re-waking itself each time) then
// terminates, modeling a task that "loops N times yielding each iteration".
type loopFuture struct {
	remaining int
}

func (f *loopFuture) Poll(w *Waker) bool {
	if f.remaining <= 0 {
		return true
	}
	f.remaining--
	w.Wake()
	return false
}

func TestExecutorPollCount(t *testing.T) {
	e := NewExecutor(8, noopHooks())

	const n = 5
	e.Spawn(&loopFuture{remaining: n})

	// Drain until the task retires. Spawn only queues the task, so
	// TaskCount stays 0 until the first Step merges it; after that each
	// self-wake re-queues the task and Step keeps draining the run queue.
	for i := 0; i < n+2 && (i == 0 || e.TaskCount() > 0); i++ {
		e.Step()
	}

	if e.TaskCount() != 0 {
		t.Fatalf("task did not retire")
	}

	if got := e.Polls(); got != n+1 {
		t.Fatalf("polls = %d, want %d", got, n+1)
	}
}

func TestRunQueueDedup(t *testing.T) {
	rq := NewRunQueue(4)

	rq.Push(1)
	rq.Push(1)
	rq.Push(2)

	var got []ID
	for {
		id, ok := rq.Pop()
		if !ok {
			break
		}
		got = append(got, id)
	}

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected drain order: %v", got)
	}
}

func TestRunQueueFullPanics(t *testing.T) {
	rq := NewRunQueue(0)
	rq.capacity = 1

	rq.Push(1)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on full run queue")
		}
	}()

	rq.Push(2)
}

func TestSpawnCollisionPanics(t *testing.T) {
	e := NewExecutor(4, noopHooks())

	// The first task never completes, so it is still in the task table
	// when the second one with the same id is merged.
	e.spawnQueue.Push(Task{ID: 1, Future: FuncFuture(func(*Waker) bool { return false })})
	e.Step()

	e.spawnQueue.Push(Task{ID: 1, Future: &loopFuture{remaining: 0}})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on task id collision")
		}
	}()

	e.Step()
}

func TestUnknownRunQueueIDIsSkipped(t *testing.T) {
	e := NewExecutor(4, noopHooks())

	id := e.Spawn(&loopFuture{remaining: 0})
	e.Step() // task completes and is removed

	e.runQueue.Push(id) // stale wake arriving after completion
	e.Step()            // must not panic or find a task
}
