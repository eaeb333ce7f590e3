// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package task

import "sync/atomic"

// IdleHooks lets the executor's idle step reach the CPU-level primitives
// (cli/sti/hlt) without this package importing the arch package directly,
// keeping task free of any hardware dependency — cmd/kernel passes them to
// NewExecutor once at boot.
type IdleHooks struct {
	DisableInterrupts func()
	EnableInterrupts  func()
	EnableAndHalt     func()
}

// Executor owns every spawned task from adoption until its future yields
// its terminal value.
type Executor struct {
	tasks      map[ID]Task
	wakerCache map[ID]*Waker
	runQueue   *RunQueue
	spawnQueue *SpawnQueue
	nextID     uint64
	hooks      IdleHooks

	polls uint64 // total Poll invocations, exposed for tests
}

// NewExecutor constructs an executor with the given maximum expected task
// count (used only to size the run queue, see RunQueue).
func NewExecutor(maxTasks int, hooks IdleHooks) *Executor {
	return &Executor{
		tasks:      make(map[ID]Task),
		wakerCache: make(map[ID]*Waker),
		runQueue:   NewRunQueue(maxTasks),
		spawnQueue: NewSpawnQueue(),
		hooks:      hooks,
	}
}

// RunQueue returns the executor's run queue, needed by any primitive that
// constructs wakers (timer wheel, NIC stream, channels, locks).
func (e *Executor) RunQueue() *RunQueue { return e.runQueue }

// nextTaskID allocates the next monotonic task id, used by Spawn.
func (e *Executor) nextTaskID() ID {
	return ID(atomic.AddUint64(&e.nextID, 1))
}

// Spawn enqueues a task onto the spawn queue; it does not run until the
// executor's next iteration merges the spawn queue.
func (e *Executor) Spawn(f Future) ID {
	id := e.nextTaskID()
	e.spawnQueue.Push(Task{ID: id, Future: f})
	return id
}

func (e *Executor) mergeSpawnQueue() {
	for {
		t, ok := e.spawnQueue.Pop()
		if !ok {
			return
		}

		if _, exists := e.tasks[t.ID]; exists {
			// IDs are globally monotonic; a collision can only mean a bug.
			panic("task: task with same ID already in tasks")
		}

		e.tasks[t.ID] = t
		e.runQueue.Push(t.ID)
	}
}

func (e *Executor) runReadyTasks() {
	for {
		id, ok := e.runQueue.Pop()
		if !ok {
			return
		}

		t, ok := e.tasks[id]
		if !ok {
			// Task completed or was removed since it was queued; skip.
			continue
		}

		w, ok := e.wakerCache[id]
		if !ok {
			w = NewWaker(id, e.runQueue)
			e.wakerCache[id] = w
		}

		atomic.AddUint64(&e.polls, 1)

		if done := t.Future.Poll(w); done {
			delete(e.tasks, id)
			delete(e.wakerCache, id)
		}
	}
}

// Step runs one executor iteration: merge the spawn queue, then drain ready
// tasks. It does not perform the idle halt; callers driving the loop
// themselves (e.g. tests) can call Step directly without touching
// interrupts.
func (e *Executor) Step() {
	e.mergeSpawnQueue()
	e.runReadyTasks()
}

// Polls returns the number of Future.Poll invocations made so far.
func (e *Executor) Polls() uint64 {
	return atomic.LoadUint64(&e.polls)
}

// TaskCount reports the number of tasks currently owned by the executor.
func (e *Executor) TaskCount() int {
	return len(e.tasks)
}

// Run is the executor's main loop: it never returns. On each
// iteration it merges the spawn queue, drains the run queue, and when the
// run queue is empty performs the disable/recheck/halt-or-loop idle step.
// This ordering is load-bearing: checking emptiness must happen with
// interrupts already disabled, or a wake delivered between the check and
// the halt instruction would be lost until the next unrelated interrupt.
func (e *Executor) Run() {
	for {
		e.Step()

		e.hooks.DisableInterrupts()

		if e.runQueue.Empty() {
			e.hooks.EnableAndHalt()
		} else {
			e.hooks.EnableInterrupts()
		}
	}
}
