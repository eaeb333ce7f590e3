// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package async

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/foundryos/unikernel/task"
)

// Mutex is a suspending (non-blocking) lock: a boolean acquired by
// compare-exchange, with contenders queued as wakers in a container/list
// and notified one at a time, FIFO, on release.
type Mutex struct {
	locked  uint32
	mu      sync.Mutex
	waiters *list.List
}

// NewMutex constructs an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{waiters: list.New()}
}

// Lock is a Future that resolves once the mutex has been acquired. There is
// no scope-bound guard type; callers must call Unlock on every exit path,
// including early return.
type lockFuture struct {
	m        *Mutex
	elem     *list.Element
	acquired bool
}

// Lock returns a Future that, once polled to completion, holds the mutex.
func (m *Mutex) Lock() task.Future {
	return &lockFuture{m: m}
}

func (f *lockFuture) Poll(w *task.Waker) bool {
	if f.acquired {
		return true
	}

	if atomic.CompareAndSwapUint32(&f.m.locked, 0, 1) {
		f.acquired = true

		if f.elem != nil {
			f.m.mu.Lock()
			f.m.waiters.Remove(f.elem)
			f.m.mu.Unlock()
			f.elem = nil
		}

		return true
	}

	f.m.mu.Lock()
	if f.elem == nil {
		f.elem = f.m.waiters.PushBack(w)
	}
	f.m.mu.Unlock()

	return false
}

// Drop deregisters this pending lock attempt's waker, for the cancellation
// path (e.g. a select-with-Sleep timeout): it must be called if a
// lockFuture is abandoned before it acquires the lock, or a lost wakeup
// could leave another waiter waiting forever on a waker nobody fires.
func (f *lockFuture) Drop() {
	if f.elem == nil || f.acquired {
		return
	}

	f.m.mu.Lock()
	f.m.waiters.Remove(f.elem)
	f.m.mu.Unlock()
	f.elem = nil
}

// Unlock releases the mutex and wakes one waiter, if any.
func (m *Mutex) Unlock() {
	atomic.StoreUint32(&m.locked, 0)

	m.mu.Lock()
	front := m.waiters.Front()
	var w *task.Waker
	if front != nil {
		w = front.Value.(*task.Waker)
		m.waiters.Remove(front)
	}
	m.mu.Unlock()

	w.Wake()
}

// TryLock attempts to acquire the mutex without suspending, used by
// non-blocking callers (e.g. the RTL8139 driver's flush path, which must
// never wait on an async primitive from an ISR-adjacent context).
func (m *Mutex) TryLock() bool {
	return atomic.CompareAndSwapUint32(&m.locked, 0, 1)
}
