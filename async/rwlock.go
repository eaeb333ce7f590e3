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

const rwWriteBit = 1

// RwLock is a suspending (non-blocking) reader-writer lock: a 64-bit word
// where bit 0 marks a held writer and bits 1.. count active readers. It
// admits reader preference with no writer-priority starvation guard — a
// pending-writer counter would be the extension to add writer fairness.
type RwLock struct {
	state uint64

	mu            sync.Mutex
	readWaiters   *list.List // wakers only; readers hold no cancellation key
	writeWaiters  *list.List // *task.Waker; each writer keeps its element so Drop can remove it
}

// NewRwLock constructs an unlocked RwLock.
func NewRwLock() *RwLock {
	return &RwLock{
		readWaiters:  list.New(),
		writeWaiters: list.New(),
	}
}

type readLockFuture struct {
	l        *RwLock
	acquired bool
}

// RLock returns a Future that resolves once a read lock is held.
func (l *RwLock) RLock() task.Future {
	return &readLockFuture{l: l}
}

func (f *readLockFuture) Poll(w *task.Waker) bool {
	if f.acquired {
		return true
	}

	for {
		cur := atomic.LoadUint64(&f.l.state)
		if cur&rwWriteBit != 0 {
			break
		}

		if atomic.CompareAndSwapUint64(&f.l.state, cur, cur+2) {
			f.acquired = true
			return true
		}
	}

	// Readers register contention without a removable key:
	// duplicate registrations under heavy contention are harmless spurious
	// wakes, never a correctness issue, since Unlock wakes the whole set.
	f.l.mu.Lock()
	f.l.readWaiters.PushBack(w)
	f.l.mu.Unlock()

	return false
}

// RUnlock releases one reader. On the last reader's release, one writer
// (if any) is woken.
func (l *RwLock) RUnlock() {
	if atomic.AddUint64(&l.state, ^uint64(1)) == 0 {
		l.wakeOneWriter()
	}
}

type writeLockFuture struct {
	l        *RwLock
	elem     *list.Element
	acquired bool
}

// Lock returns a Future that resolves once the write lock is held.
func (l *RwLock) Lock() task.Future {
	return &writeLockFuture{l: l}
}

func (f *writeLockFuture) Poll(w *task.Waker) bool {
	if f.acquired {
		return true
	}

	if atomic.CompareAndSwapUint64(&f.l.state, 0, rwWriteBit) {
		f.acquired = true
		f.removeFromWaiters()
		return true
	}

	f.l.mu.Lock()
	if f.elem == nil {
		f.elem = f.l.writeWaiters.PushBack(w)
	}
	f.l.mu.Unlock()

	return false
}

func (f *writeLockFuture) removeFromWaiters() {
	if f.elem == nil {
		return
	}
	f.l.mu.Lock()
	f.l.writeWaiters.Remove(f.elem)
	f.l.mu.Unlock()
	f.elem = nil
}

// Drop deregisters a pending write-lock attempt's waker. Writers hold a
// cancellation key (their list.Element) precisely so this path exists: a
// writer that gives up waiting (e.g. on a timeout) must remove itself or a
// future Unlock could wake a waker nobody will ever poll again, silently
// losing a wakeup that was meant for the next real writer.
func (f *writeLockFuture) Drop() {
	if f.acquired {
		return
	}
	f.removeFromWaiters()
}

func (l *RwLock) wakeOneWriter() {
	l.mu.Lock()
	front := l.writeWaiters.Front()
	var w *task.Waker
	if front != nil {
		w = front.Value.(*task.Waker)
		l.writeWaiters.Remove(front)
	}
	l.mu.Unlock()

	w.Wake()
}

// Unlock releases the write lock and wakes all readers; if none were
// woken, wakes one writer instead (so a writer-only contention chain
// still makes progress).
func (l *RwLock) Unlock() {
	atomic.StoreUint64(&l.state, 0)

	l.mu.Lock()
	readers := l.readWaiters
	l.readWaiters = list.New()
	l.mu.Unlock()

	if readers.Len() == 0 {
		l.wakeOneWriter()
		return
	}

	for e := readers.Front(); e != nil; e = e.Next() {
		e.Value.(*task.Waker).Wake()
	}
}
