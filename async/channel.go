// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package async

import (
	"sync"
	"sync/atomic"

	"github.com/foundryos/unikernel/task"
)

// Channel is an unbounded MPSC channel: an unbounded queue of T, an atomic
// semaphore packing (message_count<<1 | closed_bit), and a single receiver
// waker slot.
type Channel[T any] struct {
	mu      sync.Mutex
	q       []T
	sem     uint64 // (count << 1) | closedBit
	rxWaker atomic.Pointer[task.Waker]
	senders int64
}

const channelClosedBit uint64 = 1

// NewChannel constructs an open channel with one implicit sender handle;
// call NewSender for each additional producer and Close (or let the last
// Sender drop) once all producers are done.
func NewChannel[T any]() *Channel[T] {
	c := &Channel[T]{}
	atomic.StoreInt64(&c.senders, 1)
	return c
}

// Sender is a cloneable handle to a channel's send side; the channel closes
// once every outstanding Sender has been dropped (via Close).
type Sender[T any] struct {
	c        *Channel[T]
	released bool
}

// NewSender clones an additional sender handle, incrementing the
// outstanding-sender count.
func (c *Channel[T]) NewSender() *Sender[T] {
	atomic.AddInt64(&c.senders, 1)
	return &Sender[T]{c: c}
}

// firstSender returns a Sender wrapping the channel's implicit first
// producer handle created in NewChannel.
func (c *Channel[T]) firstSender() *Sender[T] {
	return &Sender[T]{c: c}
}

// Send enqueues v and wakes a pending receiver, unless the channel has
// already been closed (a send after close is simply dropped: there is
// nobody left to care since closing only happens once every Sender has
// been released). The NIC ISR sends directly off the RX ring (see
// rtl8139.Driver.drainRX), so the append below masks interrupts exactly
// like RunQueue and Wheel: a task-context sender interrupted while holding
// mu would otherwise deadlock the ISR against itself.
func (s *Sender[T]) Send(v T) {
	for {
		cur := atomic.LoadUint64(&s.c.sem)
		if cur&channelClosedBit != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(&s.c.sem, cur, cur+2) {
			break
		}
	}

	restore := guardSection()
	s.c.mu.Lock()
	s.c.q = append(s.c.q, v)
	s.c.mu.Unlock()
	restore()

	s.c.wakeReceiver()
}

// Close releases this sender handle; once every handle obtained from
// NewChannel/NewSender has been released, the channel transitions to
// closed and the receiver is woken so a pending recv observes the terminal
// state.
func (s *Sender[T]) Close() {
	if s.released {
		return
	}
	s.released = true

	if atomic.AddInt64(&s.c.senders, -1) == 0 {
		for {
			cur := atomic.LoadUint64(&s.c.sem)
			if atomic.CompareAndSwapUint64(&s.c.sem, cur, cur|channelClosedBit) {
				break
			}
		}
		s.c.wakeReceiver()
	}
}

func (c *Channel[T]) wakeReceiver() {
	if w := c.rxWaker.Swap(nil); w != nil {
		w.Wake()
	}
}

func (c *Channel[T]) tryPop() (T, bool) {
	restore := guardSection()
	defer restore()

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if len(c.q) == 0 {
		return zero, false
	}

	v := c.q[0]
	c.q = c.q[1:]
	atomic.AddUint64(&c.sem, ^uint64(1)) // sem -= 2, preserving the closed bit

	return v, true
}

// RecvResult is the outcome of one Recv poll: a value, a terminal (closed
// and drained) signal, or neither (still pending).
type RecvResult[T any] struct {
	Value    T
	Terminal bool
}

type recvFuture[T any] struct {
	c        *Channel[T]
	result   RecvResult[T]
	resolved bool
}

// Recv returns a Future yielding the next message, or a terminal result
// once the channel is closed and drained.
func (c *Channel[T]) Recv() task.Future {
	return &recvFuture[T]{c: c}
}

func (f *recvFuture[T]) Poll(w *task.Waker) bool {
	if f.resolved {
		return true
	}

	if v, ok := f.c.tryPop(); ok {
		f.result = RecvResult[T]{Value: v}
		f.resolved = true
		return true
	}

	// Register before re-checking, to close the lost-wakeup window: a
	// Send racing between our tryPop above and this registration must
	// still observe a waker to fire.
	f.c.rxWaker.Store(w)

	if v, ok := f.c.tryPop(); ok {
		f.c.rxWaker.CompareAndSwap(w, nil)
		f.result = RecvResult[T]{Value: v}
		f.resolved = true
		return true
	}

	if atomic.LoadUint64(&f.c.sem)&channelClosedBit != 0 {
		f.result = RecvResult[T]{Terminal: true}
		f.resolved = true
		return true
	}

	return false
}

// Result returns the resolved Recv outcome; only valid after Poll has
// returned true.
func (f *recvFuture[T]) Result() RecvResult[T] {
	return f.result
}
