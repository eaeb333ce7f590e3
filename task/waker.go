// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package task

// Waker identifies (task id, run queue); dropping one is
// benign and waking it pushes the id onto the run queue. It is shared,
// reference-counted state crossing the ISR boundary: the NIC
// ISR and the PIT tick handler both call Wake without ever touching an
// async primitive.
type Waker struct {
	id ID
	rq *RunQueue
}

// NewWaker constructs a waker bound to a task id and the run queue it
// should push onto.
func NewWaker(id ID, rq *RunQueue) *Waker {
	return &Waker{id: id, rq: rq}
}

// Wake pushes the waker's task id onto its run queue. Safe to call from an
// ISR; safe to call more than once (duplicate pushes coalesce, see
// RunQueue).
func (w *Waker) Wake() {
	if w == nil {
		return
	}
	w.rq.Push(w.id)
}

// ID returns the task id this waker identifies.
func (w *Waker) ID() ID {
	return w.id
}
