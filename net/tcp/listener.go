// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tcp

import (
	"errors"
	"sync"

	"github.com/foundryos/unikernel/async"
	"github.com/foundryos/unikernel/task"
)

// ErrPortInUse is returned by Listen when the port already has a listener
// bound.
var ErrPortInUse = errors.New("tcp: port already bound")

// Registry is the port-keyed listener table consulted on every inbound SYN.
// Only task context touches it, so a plain RWMutex is enough.
type Registry struct {
	mu        sync.RWMutex
	listeners map[uint16]*Listener
}

func newRegistry() *Registry {
	return &Registry{listeners: make(map[uint16]*Listener)}
}

// Listen binds a listener to port, failing if the port is already bound.
func (r *Registry) Listen(port uint16) (*Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.listeners[port]; exists {
		return nil, ErrPortInUse
	}

	ch := async.NewChannel[*Stream]()
	l := &Listener{port: port, pending: ch, deliverSender: ch.NewSender()}
	r.listeners[port] = l
	return l, nil
}

func (r *Registry) lookup(port uint16) (*Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listeners[port]
	return l, ok
}

// Listener is a bound port awaiting incoming connections.
type Listener struct {
	port          uint16
	pending       *async.Channel[*Stream]
	deliverSender *async.Sender[*Stream]
}

// deliver hands a freshly-accepted stream to whoever is awaiting Accept.
func (l *Listener) deliver(s *Stream) {
	l.deliverSender.Send(s)
}

type acceptFuture struct {
	recv   task.Future
	stream *Stream
}

// Accept returns a Future resolving to the next connected Stream.
func (l *Listener) Accept() task.Future {
	return &acceptFuture{recv: l.pending.Recv()}
}

func (f *acceptFuture) Poll(w *task.Waker) bool {
	if !f.recv.Poll(w) {
		return false
	}
	if r, ok := f.recv.(interface{ Result() async.RecvResult[*Stream] }); ok {
		f.stream = r.Result().Value
	}
	return true
}

// Stream returns the accepted connection; only valid once Poll has
// returned true.
func (f *acceptFuture) Stream() *Stream { return f.stream }
