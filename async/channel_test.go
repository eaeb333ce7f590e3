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
)

func drainPoll(t *testing.T, f task.Future, w *task.Waker) {
	t.Helper()
	for i := 0; i < 1000 && !f.Poll(w); i++ {
	}
}

func TestChannelFIFO(t *testing.T) {
	c := NewChannel[int]()
	s := c.firstSender()

	for i := 1; i <= 100; i++ {
		s.Send(i)
	}

	w := task.NewWaker(1, task.NewRunQueue(1))

	for i := 1; i <= 100; i++ {
		rf := c.Recv().(*recvFuture[int])
		drainPoll(t, rf, w)

		res := rf.Result()
		if res.Terminal {
			t.Fatalf("unexpected terminal result at i=%d", i)
		}
		if res.Value != i {
			t.Fatalf("recv #%d = %d, want %d", i, res.Value, i)
		}
	}
}

func TestChannelCloseAfterDrain(t *testing.T) {
	c := NewChannel[int]()
	s := c.firstSender()

	s.Send(1)
	s.Send(2)
	s.Send(3)
	s.Close()

	w := task.NewWaker(1, task.NewRunQueue(1))

	for _, want := range []int{1, 2, 3} {
		rf := c.Recv().(*recvFuture[int])
		drainPoll(t, rf, w)
		res := rf.Result()
		if res.Terminal || res.Value != want {
			t.Fatalf("got %+v, want value %d", res, want)
		}
	}

	rf := c.Recv().(*recvFuture[int])
	drainPoll(t, rf, w)
	if !rf.Result().Terminal {
		t.Fatalf("expected terminal result after drain+close")
	}
}

func TestChannelRemainsOpenWhileSendersOutstanding(t *testing.T) {
	c := NewChannel[int]()
	s1 := c.firstSender()
	s2 := c.NewSender()

	s1.Close()

	s2.Send(42)

	w := task.NewWaker(1, task.NewRunQueue(1))
	rf := c.Recv().(*recvFuture[int])
	drainPoll(t, rf, w)

	if res := rf.Result(); res.Terminal || res.Value != 42 {
		t.Fatalf("got %+v, want value 42", res)
	}
}
