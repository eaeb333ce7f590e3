// https://github.com/foundryos/unikernel
//
// Copyright (c) The Foundry OS Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package async

import (
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/foundryos/unikernel/task"
)

// TestMutexMutualExclusion drives many goroutines, each spinning its own
// tiny single-task executor against a shared Mutex, and checks the
// protected counter never observes interleaved increments. The executor
// itself is single-threaded by construction — there is no multi-core
// scheduling; this test instead stresses the Mutex's own
// atomics/waker bookkeeping under real concurrent access from multiple
// goroutines acting as if they were independent cores, which the executor
// model alone could never exercise.
func TestMutexMutualExclusion(t *testing.T) {
	m := NewMutex()
	counter := 0
	inCritical := 0

	var eg errgroup.Group
	const workers = 16
	const iterations = 50

	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			for j := 0; j < iterations; j++ {
				lf := m.Lock()
				for {
					if lf.Poll(task.NewWaker(1, task.NewRunQueue(1))) {
						break
					}
				}

				inCritical++
				if inCritical != 1 {
					m.Unlock()
					t.Errorf("mutual exclusion violated")
					return nil
				}
				counter++
				inCritical--

				m.Unlock()
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	if counter != workers*iterations {
		t.Fatalf("counter = %d, want %d", counter, workers*iterations)
	}
}

func TestRwLockReadersConcurrentWritersExclusive(t *testing.T) {
	l := NewRwLock()

	rf1 := l.RLock()
	for !rf1.Poll(task.NewWaker(1, task.NewRunQueue(1))) {
	}
	rf2 := l.RLock()
	for !rf2.Poll(task.NewWaker(2, task.NewRunQueue(1))) {
	}

	wf := l.Lock()
	if wf.Poll(task.NewWaker(3, task.NewRunQueue(1))) {
		t.Fatalf("writer acquired lock while readers held it")
	}

	l.RUnlock()
	if wf.Poll(task.NewWaker(3, task.NewRunQueue(1))) {
		t.Fatalf("writer acquired lock with one reader still held")
	}

	l.RUnlock()
	if !wf.Poll(task.NewWaker(3, task.NewRunQueue(1))) {
		t.Fatalf("writer did not acquire lock once readers released")
	}

	l.Unlock()
}
