// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs data-parallel loops over a soft-limited number of goroutines.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Pool tracks the number of running workers against a soft limit. Its zero value has parallelism disabled.
type Pool struct {
	maxParallelism int // 0 disables parallelism, -1 means unlimited.

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases or maxParallelism changes.
	numRunning int
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a new Pool with the given parallelism. See MaxParallelism.
func NewWithParallelism(maxParallelism int) *Pool {
	w := &Pool{}
	w.SetMaxParallelism(maxParallelism)
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is a soft-target for parallelism.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the soft target of parallel workers. See MaxParallelism.
//
// It should only be changed before tasks are started. Tasks already running are not affected, and
// goroutines blocked in WaitToStart re-check the new limit.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxParallelism = maxParallelism
	w.lockedCond().Broadcast()
}

// lockedCond returns the condition variable, initializing it for zero value Pools. Pool.mu must be held.
func (w *Pool) lockedCond() *sync.Cond {
	if w.cond.L == nil {
		w.cond.L = &w.mu
	}
	return &w.cond
}

// lockedIsFull returns whether no more workers can be started. Pool.mu must be held.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// lockedStart runs task in a new goroutine, counted in numRunning while it runs.
// Pool.mu must be held.
func (w *Pool) lockedStart(task func()) {
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.lockedCond().Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there are enough workers left.
// It returns true if it found workers to run the function, false otherwise.
//
// It's up to the client to synchronize the end of the function execution.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedStart(task)
	return true
}

// WaitToStart blocks until a worker is available and runs the task in it.
//
// If parallelism is disabled, the task runs inline and WaitToStart returns when it finishes. Avoid calling
// it from within a task: with a bounded pool that can deadlock, use StartIfAvailable instead.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if !w.IsEnabled() {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.lockedCond().Wait()
	}
	w.lockedStart(task)
}

// ParallelFor calls fn(start, end) over consecutive chunks covering [0, n), each chunk with at least
// minChunk items (except the last), and waits for all of them to finish.
//
// Chunks run on the pool's workers; if parallelism is disabled or n <= minChunk, fn(0, n) runs inline.
// The calling goroutine also takes chunks while the pool is full, so ParallelFor never deadlocks when
// called from within a task.
//
// A panic inside fn doesn't crash the program: the first one is returned as an error, after all
// chunks have finished.
func (w *Pool) ParallelFor(n, minChunk int, fn func(start, end int)) error {
	if n <= 0 {
		return nil
	}
	minChunk = max(minChunk, 1)
	if !w.IsEnabled() || n <= minChunk {
		return runChunk(fn, 0, n)
	}

	// Split in at most ~2 chunks per worker, but never smaller than minChunk.
	numChunks := (n + minChunk - 1) / minChunk
	if !w.IsUnlimited() {
		numChunks = min(numChunks, 2*w.maxParallelism)
	}
	chunkSize := (n + numChunks - 1) / numChunks

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	recordErr := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		task := func() {
			recordErr(runChunk(fn, start, end))
		}
		wg.Add(1)
		if !w.StartIfAvailable(func() { task(); wg.Done() }) {
			task()
			wg.Done()
		}
	}
	wg.Wait()
	return firstErr
}

// runChunk runs fn(start, end) converting any panic to an error.
func runChunk(fn func(start, end int), start, end int) error {
	exception := exceptions.Try(func() { fn(start, end) })
	if exception == nil {
		return nil
	}
	if err, ok := exception.(error); ok {
		return errors.WithMessagef(err, "panic in parallel chunk [%d, %d)", start, end)
	}
	return errors.Errorf("panic in parallel chunk [%d, %d): %v", start, end, exception)
}
