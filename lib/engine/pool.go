// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"runtime"
	"sync"
)

// workerPool bounds concurrent task execution with a resizable limit.
// Resizing takes effect for subsequent acquisitions: tasks already
// running are never interrupted, and a shrink simply delays new tasks
// until enough running ones finish.
type workerPool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	limit  int
	active int
}

// newWorkerPool creates a pool. limit <= 0 means automatic (one
// worker per CPU).
func newWorkerPool(limit int) *workerPool {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	pool := &workerPool{limit: limit}
	pool.cond = sync.NewCond(&pool.mu)
	return pool
}

// acquire blocks until a worker slot is free.
func (p *workerPool) acquire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.active >= p.limit {
		p.cond.Wait()
	}
	p.active++
}

// release frees a worker slot.
func (p *workerPool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	p.cond.Broadcast()
}

// setLimit adjusts the bound. limit <= 0 means automatic.
func (p *workerPool) setLimit(limit int) {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limit = limit
	p.cond.Broadcast()
}

// currentLimit returns the active bound.
func (p *workerPool) currentLimit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit
}

// run executes task on a fresh goroutine once a slot is free,
// tracking it in the wait group.
func (p *workerPool) run(wg *sync.WaitGroup, task func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.acquire()
		defer p.release()
		task()
	}()
}
