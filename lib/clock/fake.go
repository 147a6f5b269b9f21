// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake is a Clock under test control. Time only moves when Advance or
// Set is called. Fake is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFake returns a Fake positioned at a fixed, arbitrary epoch. The
// exact value does not matter; tests should compare relative to
// fake.Now().
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that fires once the fake time has advanced
// past the deadline. If d <= 0, the channel fires immediately.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := f.now.Add(d)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, &fakeWaiter{deadline: deadline, ch: ch})
	return ch
}

// Sleep blocks until the fake time advances past d. A Sleep on a Fake
// requires another goroutine to call Advance, otherwise it blocks
// forever — which is exactly the hang a test wants to catch.
func (f *Fake) Sleep(d time.Duration) {
	<-f.After(d)
}

// Advance moves the fake time forward and fires any waiters whose
// deadline has been reached.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(f.now.Add(d))
}

// Set jumps the fake time to an absolute instant. Moving backwards is
// allowed; waiters only fire on forward movement past their deadline.
func (f *Fake) Set(instant time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(instant)
}

func (f *Fake) setLocked(instant time.Time) {
	f.now = instant

	remaining := f.waiters[:0]
	for _, waiter := range f.waiters {
		if !waiter.deadline.After(f.now) {
			waiter.ch <- f.now
			continue
		}
		remaining = append(remaining, waiter)
	}
	f.waiters = remaining
}
