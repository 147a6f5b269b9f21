// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject a Fake with deterministic control
// over the current time.
//
// Engine components that record timestamps (thumbnail creation and
// update times, trash directory naming during storage moves) take a
// Clock instead of calling the time package directly, so tests can
// assert on exact timestamps.
package clock

import "time"

// Clock is the time surface the engine uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}
