// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"sync"

	"github.com/lustre-photos/lustre/lib/thumbdir"
)

// inflightSet tracks (library, image) keys with a queued or running
// generation task. Membership is the deduplication mechanism: a key
// enters the set before its task is submitted and leaves when the
// task finishes, so duplicate requests observe membership and skip.
// Each key carries a channel closed on removal, letting a caller wait
// for someone else's task to settle.
type inflightSet struct {
	mu   sync.Mutex
	keys map[thumbdir.Key]chan struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{keys: make(map[thumbdir.Key]chan struct{})}
}

// tryAdd adds the key, reporting false if it was already present.
func (s *inflightSet) tryAdd(key thumbdir.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, present := s.keys[key]; present {
		return false
	}
	s.keys[key] = make(chan struct{})
	return true
}

// remove drops the key, releasing any waiters.
func (s *inflightSet) remove(key thumbdir.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done, present := s.keys[key]; present {
		close(done)
		delete(s.keys, key)
	}
}

// contains reports membership.
func (s *inflightSet) contains(key thumbdir.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, present := s.keys[key]
	return present
}

// wait blocks until the key's task settles (or immediately if the key
// is not in flight), respecting context cancellation.
func (s *inflightSet) wait(ctx context.Context, key thumbdir.Key) error {
	s.mu.Lock()
	done, present := s.keys[key]
	s.mu.Unlock()
	if !present {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
