// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/lustre-photos/lustre/lib/thumbdir"

// Notifier receives thumbnail lifecycle events. Implementations must
// be safe for concurrent use and must not block: events are emitted
// from generation workers.
type Notifier interface {
	ThumbnailCreated(key thumbdir.Key)
	ThumbnailUpdated(key thumbdir.Key)
	ThumbnailDiscarded(key thumbdir.Key)
}

// nopNotifier is the default when no notifier is configured.
type nopNotifier struct{}

func (nopNotifier) ThumbnailCreated(thumbdir.Key)   {}
func (nopNotifier) ThumbnailUpdated(thumbdir.Key)   {}
func (nopNotifier) ThumbnailDiscarded(thumbdir.Key) {}
