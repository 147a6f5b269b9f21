// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/google/uuid"
)

// Prefetch warms the chunk cache for anticipated reads — a grid view
// calls it with the requests just beyond the visible range. Requests
// are deduplicated by chunk, so a screenful of thumbnails stored in
// one chunk costs one preload. Best-effort: missing thumbnails and
// preload failures are logged by the store and swallowed.
func (e *Engine) Prefetch(requests []ThumbRequest) {
	directory, store, err := e.components()
	if err != nil {
		e.logger.Debug("prefetch skipped", "error", err)
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(requests))
	for _, request := range requests {
		thumb, found := directory.GetThumb(request.Key())
		if !found || !thumb.HasChunk() {
			continue
		}
		if _, already := seen[thumb.ChunkID]; already {
			continue
		}
		seen[thumb.ChunkID] = struct{}{}
		store.PreloadChunk(thumb.ChunkID)
	}
}
