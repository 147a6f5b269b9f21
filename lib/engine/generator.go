// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/lustre-photos/lustre/lib/chunkstore"
	"github.com/lustre-photos/lustre/lib/pyramid"
	"github.com/lustre-photos/lustre/lib/thumbdir"
)

// Generate builds pyramids for a batch of requests. New images (no
// directory record) and existing ones (regeneration) run through
// separate in-flight sets; a request already in flight is coalesced
// into a no-op. Generate blocks until every task it submitted
// completes, then saves the directory once for the whole batch.
//
// Individual task failures are logged and do not abort the rest of
// the batch; Generate returns an error only for the barrier save.
func (e *Engine) Generate(ctx context.Context, requests []ThumbRequest) error {
	directory, store, err := e.components()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	submitted := 0
	for _, request := range requests {
		key := request.Key()

		if _, exists := directory.GetThumb(key); exists {
			if !e.updateInflight.tryAdd(key) {
				e.logger.Debug("regeneration already in flight", "library", key.LibraryID, "image", key.ImageID)
				continue
			}
			submitted++
			e.genPool.run(&wg, func() {
				defer e.updateInflight.remove(key)
				if err := e.regenerate(directory, store, request); err != nil {
					e.logger.Error("thumbnail regeneration failed",
						"library", key.LibraryID, "image", key.ImageID, "error", err)
					return
				}
				e.notifier.ThumbnailUpdated(key)
			})
			continue
		}

		if !e.newInflight.tryAdd(key) {
			e.logger.Debug("generation already in flight", "library", key.LibraryID, "image", key.ImageID)
			continue
		}
		submitted++
		e.genPool.run(&wg, func() {
			defer e.newInflight.remove(key)
			if err := e.generateNew(directory, store, request); err != nil {
				e.logger.Error("thumbnail generation failed",
					"library", key.LibraryID, "image", key.ImageID, "error", err)
				return
			}
			e.notifier.ThumbnailCreated(key)
		})
	}

	wg.Wait()

	if submitted == 0 {
		return nil
	}
	if err := directory.Save(ctx); err != nil {
		e.logger.Error("directory save after generation batch failed", "error", err)
		return err
	}
	return nil
}

// generateNew builds the pyramid for an image with no record yet and
// links the record to the stored bytes. Pyramid bytes reach the chunk
// store before the directory durably records them (the record is
// in-memory until the batch save), so a crash leaves an orphan entry
// rather than a dangling reference.
func (e *Engine) generateNew(directory *thumbdir.Directory, store *chunkstore.Store, request ThumbRequest) error {
	container, err := e.buildPyramid(request)
	if err != nil {
		return err
	}

	thumb := directory.MakeThumb(request.Key())
	chunkID, err := store.WriteEntry(chunkstore.Entry{ID: thumb.ChunkEntryID, Data: container})
	if err != nil {
		directory.Remove(request.Key())
		return err
	}
	return directory.AttachChunk(request.Key(), chunkID)
}

// regenerate rebuilds an existing thumbnail's pyramid. The new entry
// is written first and the record re-pointed; only then is the old
// entry deleted, best-effort, so a failure mid-way leaves a readable
// thumbnail (old or new) rather than none.
func (e *Engine) regenerate(directory *thumbdir.Directory, store *chunkstore.Store, request ThumbRequest) error {
	old, exists := directory.GetThumb(request.Key())
	if !exists {
		return fmt.Errorf("%w: record vanished before regeneration", ErrNoSuchThumb)
	}

	container, err := e.buildPyramid(request)
	if err != nil {
		return err
	}

	thumb := directory.MakeThumb(request.Key())
	chunkID, err := store.WriteEntry(chunkstore.Entry{ID: thumb.ChunkEntryID, Data: container})
	if err != nil {
		// Put the old record back verbatim, entry ID included, so the
		// thumbnail stays retrievable from its existing chunk entry.
		directory.Restore(old)
		return err
	}
	if err := directory.AttachChunk(request.Key(), chunkID); err != nil {
		return err
	}

	if old.HasChunk() {
		if err := store.DeleteEntry(old.ChunkID, old.ChunkEntryID); err != nil {
			e.logger.Warn("deleting superseded chunk entry failed",
				"chunk", old.ChunkID, "entry", old.ChunkEntryID, "error", err)
		}
	}
	return nil
}

// buildPyramid reads the source image and builds its container.
func (e *Engine) buildPyramid(request ThumbRequest) ([]byte, error) {
	source, err := e.readSource(request.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", request.ImageURL, err)
	}
	return pyramid.BuildFromBytes(source, e.levels)
}

// Discard removes thumbnails: the directory record and the chunk
// entry both go. A request with generation in flight is skipped and
// logged — the generation wins, and the caller may discard again once
// it settles. Requests with no record are logged, not fatal.
func (e *Engine) Discard(ctx context.Context, requests []ThumbRequest) error {
	directory, store, err := e.components()
	if err != nil {
		return err
	}

	discarded := 0
	for _, request := range requests {
		key := request.Key()

		if e.newInflight.contains(key) || e.updateInflight.contains(key) {
			e.logger.Warn("discard skipped: generation in flight",
				"library", key.LibraryID, "image", key.ImageID)
			continue
		}

		removed, found := directory.Remove(key)
		if !found {
			e.logger.Warn("discard requested for unknown thumbnail",
				"library", key.LibraryID, "image", key.ImageID)
			continue
		}
		discarded++

		if removed.HasChunk() {
			if err := store.DeleteEntry(removed.ChunkID, removed.ChunkEntryID); err != nil {
				e.logger.Warn("deleting discarded chunk entry failed",
					"chunk", removed.ChunkID, "entry", removed.ChunkEntryID, "error", err)
			}
		}
		e.notifier.ThumbnailDiscarded(key)
	}

	if discarded == 0 {
		return nil
	}
	return directory.Save(ctx)
}

// IsInFlight reports whether a new-thumbnail generation task for the
// request is currently queued or running.
func (e *Engine) IsInFlight(request ThumbRequest) bool {
	return e.newInflight.contains(request.Key())
}

// SetWorkerCount adjusts the generation pool bound. count <= 0 means
// automatic (one worker per CPU). Takes effect for subsequently
// submitted tasks.
func (e *Engine) SetWorkerCount(count int) {
	e.genPool.setLimit(count)
}
