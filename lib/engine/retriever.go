// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	// Renditions are JPEG; register the decoder for DecodeConfig.
	_ "image/jpeg"

	"github.com/lustre-photos/lustre/lib/pyramid"
)

// Retrieve looks up a thumbnail and returns the pyramid rendition
// closest to the requested size. An unset or zero size means "the
// largest available". Runs on the retrieval pool, bounding how many
// retrievals decode concurrently.
//
// The selection is closest-by-absolute-difference on the longer edge,
// so a request may receive a rendition smaller than asked for even
// when a larger one exists — callers wanting "at least N pixels" ask
// for a larger N.
func (e *Engine) Retrieve(ctx context.Context, request ThumbRequest) (pyramid.Rendition, error) {
	directory, store, err := e.components()
	if err != nil {
		return pyramid.Rendition{}, err
	}

	e.retrievePool.acquire()
	defer e.retrievePool.release()

	thumb, found := directory.GetThumb(request.Key())
	if !found {
		return pyramid.Rendition{}, fmt.Errorf("%w: library %s image %s",
			ErrNoSuchThumb, request.LibraryID, request.ImageID)
	}
	if !thumb.HasChunk() {
		return pyramid.Rendition{}, fmt.Errorf("%w: library %s image %s",
			ErrInvalidChunk, request.LibraryID, request.ImageID)
	}

	data, err := store.GetEntry(thumb.ChunkID, thumb.ChunkEntryID)
	if err != nil {
		return pyramid.Rendition{}, fmt.Errorf("reading pyramid for image %s: %w", request.ImageID, err)
	}

	container, err := pyramid.Parse(data)
	if err != nil {
		return pyramid.Rendition{}, fmt.Errorf("image %s: %w", request.ImageID, err)
	}

	rendition, found := container.SelectClosest(request.edge())
	if !found {
		return pyramid.Rendition{}, fmt.Errorf("%w: image %s", ErrNoImages, request.ImageID)
	}

	// Introspect the JPEG header rather than trusting the container
	// index; a mismatch means the rendition cannot be sized.
	config, _, err := image.DecodeConfig(bytes.NewReader(rendition.JPEG))
	if err != nil {
		return pyramid.Rendition{}, fmt.Errorf("%w: image %s edge %d: %v",
			ErrSizingFailed, request.ImageID, rendition.Edge, err)
	}
	rendition.Width = config.Width
	rendition.Height = config.Height

	return rendition, nil
}

// Get retrieves a thumbnail, generating it first on a miss. When the
// miss is due to another caller's in-flight generation, Get waits for
// that task to settle instead of duplicating the work.
func (e *Engine) Get(ctx context.Context, request ThumbRequest) (pyramid.Rendition, error) {
	rendition, err := e.Retrieve(ctx, request)
	if !errors.Is(err, ErrNoSuchThumb) {
		return rendition, err
	}

	if err := e.generateOne(ctx, request); err != nil {
		return pyramid.Rendition{}, err
	}
	return e.Retrieve(ctx, request)
}

// generateOne builds one missing thumbnail synchronously, so the
// caller sees the build's own error (bad source, write failure)
// rather than a not-found on the retry. Shares the new in-flight set
// with batch generation: a request already in flight waits for that
// task instead of duplicating it.
func (e *Engine) generateOne(ctx context.Context, request ThumbRequest) error {
	directory, store, err := e.components()
	if err != nil {
		return err
	}

	key := request.Key()
	if !e.newInflight.tryAdd(key) {
		return e.newInflight.wait(ctx, key)
	}

	if _, exists := directory.GetThumb(key); exists {
		// A generation finished between the miss and the claim.
		e.newInflight.remove(key)
		return nil
	}

	e.genPool.acquire()
	err = e.generateNew(directory, store, request)
	e.genPool.release()
	e.newInflight.remove(key)
	if err != nil {
		return err
	}

	e.notifier.ThumbnailCreated(key)
	return directory.Save(ctx)
}
