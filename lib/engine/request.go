// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"

	"github.com/google/uuid"

	"github.com/lustre-photos/lustre/lib/thumbdir"
)

var (
	// ErrNotAwake indicates an operation on an engine before WakeUp.
	ErrNotAwake = errors.New("engine is not awake")

	// ErrNoSuchThumb indicates a retrieval for an image with no
	// thumbnail record. The caller triggers generation and retries.
	ErrNoSuchThumb = errors.New("no thumbnail for image")

	// ErrInvalidChunk indicates a thumbnail record with no chunk
	// association — a data-integrity problem, not an I/O failure.
	ErrInvalidChunk = errors.New("thumbnail has no chunk association")

	// ErrNoImages indicates a pyramid container with zero renditions,
	// which cannot satisfy any retrieval.
	ErrNoImages = errors.New("pyramid contains no images")

	// ErrSizingFailed indicates a selected rendition whose dimensions
	// could not be introspected.
	ErrSizingFailed = errors.New("rendition sizing failed")
)

// Dimensions is a requested pixel size. Retrieval reduces it to the
// longer edge when choosing a rendition.
type Dimensions struct {
	Width  int `cbor:"width"`
	Height int `cbor:"height"`
}

// Edge returns the longer edge.
func (d Dimensions) Edge() int {
	if d.Width > d.Height {
		return d.Width
	}
	return d.Height
}

// ThumbRequest identifies one thumbnail operation. Identity for
// deduplication and lookup is (LibraryID, ImageID); Size only affects
// which rendition a retrieval returns, and ImageURL is only consulted
// when generation has to read the source image.
type ThumbRequest struct {
	LibraryID uuid.UUID   `cbor:"library-id"`
	ImageID   uuid.UUID   `cbor:"image-id"`
	ImageURL  string      `cbor:"image-url,omitempty"`
	Size      *Dimensions `cbor:"size,omitempty"`
}

// Key returns the request's directory lookup key.
func (r ThumbRequest) Key() thumbdir.Key {
	return thumbdir.Key{LibraryID: r.LibraryID, ImageID: r.ImageID}
}

// edge returns the requested longer edge, or 0 for "largest/any".
func (r ThumbRequest) edge() int {
	if r.Size == nil {
		return 0
	}
	return r.Size.Edge()
}
