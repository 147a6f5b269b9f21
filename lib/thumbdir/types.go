// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package thumbdir

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a thumbnail record that does not exist.
	ErrNotFound = errors.New("thumbnail not found")

	// ErrSaveFailed indicates a Save that could not persist the
	// pending mutations. The in-memory state keeps the mutations, so
	// a later Save retries them.
	ErrSaveFailed = errors.New("directory save failed")
)

// Key identifies one thumbnail: which image, in which library.
type Key struct {
	LibraryID uuid.UUID
	ImageID   uuid.UUID
}

// Thumbnail is one directory record. ChunkEntryID is assigned at
// creation; ChunkID is attached after the pyramid bytes land in the
// chunk store, so a freshly made record briefly has a nil ChunkID.
type Thumbnail struct {
	LibraryID    uuid.UUID
	ImageID      uuid.UUID
	ChunkEntryID uuid.UUID
	ChunkID      uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key returns the thumbnail's lookup key.
func (t Thumbnail) Key() Key {
	return Key{LibraryID: t.LibraryID, ImageID: t.ImageID}
}

// HasChunk reports whether the record points at stored bytes.
func (t Thumbnail) HasChunk() bool {
	return t.ChunkID != uuid.Nil
}

// Chunk is the directory-side view of one chunk store container.
type Chunk struct {
	ID        uuid.UUID
	CreatedAt time.Time
}
