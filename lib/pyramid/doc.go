// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// Package pyramid builds and reads thumbnail pyramid containers.
//
// A pyramid is the set of renditions generated for one source image:
// the same picture resized to several target edge lengths and encoded
// as JPEG. All renditions for an image are packed into a single
// container blob, which is what the chunk store persists — one chunk
// store entry per image, not per size.
//
// The container format is a fixed header (magic and rendition count),
// a fixed-stride index (target edge, actual width, actual height,
// payload length per rendition), then the JPEG payloads in index
// order. Renditions are ordered by ascending target edge.
//
// Resizing preserves aspect ratio: the longer edge of the source is
// scaled to the level's target edge and the shorter edge follows.
// Levels whose target edge exceeds the source's longer edge are
// skipped rather than upscaled, so a small source yields a small
// pyramid — possibly an empty one.
package pyramid
