// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkstore implements the blob layer of the thumbnail
// engine: opaque byte entries grouped into chunk files on disk, with
// an in-memory chunk cache and an exclusive move-transaction mode for
// relocating the storage root while the engine is live.
//
// The package is organized in layers:
//
//   - Hashing: BLAKE3 keyed hashing over uncompressed entry bytes.
//     Every entry carries its hash in the chunk index and is verified
//     on read, so disk corruption surfaces as a typed error instead
//     of a garbled thumbnail.
//
//   - Compression: per-entry transparent compression (none, LZ4,
//     zstd) with automatic fallback to none for incompressible data.
//     Thumbnail pyramids are JPEG containers and almost always fall
//     back, but the store is a general blob layer and other derived
//     data (metadata sidecars, depth maps) compresses well.
//
//   - Chunk files: a binary format with a fixed-layout index before
//     the data, so a single read of the header yields every entry's
//     identity, placement, and hash. Chunks are rewritten through a
//     temp file and renamed into place — a failed write never
//     corrupts sibling entries.
//
//   - Store: entry placement (an open chunk accepts appends until it
//     reaches its entry or byte limit), per-chunk write serialization
//     with cross-chunk parallelism, the chunk cache, and the move
//     transaction that gates every disk touch during relocation.
//
// Entries and chunks are identified by UUIDs rather than content
// hashes: an entry is replaced in place on regeneration, so its
// identity must survive a content change.
package chunkstore
