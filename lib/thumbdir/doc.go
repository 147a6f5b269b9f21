// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// Package thumbdir is the thumbnail metadata directory: it maps
// (library, image) pairs to the chunk and entry holding their pyramid
// bytes.
//
// The directory is an in-memory catalog with batched SQLite
// persistence. All lookups and mutations touch only the in-memory
// maps; Save flushes accumulated mutations in one transaction. The
// engine calls Save once per generation or discard batch, not per
// item, so a batch of a thousand thumbnails costs one transaction.
//
// Referential integrity between the directory and the chunk store is
// maintained by the engine's ordering, not by the database: pyramid
// bytes are always written to the chunk store before the directory
// records them, so a crash mid-batch leaves an orphan chunk entry at
// worst, never a directory record pointing at missing bytes.
package thumbdir
