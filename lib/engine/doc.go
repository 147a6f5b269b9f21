// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the thumbnail engine: it ties the chunk store,
// the thumbnail directory, and the pyramid builder together behind
// the operations the daemon exposes.
//
// The engine is an explicitly constructed instance — callers create
// one with New and inject it wherever it is needed. WakeUp opens the
// directory and store lazily; every other operation requires a woken
// engine.
//
// Generation runs on a bounded, resizable worker pool with in-flight
// deduplication: at most one generation task per (library, image) per
// path (new or update) at any time. Retrieval runs on its own worker
// pool so a flood of generation work cannot starve reads. Discards
// racing an in-flight generation are skipped and logged — generation
// wins, and the caller can discard again once it settles.
package engine
