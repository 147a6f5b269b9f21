// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import "errors"

// Sentinel errors for the store's failure classes. Callers match with
// errors.Is; every returned error wraps exactly one of these (plus
// context) so the caller can distinguish "generate it" (ErrNotFound)
// from "the disk is unhappy" (ErrReadFailed, ErrWriteFailed) from
// "the bytes are lying" (ErrCorrupt).
var (
	// ErrNotFound means the chunk file is missing or the entry ID is
	// absent from the chunk's index. Never fatal — the caller decides
	// whether to trigger generation.
	ErrNotFound = errors.New("chunk entry not found")

	// ErrReadFailed wraps disk I/O failures on the read path.
	ErrReadFailed = errors.New("chunk read failed")

	// ErrWriteFailed wraps disk I/O failures on the write path.
	ErrWriteFailed = errors.New("chunk write failed")

	// ErrCorrupt means a chunk file parsed but its contents failed
	// validation: bad magic, truncated index, or an entry whose
	// BLAKE3 hash does not match the index record.
	ErrCorrupt = errors.New("chunk file corrupt")

	// ErrNoMoveTransaction is returned by operations that require an
	// active move transaction (SetRoot, EndMoveTransaction) when none
	// has been begun.
	ErrNoMoveTransaction = errors.New("no move transaction active")
)
