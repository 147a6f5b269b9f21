// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Chunk file format constants.
const (
	// chunkVersion is the current format version, embedded in the
	// magic bytes.
	chunkVersion = 1

	// chunkHeaderSize is the fixed header: 8-byte magic + 4-byte
	// entry count.
	chunkHeaderSize = 12

	// entryIndexSize is the size of each index entry: 16-byte entry
	// UUID + 1-byte compression tag + 3 reserved + 4-byte compressed
	// size + 4-byte uncompressed size + 32-byte entry hash + 4
	// reserved. The reserved bytes keep the uint32 fields 4-byte
	// aligned and the entry stride at 64 bytes.
	entryIndexSize = 64
)

// chunkMagic is the 8-byte chunk file signature.
var chunkMagic = [8]byte{'L', 'U', 'S', 'T', 'R', 'E', chunkVersion, 0}

// chunkEntry is one entry as held in a parsed chunk: the index record
// plus the compressed payload.
type chunkEntry struct {
	ID               uuid.UUID
	Compression      CompressionTag
	CompressedSize   uint32
	UncompressedSize uint32
	Hash             Hash
	Data             []byte // compressed payload
}

// chunkFile is the in-memory form of one chunk. The store loads a
// chunk wholesale, mutates this structure, and flushes it back
// through a temp file. Entries preserve insertion order.
type chunkFile struct {
	entries []chunkEntry
}

// find returns the index of the entry with the given ID, or -1.
func (c *chunkFile) find(entryID uuid.UUID) int {
	for i := range c.entries {
		if c.entries[i].ID == entryID {
			return i
		}
	}
	return -1
}

// dataSize returns the total compressed payload size.
func (c *chunkFile) dataSize() int64 {
	var total int64
	for i := range c.entries {
		total += int64(len(c.entries[i].Data))
	}
	return total
}

// flush writes the complete chunk file to w: magic, entry count, the
// fixed-size index, then payloads in index order. A chunk with zero
// entries is valid — discards can empty a chunk, and empty chunks are
// deliberately not reclaimed (a future compaction pass owns that).
func (c *chunkFile) flush(w io.Writer) error {
	if _, err := w.Write(chunkMagic[:]); err != nil {
		return fmt.Errorf("writing chunk magic: %w", err)
	}

	var countBytes [4]byte
	binary.LittleEndian.PutUint32(countBytes[:], uint32(len(c.entries)))
	if _, err := w.Write(countBytes[:]); err != nil {
		return fmt.Errorf("writing entry count: %w", err)
	}

	for i := range c.entries {
		entry := &c.entries[i]

		if _, err := w.Write(entry.ID[:]); err != nil {
			return fmt.Errorf("writing entry %d id: %w", i, err)
		}

		var tagAndReserved [4]byte
		tagAndReserved[0] = byte(entry.Compression)
		if _, err := w.Write(tagAndReserved[:]); err != nil {
			return fmt.Errorf("writing entry %d compression tag: %w", i, err)
		}

		var sizeBytes [4]byte
		binary.LittleEndian.PutUint32(sizeBytes[:], uint32(len(entry.Data)))
		if _, err := w.Write(sizeBytes[:]); err != nil {
			return fmt.Errorf("writing entry %d compressed size: %w", i, err)
		}

		binary.LittleEndian.PutUint32(sizeBytes[:], entry.UncompressedSize)
		if _, err := w.Write(sizeBytes[:]); err != nil {
			return fmt.Errorf("writing entry %d uncompressed size: %w", i, err)
		}

		if _, err := w.Write(entry.Hash[:]); err != nil {
			return fmt.Errorf("writing entry %d hash: %w", i, err)
		}

		var reserved [4]byte
		if _, err := w.Write(reserved[:]); err != nil {
			return fmt.Errorf("writing entry %d reserved bytes: %w", i, err)
		}
	}

	for i := range c.entries {
		if _, err := w.Write(c.entries[i].Data); err != nil {
			return fmt.Errorf("writing entry %d data: %w", i, err)
		}
	}

	return nil
}

// parseChunk reads a complete chunk file from r. Structural problems
// (bad magic, truncated index or data, reserved bytes set) return
// errors wrapping ErrCorrupt. Entry hashes are verified lazily on
// access, not here — parsing stays cheap for cache preloads of
// chunks whose entries may never all be read.
func parseChunk(r io.Reader) (*chunkFile, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: reading chunk magic: %v", ErrCorrupt, err)
	}
	if magic != chunkMagic {
		if magic[0] == 'L' && magic[1] == 'U' && magic[2] == 'S' &&
			magic[3] == 'T' && magic[4] == 'R' && magic[5] == 'E' {
			return nil, fmt.Errorf("%w: chunk format version %d is not supported (this code supports version %d)",
				ErrCorrupt, magic[6], chunkVersion)
		}
		return nil, fmt.Errorf("%w: not a Lustre chunk file (invalid magic bytes)", ErrCorrupt)
	}

	var countBytes [4]byte
	if _, err := io.ReadFull(r, countBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: reading entry count: %v", ErrCorrupt, err)
	}
	entryCount := binary.LittleEndian.Uint32(countBytes[:])

	chunk := &chunkFile{entries: make([]chunkEntry, entryCount)}

	for i := uint32(0); i < entryCount; i++ {
		entry := &chunk.entries[i]

		var id [16]byte
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, fmt.Errorf("%w: reading entry %d id: %v", ErrCorrupt, i, err)
		}
		entry.ID = uuid.UUID(id)

		var tagAndReserved [4]byte
		if _, err := io.ReadFull(r, tagAndReserved[:]); err != nil {
			return nil, fmt.Errorf("%w: reading entry %d compression tag: %v", ErrCorrupt, i, err)
		}
		tag := CompressionTag(tagAndReserved[0])
		if tag > CompressionZstd {
			return nil, fmt.Errorf("%w: entry %d has unsupported compression tag %d", ErrCorrupt, i, tag)
		}
		entry.Compression = tag
		if tagAndReserved[1] != 0 || tagAndReserved[2] != 0 || tagAndReserved[3] != 0 {
			return nil, fmt.Errorf("%w: entry %d has non-zero reserved bytes after compression tag", ErrCorrupt, i)
		}

		var sizeBytes [4]byte
		if _, err := io.ReadFull(r, sizeBytes[:]); err != nil {
			return nil, fmt.Errorf("%w: reading entry %d compressed size: %v", ErrCorrupt, i, err)
		}
		entry.CompressedSize = binary.LittleEndian.Uint32(sizeBytes[:])

		if _, err := io.ReadFull(r, sizeBytes[:]); err != nil {
			return nil, fmt.Errorf("%w: reading entry %d uncompressed size: %v", ErrCorrupt, i, err)
		}
		entry.UncompressedSize = binary.LittleEndian.Uint32(sizeBytes[:])

		if _, err := io.ReadFull(r, entry.Hash[:]); err != nil {
			return nil, fmt.Errorf("%w: reading entry %d hash: %v", ErrCorrupt, i, err)
		}

		var reserved [4]byte
		if _, err := io.ReadFull(r, reserved[:]); err != nil {
			return nil, fmt.Errorf("%w: reading entry %d reserved bytes: %v", ErrCorrupt, i, err)
		}
		if reserved != [4]byte{} {
			return nil, fmt.Errorf("%w: entry %d has non-zero trailing reserved bytes", ErrCorrupt, i)
		}
	}

	for i := range chunk.entries {
		entry := &chunk.entries[i]
		entry.Data = make([]byte, entry.CompressedSize)
		if _, err := io.ReadFull(r, entry.Data); err != nil {
			return nil, fmt.Errorf("%w: reading entry %d data (%d bytes): %v",
				ErrCorrupt, i, entry.CompressedSize, err)
		}
	}

	return chunk, nil
}

// extract decompresses and verifies one entry, returning its
// uncompressed bytes.
func (c *chunkFile) extract(index int) ([]byte, error) {
	entry := &c.entries[index]

	data, err := Decompress(entry.Data, entry.Compression, int(entry.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing entry %s: %v", ErrCorrupt, entry.ID, err)
	}

	if actual := HashEntry(data); actual != entry.Hash {
		return nil, fmt.Errorf("%w: entry %s hash mismatch: index has %s, data hashes to %s",
			ErrCorrupt, entry.ID, FormatHash(entry.Hash), FormatHash(actual))
	}

	return data, nil
}
