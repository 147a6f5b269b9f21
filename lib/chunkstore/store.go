// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Directory names within the storage root.
const (
	chunksDir = "chunks"
	tmpDir    = "tmp"
)

// MaxChunkEntries is the target maximum number of entries per chunk.
// A fresh chunk is opened once the current one reaches this count.
const MaxChunkEntries = 256

// MaxChunkBytes is the target maximum compressed payload size per
// chunk (~32 MiB). This is a soft limit: the entry that crosses it is
// still placed in the current chunk, then a fresh chunk is opened.
const MaxChunkBytes = 32 * 1024 * 1024

// Entry is one blob handed to the store for writing.
type Entry struct {
	// ID is the entry's identity within its chunk, assigned by the
	// thumbnail directory (the chunkEntryIdentifier of a thumbnail
	// record).
	ID uuid.UUID

	// Data is the uncompressed payload — for thumbnails, a pyramid
	// container.
	Data []byte
}

// Store manages chunk files under a configurable storage root. Writes
// to distinct chunks proceed in parallel; writes to the same chunk
// serialize on a per-chunk mutex. Every operation holds the move lock
// in read mode, so an active move transaction drains in-flight work
// and queues new work until the root is stable again.
type Store struct {
	// moveMu is the move-transaction lock. All entry operations hold
	// it in read mode for their full duration; BeginMoveTransaction
	// takes it in write mode. root is written only while the write
	// lock is held, and additionally under mu so Root can read it
	// without queuing behind an active transaction.
	moveMu     sync.RWMutex
	root       string
	moveActive bool // guarded by holding moveMu in write mode

	// mu guards the per-chunk lock table and open-chunk placement
	// accounting.
	mu          sync.Mutex
	chunkLocks  map[uuid.UUID]*sync.Mutex
	openChunk   uuid.UUID
	openEntries int
	openBytes   int64

	cache  *chunkCache
	logger *slog.Logger
}

// NewStore creates a Store rooted at the given directory, creating
// the directory structure if needed. cacheBytes bounds the chunk
// cache; zero or negative means DefaultCacheBytes.
func NewStore(root string, cacheBytes int64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := ensureRootLayout(root); err != nil {
		return nil, err
	}
	return &Store{
		root:       root,
		chunkLocks: make(map[uuid.UUID]*sync.Mutex),
		cache:      newChunkCache(cacheBytes),
		logger:     logger,
	}, nil
}

// ensureRootLayout creates the root, chunks, and tmp directories.
func ensureRootLayout(root string) error {
	for _, dir := range []string{root, filepath.Join(root, chunksDir), filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteEntry compresses and appends an entry, assigning or reusing a
// chunk, and returns the chunk ID the entry landed in. If the entry
// ID already exists in the target chunk, its payload is replaced.
//
// Safe for concurrent use; only same-chunk writes serialize.
func (s *Store) WriteEntry(entry Entry) (uuid.UUID, error) {
	s.moveMu.RLock()
	defer s.moveMu.RUnlock()

	compressed, tag, err := CompressAuto(entry.Data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: compressing entry %s: %v", ErrWriteFailed, entry.ID, err)
	}

	chunkID, lock := s.placeEntry(int64(len(compressed)))

	lock.Lock()
	defer lock.Unlock()

	chunk, err := s.loadChunkForWrite(chunkID)
	if err != nil {
		s.unplaceEntry(chunkID, int64(len(compressed)))
		return uuid.Nil, err
	}

	record := chunkEntry{
		ID:               entry.ID,
		Compression:      tag,
		CompressedSize:   uint32(len(compressed)),
		UncompressedSize: uint32(len(entry.Data)),
		Hash:             HashEntry(entry.Data),
		Data:             compressed,
	}
	if existing := chunk.find(entry.ID); existing >= 0 {
		chunk.entries[existing] = record
	} else {
		chunk.entries = append(chunk.entries, record)
	}

	if err := s.flushChunk(chunkID, chunk); err != nil {
		s.unplaceEntry(chunkID, int64(len(compressed)))
		return uuid.Nil, err
	}

	s.cache.invalidate(chunkID)
	return chunkID, nil
}

// GetEntry returns the uncompressed bytes of one entry. Serves from
// the chunk cache when possible; a disk read populates the cache with
// the whole chunk. Fails with ErrNotFound when the chunk file is
// missing or the entry ID is absent from it.
func (s *Store) GetEntry(chunkID, entryID uuid.UUID) ([]byte, error) {
	s.moveMu.RLock()
	defer s.moveMu.RUnlock()

	if data, hit := s.cache.getEntry(chunkID, entryID); hit {
		return data, nil
	}

	chunk, err := s.readChunk(chunkID)
	if err != nil {
		return nil, err
	}

	index := chunk.find(entryID)
	if index < 0 {
		return nil, fmt.Errorf("%w: entry %s not in chunk %s", ErrNotFound, entryID, chunkID)
	}

	data, err := chunk.extract(index)
	if err != nil {
		return nil, err
	}

	s.populateCache(chunkID, chunk)
	return data, nil
}

// DeleteEntry removes one entry's bytes from its chunk. Fails with
// ErrNotFound analogous to GetEntry. A chunk left with zero entries
// stays on disk — empty-chunk reclamation is deliberately deferred to
// a future compaction pass.
func (s *Store) DeleteEntry(chunkID, entryID uuid.UUID) error {
	s.moveMu.RLock()
	defer s.moveMu.RUnlock()

	lock := s.lockFor(chunkID)
	lock.Lock()
	defer lock.Unlock()

	chunk, err := s.readChunk(chunkID)
	if err != nil {
		return err
	}

	index := chunk.find(entryID)
	if index < 0 {
		return fmt.Errorf("%w: entry %s not in chunk %s", ErrNotFound, entryID, chunkID)
	}
	chunk.entries = append(chunk.entries[:index], chunk.entries[index+1:]...)

	if err := s.flushChunk(chunkID, chunk); err != nil {
		return err
	}

	s.cache.invalidate(chunkID)
	return nil
}

// PreloadChunk pulls a chunk into the cache without returning any
// entry. Best-effort: all failures are logged and swallowed — callers
// use this purely as a latency hint ahead of anticipated reads.
func (s *Store) PreloadChunk(chunkID uuid.UUID) {
	s.moveMu.RLock()
	defer s.moveMu.RUnlock()

	if s.cache.contains(chunkID) {
		return
	}

	chunk, err := s.readChunk(chunkID)
	if err != nil {
		s.logger.Debug("chunk preload failed", "chunk", chunkID, "error", err)
		return
	}
	s.populateCache(chunkID, chunk)
}

// BeginMoveTransaction acquires exclusive access to the storage root.
// In-flight entry operations complete first; new ones queue until
// EndMoveTransaction. The caller must guarantee EndMoveTransaction
// runs on every exit path, typically via defer.
func (s *Store) BeginMoveTransaction() {
	s.moveMu.Lock()
	s.moveActive = true
}

// EndMoveTransaction releases the exclusive root access taken by
// BeginMoveTransaction. Returns ErrNoMoveTransaction if none is
// active.
func (s *Store) EndMoveTransaction() error {
	if !s.moveActive {
		return ErrNoMoveTransaction
	}
	s.moveActive = false
	s.moveMu.Unlock()
	return nil
}

// SetRoot changes the storage root. Legal only inside a move
// transaction — the caller owns copying or creating the new root's
// contents. The chunk cache is dropped so it never serves data from
// the abandoned root, and open-chunk placement restarts.
func (s *Store) SetRoot(newRoot string) error {
	if !s.moveActive {
		return ErrNoMoveTransaction
	}
	if err := ensureRootLayout(newRoot); err != nil {
		return err
	}

	s.mu.Lock()
	s.root = newRoot
	s.openChunk = uuid.Nil
	s.openEntries = 0
	s.openBytes = 0
	s.mu.Unlock()

	s.cache.clear()
	return nil
}

// Root returns the current storage root. Safe to call at any time,
// including while a move transaction is active — it reports whichever
// root the store is configured with at that instant.
func (s *Store) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// SpaceUsed walks the storage root and sums file sizes. I/O failures
// return an error rather than a partial count.
func (s *Store) SpaceUsed() (int64, error) {
	s.moveMu.RLock()
	defer s.moveMu.RUnlock()

	var total int64
	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: measuring space under %s: %v", ErrReadFailed, s.root, err)
	}
	return total, nil
}

// Stats returns chunk cache utilization counters.
func (s *Store) Stats() CacheStats {
	return s.cache.stats()
}

// ResizeCache adjusts the chunk cache byte budget. Takes effect
// immediately, evicting as needed.
func (s *Store) ResizeCache(maxBytes int64) {
	s.cache.resize(maxBytes)
}

// placeEntry picks the chunk for a new write and returns its lock.
// The open chunk accepts entries until it reaches the entry or byte
// limit, then a fresh chunk UUID is assigned. Chunk files are created
// lazily by the first flush.
func (s *Store) placeEntry(compressedBytes int64) (uuid.UUID, *sync.Mutex) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openChunk == uuid.Nil || s.openEntries >= MaxChunkEntries || s.openBytes >= MaxChunkBytes {
		s.openChunk = uuid.New()
		s.openEntries = 0
		s.openBytes = 0
	}
	s.openEntries++
	s.openBytes += compressedBytes

	return s.openChunk, s.lockForLocked(s.openChunk)
}

// unplaceEntry reverses placeEntry's accounting after a failed write,
// so failures do not push the open chunk toward rollover. A no-op if
// placement has already moved on to a fresh chunk.
func (s *Store) unplaceEntry(chunkID uuid.UUID, compressedBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openChunk != chunkID {
		return
	}
	s.openEntries--
	s.openBytes -= compressedBytes
}

// lockFor returns the mutex serializing writes to one chunk.
func (s *Store) lockFor(chunkID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockForLocked(chunkID)
}

func (s *Store) lockForLocked(chunkID uuid.UUID) *sync.Mutex {
	lock, found := s.chunkLocks[chunkID]
	if !found {
		lock = &sync.Mutex{}
		s.chunkLocks[chunkID] = lock
	}
	return lock
}

// chunkPath returns the chunk's file path under the current root.
// Callers hold moveMu.
func (s *Store) chunkPath(chunkID uuid.UUID) string {
	return filepath.Join(s.root, chunksDir, chunkID.String()+".chunk")
}

// readChunk loads and parses a chunk file.
func (s *Store) readChunk(chunkID uuid.UUID) (*chunkFile, error) {
	file, err := os.Open(s.chunkPath(chunkID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: chunk %s has no file on disk", ErrNotFound, chunkID)
		}
		return nil, fmt.Errorf("%w: opening chunk %s: %v", ErrReadFailed, chunkID, err)
	}
	defer file.Close()

	chunk, err := parseChunk(file)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", chunkID, err)
	}
	return chunk, nil
}

// loadChunkForWrite loads an existing chunk, or returns an empty one
// if the file does not exist yet (lazy chunk creation).
func (s *Store) loadChunkForWrite(chunkID uuid.UUID) (*chunkFile, error) {
	chunk, err := s.readChunk(chunkID)
	if err == nil {
		return chunk, nil
	}
	if errors.Is(err, ErrNotFound) {
		return &chunkFile{}, nil
	}
	return nil, err
}

// flushChunk writes a chunk file via temp file + atomic rename, so a
// failed write never corrupts entries already on disk.
func (s *Store) flushChunk(chunkID uuid.UUID, chunk *chunkFile) error {
	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "chunk-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp chunk file: %v", ErrWriteFailed, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := chunk.flush(tmpFile); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: flushing chunk %s: %v", ErrWriteFailed, chunkID, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: closing temp chunk file: %v", ErrWriteFailed, err)
	}

	if err := os.Rename(tmpPath, s.chunkPath(chunkID)); err != nil {
		return fmt.Errorf("%w: renaming chunk %s into place: %v", ErrWriteFailed, chunkID, err)
	}

	success = true
	return nil
}

// populateCache extracts every entry of a parsed chunk and installs
// the result. Entries that fail extraction are skipped — the cache
// only ever holds verified bytes.
func (s *Store) populateCache(chunkID uuid.UUID, chunk *chunkFile) {
	entries := make(map[uuid.UUID][]byte, len(chunk.entries))
	for i := range chunk.entries {
		data, err := chunk.extract(i)
		if err != nil {
			s.logger.Warn("skipping corrupt entry during cache fill",
				"chunk", chunkID,
				"entry", chunk.entries[i].ID,
				"error", err,
			)
			continue
		}
		entries[chunk.entries[i].ID] = data
	}
	s.cache.put(chunkID, entries)
}
