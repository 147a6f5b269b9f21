// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
)

// DefaultCacheBytes is the chunk cache budget used when the cache is
// configured as "auto" (64 MiB — roughly two full chunks).
const DefaultCacheBytes = 64 * 1024 * 1024

// cachedChunk holds one chunk's entries decompressed and verified,
// ready to serve reads without touching disk.
type cachedChunk struct {
	chunkID uuid.UUID
	entries map[uuid.UUID][]byte
	bytes   int64
}

// chunkCache is a byte-bounded LRU of decompressed chunks. Reads and
// preloads populate it; writes and deletes invalidate the affected
// chunk so the next read reloads from disk.
//
// All methods are safe for concurrent use.
type chunkCache struct {
	mu       sync.Mutex
	maxBytes int64
	bytes    int64
	order    *list.List // front = most recently used, values *cachedChunk
	index    map[uuid.UUID]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

func newChunkCache(maxBytes int64) *chunkCache {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheBytes
	}
	return &chunkCache{
		maxBytes: maxBytes,
		order:    list.New(),
		index:    make(map[uuid.UUID]*list.Element),
	}
}

// getEntry returns a copy of one entry's bytes on hit. The copy keeps
// callers from mutating cached data out from under other readers.
func (c *chunkCache) getEntry(chunkID, entryID uuid.UUID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, found := c.index[chunkID]
	if !found {
		c.misses++
		return nil, false
	}
	cached := element.Value.(*cachedChunk)
	data, found := cached.entries[entryID]
	if !found {
		// Chunk resident but entry absent. Writes invalidate the
		// chunk, so this usually means the entry truly does not
		// exist — still fall through to disk, which is
		// authoritative.
		c.misses++
		return nil, false
	}

	c.hits++
	c.order.MoveToFront(element)

	result := make([]byte, len(data))
	copy(result, data)
	return result, true
}

// contains reports whether a chunk is resident, without touching
// recency.
func (c *chunkCache) contains(chunkID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, found := c.index[chunkID]
	return found
}

// put inserts or replaces a chunk, evicting least-recently-used
// chunks until the budget is met. A chunk larger than the entire
// budget is not cached.
func (c *chunkCache) put(chunkID uuid.UUID, entries map[uuid.UUID][]byte) {
	var chunkBytes int64
	for _, data := range entries {
		chunkBytes += int64(len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, found := c.index[chunkID]; found {
		c.bytes -= element.Value.(*cachedChunk).bytes
		c.order.Remove(element)
		delete(c.index, chunkID)
	}

	if chunkBytes > c.maxBytes {
		return
	}

	for c.bytes+chunkBytes > c.maxBytes {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*cachedChunk)
		c.bytes -= evicted.bytes
		c.order.Remove(oldest)
		delete(c.index, evicted.chunkID)
		c.evictions++
	}

	element := c.order.PushFront(&cachedChunk{
		chunkID: chunkID,
		entries: entries,
		bytes:   chunkBytes,
	})
	c.index[chunkID] = element
	c.bytes += chunkBytes
}

// invalidate drops a chunk from the cache. Called on every write or
// delete touching the chunk.
func (c *chunkCache) invalidate(chunkID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, found := c.index[chunkID]
	if !found {
		return
	}
	c.bytes -= element.Value.(*cachedChunk).bytes
	c.order.Remove(element)
	delete(c.index, chunkID)
}

// clear drops everything. Used when the storage root moves — cached
// chunks remain logically valid, but dropping them keeps the cache an
// honest reflection of the new root.
func (c *chunkCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[uuid.UUID]*list.Element)
	c.bytes = 0
}

// resize adjusts the byte budget, evicting as needed.
func (c *chunkCache) resize(maxBytes int64) {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheBytes
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxBytes = maxBytes
	for c.bytes > c.maxBytes {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*cachedChunk)
		c.bytes -= evicted.bytes
		c.order.Remove(oldest)
		delete(c.index, evicted.chunkID)
		c.evictions++
	}
}

// CacheStats holds chunk cache utilization counters.
type CacheStats struct {
	MaxBytes  int64
	Bytes     int64
	Chunks    int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

func (c *chunkCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		MaxBytes:  c.maxBytes,
		Bytes:     c.bytes,
		Chunks:    len(c.index),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
