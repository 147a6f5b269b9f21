// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package thumbdir

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/lustre-photos/lustre/lib/clock"
	"github.com/lustre-photos/lustre/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS libraries (
	id        BLOB PRIMARY KEY,
	opened_at INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS chunks (
	id         BLOB PRIMARY KEY,
	created_at INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS thumbnails (
	library_id     BLOB NOT NULL,
	image_id       BLOB NOT NULL,
	chunk_entry_id BLOB NOT NULL,
	chunk_id       BLOB,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	PRIMARY KEY (library_id, image_id)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS thumbnails_by_chunk ON thumbnails (chunk_id);
`

// Config holds the parameters for opening a directory.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 2 if zero or negative — the directory is single-writer with
	// batched saves, so it needs little concurrency.
	PoolSize int

	// Clock provides record timestamps.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Directory is the in-memory thumbnail catalog with batched SQLite
// persistence. All methods are safe for concurrent use; lookups and
// mutations queue behind an in-progress Save.
type Directory struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	thumbs    map[Key]Thumbnail
	chunks    map[uuid.UUID]Chunk
	libraries map[uuid.UUID]time.Time

	// Mutation tracking for the next Save. A key in deletedThumbs is
	// never simultaneously in dirtyThumbs.
	dirtyThumbs    map[Key]struct{}
	deletedThumbs  map[Key]struct{}
	dirtyChunks    map[uuid.UUID]struct{}
	dirtyLibraries map[uuid.UUID]struct{}
}

// Open opens (creating if needed) the directory database and loads
// the full catalog into memory.
func Open(cfg Config) (*Directory, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("thumbnail directory: %w", err)
	}

	directory := &Directory{
		pool:           pool,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		thumbs:         make(map[Key]Thumbnail),
		chunks:         make(map[uuid.UUID]Chunk),
		libraries:      make(map[uuid.UUID]time.Time),
		dirtyThumbs:    make(map[Key]struct{}),
		deletedThumbs:  make(map[Key]struct{}),
		dirtyChunks:    make(map[uuid.UUID]struct{}),
		dirtyLibraries: make(map[uuid.UUID]struct{}),
	}

	if err := directory.load(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("thumbnail directory: %w", err)
	}

	directory.logger.Info("thumbnail directory opened",
		"path", cfg.Path,
		"thumbnails", len(directory.thumbs),
		"chunks", len(directory.chunks),
		"libraries", len(directory.libraries),
	)
	return directory, nil
}

// Close closes the underlying connection pool. Pending unsaved
// mutations are lost; call Save first.
func (d *Directory) Close() error {
	return d.pool.Close()
}

// load creates the schema and reads the full catalog.
func (d *Directory) load(ctx context.Context) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer d.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	err = sqlitex.Execute(conn, "SELECT id, opened_at FROM libraries", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			d.libraries[readUUID(stmt, 0)] = time.Unix(0, stmt.ColumnInt64(1))
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("loading libraries: %w", err)
	}

	err = sqlitex.Execute(conn, "SELECT id, created_at FROM chunks", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id := readUUID(stmt, 0)
			d.chunks[id] = Chunk{ID: id, CreatedAt: time.Unix(0, stmt.ColumnInt64(1))}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("loading chunks: %w", err)
	}

	err = sqlitex.Execute(conn,
		"SELECT library_id, image_id, chunk_entry_id, chunk_id, created_at, updated_at FROM thumbnails",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				thumb := Thumbnail{
					LibraryID:    readUUID(stmt, 0),
					ImageID:      readUUID(stmt, 1),
					ChunkEntryID: readUUID(stmt, 2),
					CreatedAt:    time.Unix(0, stmt.ColumnInt64(4)),
					UpdatedAt:    time.Unix(0, stmt.ColumnInt64(5)),
				}
				if !stmt.ColumnIsNull(3) {
					thumb.ChunkID = readUUID(stmt, 3)
				}
				d.thumbs[thumb.Key()] = thumb
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("loading thumbnails: %w", err)
	}

	return nil
}

// readUUID copies a 16-byte blob column into a UUID.
func readUUID(stmt *sqlite.Stmt, column int) uuid.UUID {
	var id uuid.UUID
	stmt.ColumnBytes(column, id[:])
	return id
}

// Relocate switches the backing database to a new path, keeping the
// in-memory catalog and pending mutations intact. Used when the
// storage root (which holds the database file) moves: the new database
// starts empty with the schema in place, so the caller must follow up
// with SaveAll to rebuild it from the catalog.
func (d *Directory) Relocate(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 2,
		Logger:   d.logger,
	})
	if err != nil {
		return fmt.Errorf("thumbnail directory: relocating to %s: %w", path, err)
	}

	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return fmt.Errorf("thumbnail directory: relocating to %s: %w", path, err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return fmt.Errorf("thumbnail directory: relocating to %s: creating schema: %w", path, err)
	}

	if err := d.pool.Close(); err != nil {
		d.logger.Warn("closing old directory database failed", "error", err)
	}
	d.pool = pool
	d.logger.Info("thumbnail directory relocated", "path", path)
	return nil
}

// GetThumb looks up a thumbnail record. Pure in-memory lookup.
func (d *Directory) GetThumb(key Key) (Thumbnail, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	thumb, found := d.thumbs[key]
	return thumb, found
}

// MakeThumb creates a record for the key with a fresh chunk entry
// identifier. The caller writes the pyramid bytes under that entry ID
// and then calls AttachChunk with the resulting chunk. An existing
// record for the key is replaced.
func (d *Directory) MakeThumb(key Key) Thumbnail {
	now := d.clock.Now()
	thumb := Thumbnail{
		LibraryID:    key.LibraryID,
		ImageID:      key.ImageID,
		ChunkEntryID: uuid.New(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.thumbs[key] = thumb
	d.dirtyThumbs[key] = struct{}{}
	delete(d.deletedThumbs, key)
	return thumb
}

// AttachChunk points an existing record at the chunk its entry landed
// in, materializing the chunk object if needed.
func (d *Directory) AttachChunk(key Key, chunkID uuid.UUID) error {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	thumb, found := d.thumbs[key]
	if !found {
		return fmt.Errorf("%w: library %s image %s", ErrNotFound, key.LibraryID, key.ImageID)
	}

	d.makeOrGetChunkLocked(chunkID, now)

	thumb.ChunkID = chunkID
	thumb.UpdatedAt = now
	d.thumbs[key] = thumb
	d.dirtyThumbs[key] = struct{}{}
	return nil
}

// MakeOrGetChunk materializes the directory-side object for a chunk.
// Idempotent.
func (d *Directory) MakeOrGetChunk(chunkID uuid.UUID) Chunk {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.makeOrGetChunkLocked(chunkID, now)
}

func (d *Directory) makeOrGetChunkLocked(chunkID uuid.UUID, now time.Time) Chunk {
	if chunk, found := d.chunks[chunkID]; found {
		return chunk
	}
	chunk := Chunk{ID: chunkID, CreatedAt: now}
	d.chunks[chunkID] = chunk
	d.dirtyChunks[chunkID] = struct{}{}
	return chunk
}

// Restore reinstates a previously fetched record verbatim, including
// its chunk entry identifier. Used to roll back after a failed
// re-point: MakeThumb would mint a fresh entry ID, which must not
// happen when the stored bytes still live under the old one.
func (d *Directory) Restore(thumb Thumbnail) {
	key := thumb.Key()

	d.mu.Lock()
	defer d.mu.Unlock()

	if thumb.ChunkID != uuid.Nil {
		d.makeOrGetChunkLocked(thumb.ChunkID, thumb.UpdatedAt)
	}
	d.thumbs[key] = thumb
	d.dirtyThumbs[key] = struct{}{}
	delete(d.deletedThumbs, key)
}

// Remove deletes a record, returning the removed record so the caller
// can delete its chunk entry. The second return is false if no record
// existed.
func (d *Directory) Remove(key Key) (Thumbnail, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	thumb, found := d.thumbs[key]
	if !found {
		return Thumbnail{}, false
	}
	delete(d.thumbs, key)
	delete(d.dirtyThumbs, key)
	d.deletedThumbs[key] = struct{}{}
	return thumb, true
}

// OpenLibrary registers a library namespace. Idempotent; the first
// registration is persisted on the next Save.
func (d *Directory) OpenLibrary(libraryID uuid.UUID) {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, found := d.libraries[libraryID]; found {
		return
	}
	d.libraries[libraryID] = now
	d.dirtyLibraries[libraryID] = struct{}{}
}

// HasLibrary reports whether a library namespace is registered.
func (d *Directory) HasLibrary(libraryID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, found := d.libraries[libraryID]
	return found
}

// Count returns the number of thumbnail records.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.thumbs)
}

// Save persists all pending mutations in one transaction. On failure
// the mutations stay pending, so a later Save retries them. The
// directory lock is held for the duration, so lookups queue behind an
// in-progress Save.
func (d *Directory) Save(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := len(d.dirtyThumbs) + len(d.deletedThumbs) + len(d.dirtyChunks) + len(d.dirtyLibraries)
	if pending == 0 {
		return nil
	}

	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	defer d.pool.Put(conn)

	if err := d.saveLocked(conn); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	d.dirtyThumbs = make(map[Key]struct{})
	d.deletedThumbs = make(map[Key]struct{})
	d.dirtyChunks = make(map[uuid.UUID]struct{})
	d.dirtyLibraries = make(map[uuid.UUID]struct{})

	d.logger.Debug("directory saved", "mutations", pending)
	return nil
}

// SaveAll marks the entire catalog dirty and saves it. Used after
// Relocate pointed the directory at a fresh database: the next save
// must rebuild every row, not just recent mutations.
func (d *Directory) SaveAll(ctx context.Context) error {
	d.mu.Lock()
	for key := range d.thumbs {
		d.dirtyThumbs[key] = struct{}{}
	}
	for chunkID := range d.chunks {
		d.dirtyChunks[chunkID] = struct{}{}
	}
	for libraryID := range d.libraries {
		d.dirtyLibraries[libraryID] = struct{}{}
	}
	d.mu.Unlock()
	return d.Save(ctx)
}

func (d *Directory) saveLocked(conn *sqlite.Conn) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for libraryID := range d.dirtyLibraries {
		err = sqlitex.Execute(conn,
			"INSERT OR REPLACE INTO libraries (id, opened_at) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{
				libraryID[:], d.libraries[libraryID].UnixNano(),
			}})
		if err != nil {
			return fmt.Errorf("saving library %s: %w", libraryID, err)
		}
	}

	for chunkID := range d.dirtyChunks {
		err = sqlitex.Execute(conn,
			"INSERT OR REPLACE INTO chunks (id, created_at) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{
				chunkID[:], d.chunks[chunkID].CreatedAt.UnixNano(),
			}})
		if err != nil {
			return fmt.Errorf("saving chunk %s: %w", chunkID, err)
		}
	}

	for key := range d.dirtyThumbs {
		thumb := d.thumbs[key]
		var chunkID any
		if thumb.ChunkID != uuid.Nil {
			chunkID = thumb.ChunkID[:]
		}
		err = sqlitex.Execute(conn,
			`INSERT OR REPLACE INTO thumbnails
			 (library_id, image_id, chunk_entry_id, chunk_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				thumb.LibraryID[:],
				thumb.ImageID[:],
				thumb.ChunkEntryID[:],
				chunkID,
				thumb.CreatedAt.UnixNano(),
				thumb.UpdatedAt.UnixNano(),
			}})
		if err != nil {
			return fmt.Errorf("saving thumbnail %s/%s: %w", key.LibraryID, key.ImageID, err)
		}
	}

	for key := range d.deletedThumbs {
		err = sqlitex.Execute(conn,
			"DELETE FROM thumbnails WHERE library_id = ? AND image_id = ?",
			&sqlitex.ExecOptions{Args: []any{key.LibraryID[:], key.ImageID[:]}})
		if err != nil {
			return fmt.Errorf("deleting thumbnail %s/%s: %w", key.LibraryID, key.ImageID, err)
		}
	}

	return nil
}
