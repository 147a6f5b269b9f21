// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the Lustre-standard SQLite connection
// pool. The thumbnail directory (lib/thumbdir) stores its catalog
// through this package; anything else in the engine that needs local
// structured storage should come here rather than opening its own
// database handle.
//
// The pool wraps zombiezen.com/go/sqlite with production defaults:
// WAL journal mode, NORMAL synchronous for process-crash durability
// without fsync-per-commit overhead, memory-mapped reads, and a busy
// timeout so concurrent writers queue instead of failing.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: concurrent readers with a single writer.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across power loss — acceptable because the directory can
//     always be rebuilt by regenerating thumbnails from originals.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock.
//   - foreign_keys=OFF: the engine maintains directory↔chunk-store
//     referential integrity explicitly (bytes are written before
//     metadata records them); SQL-level cascades would fight that
//     ordering.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - mmap_size=268435456: 256 MB memory-mapped I/O for reads.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// The package is intentionally thin: callers Take a connection, run
// SQL with sqlitex helpers, and Put it back. There is no query
// builder and no ORM.
package sqlitepool
