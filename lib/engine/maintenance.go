// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Configuration keys accepted by GetConfig and SetConfig. Keys outside
// this whitelist are silently ignored in both directions.
const (
	ConfigWorkersAuto  = "generator.workers.auto"
	ConfigWorkersCount = "generator.workers.count"
	ConfigStorageRoot  = "storage.root"
	ConfigCacheAuto    = "cache.auto"
	ConfigCacheBytes   = "cache.max-bytes"
)

// GetConfig returns the whitelisted configuration as key/value
// strings. The storage root is read-only here; it changes only
// through MoveStorage.
func (e *Engine) GetConfig() (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.awake {
		return nil, ErrNotAwake
	}

	return map[string]string{
		ConfigWorkersAuto:  strconv.FormatBool(e.settings.Generator.Workers.Auto),
		ConfigWorkersCount: strconv.Itoa(e.settings.Generator.Workers.Count),
		ConfigStorageRoot:  e.settings.Storage.Root,
		ConfigCacheAuto:    strconv.FormatBool(e.settings.Cache.Auto),
		ConfigCacheBytes:   strconv.FormatInt(e.settings.Cache.MaxBytes, 10),
	}, nil
}

// SetConfig applies whitelisted configuration values, persists the
// settings file, and applies pool and cache changes immediately
// (affecting subsequently submitted work). Unrecognized keys are
// ignored; unparsable values for recognized keys are an error.
func (e *Engine) SetConfig(values map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.awake {
		return ErrNotAwake
	}

	updated := e.settings
	for key, value := range values {
		switch key {
		case ConfigWorkersAuto:
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("config %s: %w", key, err)
			}
			updated.Generator.Workers.Auto = parsed
		case ConfigWorkersCount:
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("config %s: %w", key, err)
			}
			updated.Generator.Workers.Count = parsed
		case ConfigCacheAuto:
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("config %s: %w", key, err)
			}
			updated.Cache.Auto = parsed
		case ConfigCacheBytes:
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("config %s: %w", key, err)
			}
			updated.Cache.MaxBytes = parsed
		default:
			e.logger.Debug("ignoring unknown config key", "key", key)
		}
	}

	if err := updated.save(e.settingsPath); err != nil {
		return err
	}
	e.settings = updated

	e.genPool.setLimit(updated.Generator.Workers.workerLimit())
	e.store.ResizeCache(updated.Cache.cacheBudget())
	return nil
}

// SpaceUsed sums file sizes under the storage root.
func (e *Engine) SpaceUsed() (int64, error) {
	_, store, err := e.components()
	if err != nil {
		return 0, err
	}
	return store.SpaceUsed()
}

// StorageDir returns the current storage root.
func (e *Engine) StorageDir() (string, error) {
	_, store, err := e.components()
	if err != nil {
		return "", err
	}
	return store.Root(), nil
}

// MoveProgress reports relocation progress: done out of total outer
// units (copy and delete are one unit each).
type MoveProgress func(done, total int)

// MoveStorage relocates the store to a new root. The engine lock is
// held throughout, so every other operation queues; in-flight chunk
// reads and writes drain first via the store's move transaction. On
// return — success or failure — the transaction is released and the
// engine serves from whichever root the settings name.
//
// copyExisting controls whether existing chunk files (and the
// directory database) are copied to the new root; deleteExisting
// controls whether the old root is moved to a timestamped trash
// sibling afterwards. The old root is never hard-deleted.
func (e *Engine) MoveStorage(ctx context.Context, to string, copyExisting, deleteExisting bool, progress MoveProgress) (err error) {
	if progress == nil {
		progress = func(int, int) {}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.awake {
		return ErrNotAwake
	}

	const totalUnits = 2
	oldRoot := e.settings.Storage.Root
	if to == oldRoot {
		progress(totalUnits, totalUnits)
		return nil
	}

	e.store.BeginMoveTransaction()
	defer func() {
		if endErr := e.store.EndMoveTransaction(); endErr != nil && err == nil {
			err = endErr
		}
	}()

	if _, statErr := os.Stat(oldRoot); errors.Is(statErr, fs.ErrNotExist) {
		// Fast path: nothing on disk to copy or trash.
		copyExisting = false
		deleteExisting = false
	}

	if copyExisting {
		if err := copyTree(oldRoot, to); err != nil {
			return fmt.Errorf("moving storage: %w", err)
		}
	}
	progress(1, totalUnits)

	if err := e.store.SetRoot(to); err != nil {
		return fmt.Errorf("moving storage: %w", err)
	}
	// The directory database is not file-copied — the copy could tear
	// against a concurrent transaction. Instead the directory gets a
	// fresh database at the new root and rebuilds it from the
	// in-memory catalog, which also carries any mutations that were
	// pending when the move began.
	if err := e.directory.Relocate(filepath.Join(to, directoryFileName)); err != nil {
		return err
	}
	if err := e.directory.SaveAll(ctx); err != nil {
		return fmt.Errorf("moving storage: rebuilding directory: %w", err)
	}

	e.settings.Storage.Root = to
	if err := e.settings.save(e.settingsPath); err != nil {
		return err
	}

	if deleteExisting {
		trashPath := fmt.Sprintf("%s.trash-%s", oldRoot, e.clock.Now().UTC().Format("20060102-150405"))
		if err := os.Rename(oldRoot, trashPath); err != nil {
			e.logger.Warn("trashing old storage root failed", "root", oldRoot, "error", err)
		} else {
			e.logger.Info("old storage root trashed", "trash", trashPath)
		}
	}
	progress(totalUnits, totalUnits)

	e.logger.Info("storage moved", "from", oldRoot, "to", to)
	return nil
}

// copyTree recursively copies a directory. Destination directories
// are created as needed; existing destination files are overwritten.
// Directory database files are skipped — the catalog is rebuilt at
// the new root rather than file-copied.
func copyTree(from, to string) error {
	return filepath.WalkDir(from, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		target := filepath.Join(to, relative)

		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if strings.HasPrefix(filepath.Base(path), directoryFileName) {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(from, to string) error {
	source, err := os.Open(from)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		return fmt.Errorf("copying %s: %w", from, err)
	}
	return destination.Close()
}
