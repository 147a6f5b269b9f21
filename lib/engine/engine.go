// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/lustre-photos/lustre/lib/chunkstore"
	"github.com/lustre-photos/lustre/lib/clock"
	"github.com/lustre-photos/lustre/lib/pyramid"
	"github.com/lustre-photos/lustre/lib/thumbdir"
)

// directoryFileName is the directory database file under the storage
// root. It moves with the chunk files during storage relocation.
const directoryFileName = "directory.db"

// Config holds the parameters for creating an engine.
type Config struct {
	// SettingsPath is the YAML settings file. Its parent directory
	// must exist; the file itself is created on first SetConfig.
	SettingsPath string

	// DefaultStorageRoot is the storage root used when the settings
	// file does not exist or names no root.
	DefaultStorageRoot string

	// Levels is the pyramid size table. Defaults to
	// pyramid.DefaultLevels.
	Levels []pyramid.Level

	// Clock provides timestamps. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger

	// Notifier receives thumbnail lifecycle events.
	Notifier Notifier

	// ReadSource reads a source image's bytes given its URL. Defaults
	// to treating the URL as a filesystem path.
	ReadSource func(url string) ([]byte, error)
}

// Engine is the thumbnail engine. Construct with New, open with
// WakeUp. All methods are safe for concurrent use.
type Engine struct {
	settingsPath string
	defaultRoot  string
	levels       []pyramid.Level
	clock        clock.Clock
	logger       *slog.Logger
	notifier     Notifier
	readSource   func(string) ([]byte, error)

	genPool      *workerPool
	retrievePool *workerPool

	newInflight    *inflightSet
	updateInflight *inflightSet

	// mu guards the awake state, settings, and component pointers.
	// Long-running work (generation tasks, retrieval, storage moves)
	// fetches the components under mu and runs without it; storage
	// moves hold mu for their full duration so everything else queues.
	mu        sync.Mutex
	awake     bool
	settings  Settings
	directory *thumbdir.Directory
	store     *chunkstore.Store
}

// New creates an engine. No I/O happens until WakeUp.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.ReadSource == nil {
		cfg.ReadSource = os.ReadFile
	}
	if len(cfg.Levels) == 0 {
		cfg.Levels = pyramid.DefaultLevels
	}

	return &Engine{
		settingsPath:   cfg.SettingsPath,
		defaultRoot:    cfg.DefaultStorageRoot,
		levels:         cfg.Levels,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		notifier:       cfg.Notifier,
		readSource:     cfg.ReadSource,
		genPool:        newWorkerPool(0),
		retrievePool:   newWorkerPool(0),
		newInflight:    newInflightSet(),
		updateInflight: newInflightSet(),
	}
}

// WakeUp opens the directory and chunk store. Idempotent: a second
// call on an awake engine is a no-op.
func (e *Engine) WakeUp(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.awake {
		return nil
	}

	settings, err := loadSettings(e.settingsPath, e.defaultRoot)
	if err != nil {
		return fmt.Errorf("waking engine: %w", err)
	}

	store, err := chunkstore.NewStore(settings.Storage.Root, settings.Cache.cacheBudget(), e.logger)
	if err != nil {
		return fmt.Errorf("waking engine: %w", err)
	}

	directory, err := thumbdir.Open(thumbdir.Config{
		Path:   filepath.Join(settings.Storage.Root, directoryFileName),
		Clock:  e.clock,
		Logger: e.logger,
	})
	if err != nil {
		return fmt.Errorf("waking engine: %w", err)
	}

	e.genPool.setLimit(settings.Generator.Workers.workerLimit())
	e.settings = settings
	e.store = store
	e.directory = directory
	e.awake = true

	e.logger.Info("engine awake",
		"storage_root", settings.Storage.Root,
		"workers", e.genPool.currentLimit(),
	)
	return nil
}

// Close saves pending directory mutations and shuts the engine down.
// In-flight work should be drained by the caller first.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.awake {
		return nil
	}
	e.awake = false

	saveErr := e.directory.Save(ctx)
	closeErr := e.directory.Close()
	e.directory = nil
	e.store = nil

	if saveErr != nil {
		return saveErr
	}
	return closeErr
}

// OpenLibrary registers a library namespace and persists the
// registration. Idempotent.
func (e *Engine) OpenLibrary(ctx context.Context, libraryID uuid.UUID) error {
	directory, _, err := e.components()
	if err != nil {
		return err
	}
	directory.OpenLibrary(libraryID)
	return directory.Save(ctx)
}

// Status describes the engine's liveness and a few counters.
type Status struct {
	Awake      bool
	Thumbnails int
	CacheBytes int64
}

// EngineStatus reports liveness. Usable before WakeUp.
func (e *Engine) EngineStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.awake {
		return Status{}
	}
	return Status{
		Awake:      true,
		Thumbnails: e.directory.Count(),
		CacheBytes: e.store.Stats().Bytes,
	}
}

// components returns the live directory and store, failing before
// WakeUp. Fetching them under the lock means a storage move (which
// holds the lock throughout) queues every other operation.
func (e *Engine) components() (*thumbdir.Directory, *chunkstore.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.awake {
		return nil, nil, ErrNotAwake
	}
	return e.directory, e.store, nil
}
