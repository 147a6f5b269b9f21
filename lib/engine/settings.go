// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings is the engine's persisted configuration. The YAML file is
// rewritten whenever a setting changes through the maintenance
// surface, so settings survive daemon restarts.
type Settings struct {
	Generator GeneratorSettings `yaml:"generator"`
	Storage   StorageSettings   `yaml:"storage"`
	Cache     CacheSettings     `yaml:"cache"`
}

// GeneratorSettings configures the generation worker pool.
type GeneratorSettings struct {
	Workers WorkerSettings `yaml:"workers"`
}

// WorkerSettings sizes a worker pool. When Auto is true, Count is
// ignored and the pool uses one worker per CPU.
type WorkerSettings struct {
	Auto  bool `yaml:"auto"`
	Count int  `yaml:"count"`
}

// StorageSettings locates the chunk storage root.
type StorageSettings struct {
	Root string `yaml:"root"`
}

// CacheSettings sizes the chunk cache. When Auto is true, MaxBytes is
// ignored and the default budget applies.
type CacheSettings struct {
	Auto     bool  `yaml:"auto"`
	MaxBytes int64 `yaml:"max-bytes"`
}

// defaultSettings returns the out-of-the-box configuration: automatic
// worker count, automatic cache sizing, the given storage root.
func defaultSettings(root string) Settings {
	return Settings{
		Generator: GeneratorSettings{Workers: WorkerSettings{Auto: true}},
		Storage:   StorageSettings{Root: root},
		Cache:     CacheSettings{Auto: true},
	}
}

// loadSettings reads the settings file, falling back to defaults when
// the file does not exist yet.
func loadSettings(path, defaultRoot string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultSettings(defaultRoot), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings %s: %w", path, err)
	}

	settings := defaultSettings(defaultRoot)
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if settings.Storage.Root == "" {
		settings.Storage.Root = defaultRoot
	}
	return settings, nil
}

// save writes the settings file via temp file + rename.
func (s Settings) save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

// workerLimit reduces worker settings to the pool limit convention
// (<= 0 means automatic).
func (w WorkerSettings) workerLimit() int {
	if w.Auto {
		return 0
	}
	return w.Count
}

// cacheBudget reduces cache settings to the chunk cache convention
// (<= 0 means the default budget).
func (c CacheSettings) cacheBudget() int64 {
	if c.Auto {
		return 0
	}
	return c.MaxBytes
}
