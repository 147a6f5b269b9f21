// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEngineConfigRoundtrip(t *testing.T) {
	e := newTestEngine(t)

	config, err := e.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if config[ConfigWorkersAuto] != "true" {
		t.Errorf("%s = %q, want true", ConfigWorkersAuto, config[ConfigWorkersAuto])
	}
	if config[ConfigCacheAuto] != "true" {
		t.Errorf("%s = %q, want true", ConfigCacheAuto, config[ConfigCacheAuto])
	}

	err = e.SetConfig(map[string]string{
		ConfigWorkersAuto:  "false",
		ConfigWorkersCount: "3",
		ConfigCacheAuto:    "false",
		ConfigCacheBytes:   "1048576",
		"nonsense.key":     "ignored",
	})
	if err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	config, err = e.GetConfig()
	if err != nil {
		t.Fatal(err)
	}
	if config[ConfigWorkersCount] != "3" {
		t.Errorf("%s = %q, want 3", ConfigWorkersCount, config[ConfigWorkersCount])
	}
	if config[ConfigCacheBytes] != "1048576" {
		t.Errorf("%s = %q, want 1048576", ConfigCacheBytes, config[ConfigCacheBytes])
	}
	if _, present := config["nonsense.key"]; present {
		t.Error("unknown key leaked into GetConfig")
	}
	if e.genPool.currentLimit() != 3 {
		t.Errorf("worker limit = %d, want 3", e.genPool.currentLimit())
	}

	// The settings file persisted.
	data, err := os.ReadFile(e.settingsPath)
	if err != nil {
		t.Fatalf("settings file not written: %v", err)
	}
	if !strings.Contains(string(data), "count: 3") {
		t.Errorf("settings file missing worker count:\n%s", data)
	}
}

func TestEngineSetConfigRejectsBadValues(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetConfig(map[string]string{ConfigWorkersCount: "many"}); err == nil {
		t.Error("SetConfig accepted a non-numeric worker count")
	}
	if err := e.SetConfig(map[string]string{ConfigCacheAuto: "perhaps"}); err == nil {
		t.Error("SetConfig accepted a non-boolean cache.auto")
	}
}

func TestEngineSpaceUsedGrows(t *testing.T) {
	e := newTestEngine(t)

	before, err := e.SpaceUsed()
	if err != nil {
		t.Fatalf("SpaceUsed failed: %v", err)
	}
	if err := e.Generate(context.Background(), []ThumbRequest{newRequest()}); err != nil {
		t.Fatal(err)
	}
	after, err := e.SpaceUsed()
	if err != nil {
		t.Fatal(err)
	}
	if after <= before {
		t.Errorf("SpaceUsed after generation = %d, want > %d", after, before)
	}
}

func TestEngineMoveStorageSameRootIsNoop(t *testing.T) {
	e := newTestEngine(t)
	root, err := e.StorageDir()
	if err != nil {
		t.Fatal(err)
	}

	var lastDone, lastTotal int
	err = e.MoveStorage(context.Background(), root, true, true, func(done, total int) {
		lastDone, lastTotal = done, total
	})
	if err != nil {
		t.Fatalf("no-op MoveStorage failed: %v", err)
	}
	if lastDone != lastTotal || lastTotal == 0 {
		t.Errorf("progress ended at %d/%d, want complete", lastDone, lastTotal)
	}
}

func TestEngineMoveStorageCopyAndTrash(t *testing.T) {
	e := newTestEngine(t)
	request := newRequest()
	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatal(err)
	}

	oldRoot, err := e.StorageDir()
	if err != nil {
		t.Fatal(err)
	}
	newRoot := filepath.Join(filepath.Dir(oldRoot), "relocated")

	var steps []int
	err = e.MoveStorage(context.Background(), newRoot, true, true, func(done, total int) {
		steps = append(steps, done)
	})
	if err != nil {
		t.Fatalf("MoveStorage failed: %v", err)
	}
	if len(steps) != 2 || steps[0] != 1 || steps[1] != 2 {
		t.Errorf("progress steps = %v, want [1 2]", steps)
	}

	got, err := e.StorageDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != newRoot {
		t.Errorf("StorageDir = %q, want %q", got, newRoot)
	}

	// The thumbnail survives the move.
	if _, err := e.Retrieve(context.Background(), request); err != nil {
		t.Errorf("Retrieve after move failed: %v", err)
	}

	// The old root was trashed (renamed), not hard-deleted.
	if _, err := os.Stat(oldRoot); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("old root still present: %v", err)
	}
	siblings, err := filepath.Glob(oldRoot + ".trash-*")
	if err != nil || len(siblings) != 1 {
		t.Errorf("trash sibling = %v (err %v), want exactly one", siblings, err)
	}

	// Configuration follows the move.
	config, err := e.GetConfig()
	if err != nil {
		t.Fatal(err)
	}
	if config[ConfigStorageRoot] != newRoot {
		t.Errorf("%s = %q, want %q", ConfigStorageRoot, config[ConfigStorageRoot], newRoot)
	}
}

func TestEngineMoveStorageWithoutCopy(t *testing.T) {
	e := newTestEngine(t)
	request := newRequest()
	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatal(err)
	}

	oldRoot, _ := e.StorageDir()
	newRoot := filepath.Join(filepath.Dir(oldRoot), "fresh")

	if err := e.MoveStorage(context.Background(), newRoot, false, false, nil); err != nil {
		t.Fatalf("MoveStorage failed: %v", err)
	}

	// Chunk bytes were not copied, so retrieval reports the missing
	// entry; the directory record itself survived via the rebuild.
	if _, err := e.Retrieve(context.Background(), request); err == nil {
		t.Error("Retrieve found chunk bytes that were not copied")
	}

	// The old root is intact for manual recovery.
	if _, err := os.Stat(oldRoot); err != nil {
		t.Errorf("old root missing after move without delete: %v", err)
	}
}

func TestEngineMoveStorageConcurrentGenerate(t *testing.T) {
	e := newTestEngine(t)

	// Start a generation, then immediately move. The move transaction
	// drains or queues the chunk write; both must complete.
	request := newRequest()
	generateDone := make(chan error, 1)
	go func() {
		generateDone <- e.Generate(context.Background(), []ThumbRequest{request})
	}()

	oldRoot, _ := e.StorageDir()
	newRoot := filepath.Join(filepath.Dir(oldRoot), "relocated")
	if err := e.MoveStorage(context.Background(), newRoot, true, false, nil); err != nil {
		t.Fatalf("MoveStorage failed: %v", err)
	}
	if err := <-generateDone; err != nil {
		t.Fatalf("Generate concurrent with move failed: %v", err)
	}

	if _, err := e.Retrieve(context.Background(), request); err != nil {
		t.Errorf("Retrieve after concurrent move failed: %v", err)
	}
}
