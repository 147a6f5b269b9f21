// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/lustre-photos/lustre/lib/clock"
	"github.com/lustre-photos/lustre/lib/pyramid"
	"github.com/lustre-photos/lustre/lib/thumbdir"
)

// recordingNotifier collects lifecycle events for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	created   []thumbdir.Key
	updated   []thumbdir.Key
	discarded []thumbdir.Key
}

func (n *recordingNotifier) ThumbnailCreated(key thumbdir.Key) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, key)
}

func (n *recordingNotifier) ThumbnailUpdated(key thumbdir.Key) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, key)
}

func (n *recordingNotifier) ThumbnailDiscarded(key thumbdir.Key) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.discarded = append(n.discarded, key)
}

func (n *recordingNotifier) counts() (created, updated, discarded int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.created), len(n.updated), len(n.discarded)
}

// sourcePNG encodes a gradient test image.
func sourcePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

type testEngine struct {
	*Engine
	notifier *recordingNotifier
	reads    *atomic.Int32
}

// newTestEngine builds an awake engine backed by temp directories and
// an 800x600 synthetic source image.
func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	source := sourcePNG(t, 800, 600)

	notifier := &recordingNotifier{}
	reads := &atomic.Int32{}
	base := t.TempDir()
	e := New(Config{
		SettingsPath:       filepath.Join(base, "settings.yaml"),
		DefaultStorageRoot: filepath.Join(base, "storage"),
		Clock:              clock.NewFake(),
		Notifier:           notifier,
		ReadSource: func(string) ([]byte, error) {
			reads.Add(1)
			return source, nil
		},
	})
	if err := e.WakeUp(context.Background()); err != nil {
		t.Fatalf("WakeUp failed: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	return &testEngine{Engine: e, notifier: notifier, reads: reads}
}

func newRequest() ThumbRequest {
	return ThumbRequest{
		LibraryID: uuid.New(),
		ImageID:   uuid.New(),
		ImageURL:  "/photos/test.png",
	}
}

func TestEngineRequiresWakeUp(t *testing.T) {
	e := New(Config{
		SettingsPath:       filepath.Join(t.TempDir(), "settings.yaml"),
		DefaultStorageRoot: t.TempDir(),
	})

	if _, err := e.Retrieve(context.Background(), newRequest()); !errors.Is(err, ErrNotAwake) {
		t.Errorf("Retrieve before WakeUp: got %v, want ErrNotAwake", err)
	}
	if err := e.Generate(context.Background(), []ThumbRequest{newRequest()}); !errors.Is(err, ErrNotAwake) {
		t.Errorf("Generate before WakeUp: got %v, want ErrNotAwake", err)
	}
	if _, err := e.GetConfig(); !errors.Is(err, ErrNotAwake) {
		t.Errorf("GetConfig before WakeUp: got %v, want ErrNotAwake", err)
	}
}

func TestEngineWakeUpIdempotent(t *testing.T) {
	e := newTestEngine(t)
	if err := e.WakeUp(context.Background()); err != nil {
		t.Fatalf("second WakeUp failed: %v", err)
	}
}

func TestEngineGenerateAndRetrieve(t *testing.T) {
	e := newTestEngine(t)
	request := newRequest()

	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	created, _, _ := e.notifier.counts()
	if created != 1 {
		t.Errorf("created events = %d, want 1", created)
	}

	// No size: largest available. The 800x600 source supports levels
	// up to 750.
	rendition, err := e.Retrieve(context.Background(), request)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if rendition.Edge != 750 {
		t.Errorf("largest rendition edge = %d, want 750", rendition.Edge)
	}
	if rendition.Width != 750 {
		t.Errorf("rendition width = %d, want 750", rendition.Width)
	}
}

func TestEngineRetrieveClosestSize(t *testing.T) {
	e := newTestEngine(t)
	request := newRequest()
	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		size Dimensions
		want int
	}{
		{size: Dimensions{Width: 340, Height: 100}, want: 350},
		{size: Dimensions{Width: 90, Height: 50}, want: 100},
		{size: Dimensions{Width: 100, Height: 200}, want: 150}, // edge 200: 150 beats 350
		{size: Dimensions{Width: 4000, Height: 10}, want: 750},
	}
	for _, c := range cases {
		sized := request
		sized.Size = &c.size
		rendition, err := e.Retrieve(context.Background(), sized)
		if err != nil {
			t.Fatalf("Retrieve %+v failed: %v", c.size, err)
		}
		if rendition.Edge != c.want {
			t.Errorf("size %+v: got edge %d, want %d", c.size, rendition.Edge, c.want)
		}
	}
}

func TestEngineRetrieveUnknownImage(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Retrieve(context.Background(), newRequest()); !errors.Is(err, ErrNoSuchThumb) {
		t.Errorf("got %v, want ErrNoSuchThumb", err)
	}
}

func TestEngineBatchGeneratesAllWithOneSave(t *testing.T) {
	e := newTestEngine(t)

	libraryID := uuid.New()
	requests := make([]ThumbRequest, 3)
	for i := range requests {
		requests[i] = ThumbRequest{LibraryID: libraryID, ImageID: uuid.New(), ImageURL: "/photos/x.png"}
	}

	if err := e.Generate(context.Background(), requests); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	created, _, _ := e.notifier.counts()
	if created != 3 {
		t.Errorf("created events = %d, want 3", created)
	}
	for _, request := range requests {
		if _, err := e.Retrieve(context.Background(), request); err != nil {
			t.Errorf("Retrieve %s failed: %v", request.ImageID, err)
		}
	}
	if e.reads.Load() != 3 {
		t.Errorf("source reads = %d, want 3", e.reads.Load())
	}
}

func TestEngineDeduplicatesConcurrentGeneration(t *testing.T) {
	source := sourcePNG(t, 400, 300)
	notifier := &recordingNotifier{}
	var reads atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	base := t.TempDir()
	e := New(Config{
		SettingsPath:       filepath.Join(base, "settings.yaml"),
		DefaultStorageRoot: filepath.Join(base, "storage"),
		Notifier:           notifier,
		ReadSource: func(string) ([]byte, error) {
			reads.Add(1)
			once.Do(func() { close(started) })
			<-release
			return source, nil
		},
	})
	if err := e.WakeUp(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Close(context.Background())

	request := newRequest()

	generateDone := make(chan error, 1)
	go func() {
		generateDone <- e.Generate(context.Background(), []ThumbRequest{request})
	}()
	<-started

	// A duplicate call while the task is provably in flight coalesces
	// to a no-op and returns without submitting a second task.
	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatalf("duplicate Generate failed: %v", err)
	}

	close(release)
	if err := <-generateDone; err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if got := reads.Load(); got != 1 {
		t.Errorf("source reads = %d, want 1 (duplicate coalesced)", got)
	}
	created, _, _ := notifier.counts()
	if created != 1 {
		t.Errorf("created events = %d, want 1", created)
	}
}

func TestEngineRegenerateEmitsUpdated(t *testing.T) {
	e := newTestEngine(t)
	request := newRequest()

	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatal(err)
	}
	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatal(err)
	}

	created, updated, _ := e.notifier.counts()
	if created != 1 || updated != 1 {
		t.Errorf("events: created=%d updated=%d, want 1/1", created, updated)
	}

	// The regenerated thumbnail is still retrievable.
	if _, err := e.Retrieve(context.Background(), request); err != nil {
		t.Errorf("Retrieve after regeneration failed: %v", err)
	}
}

func TestEngineFailedRegenerationKeepsThumbnail(t *testing.T) {
	e := newTestEngine(t)
	request := newRequest()

	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatal(err)
	}

	// Break chunk writes: the store stages every flush under tmp/
	// inside the storage root.
	root, err := e.StorageDir()
	if err != nil {
		t.Fatal(err)
	}
	tmpPath := filepath.Join(root, "tmp")
	if err := os.RemoveAll(tmpPath); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tmpPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The regeneration write fails; the failure is logged, no updated
	// event fires, and the original record must stay pointed at its
	// existing chunk entry.
	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatalf("Generate returned a batch error: %v", err)
	}
	_, updated, _ := e.notifier.counts()
	if updated != 0 {
		t.Errorf("updated events = %d, want 0 after failed regeneration", updated)
	}

	rendition, err := e.Retrieve(context.Background(), request)
	if err != nil {
		t.Fatalf("thumbnail unretrievable after failed regeneration: %v", err)
	}
	if len(rendition.JPEG) == 0 {
		t.Error("empty rendition after failed regeneration")
	}
}

func TestEngineGetSurfacesSourceDecodeError(t *testing.T) {
	base := t.TempDir()
	e := New(Config{
		SettingsPath:       filepath.Join(base, "settings.yaml"),
		DefaultStorageRoot: filepath.Join(base, "storage"),
		ReadSource: func(string) ([]byte, error) {
			return []byte("not an image"), nil
		},
	})
	if err := e.WakeUp(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Close(context.Background())

	request := newRequest()
	if _, err := e.Get(context.Background(), request); !errors.Is(err, pyramid.ErrBadSource) {
		t.Errorf("Get with corrupt source: got %v, want pyramid.ErrBadSource", err)
	}

	// The failed build leaves no record behind.
	if _, err := e.Retrieve(context.Background(), request); !errors.Is(err, ErrNoSuchThumb) {
		t.Errorf("after failed Get: got %v, want ErrNoSuchThumb", err)
	}
}

func TestEngineDiscardRemovesBothLayers(t *testing.T) {
	e := newTestEngine(t)
	request := newRequest()

	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatal(err)
	}
	if err := e.Discard(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	_, _, discarded := e.notifier.counts()
	if discarded != 1 {
		t.Errorf("discarded events = %d, want 1", discarded)
	}
	if _, err := e.Retrieve(context.Background(), request); !errors.Is(err, ErrNoSuchThumb) {
		t.Errorf("Retrieve after discard: got %v, want ErrNoSuchThumb", err)
	}

	// Discarding an unknown thumbnail is logged, not fatal.
	if err := e.Discard(context.Background(), []ThumbRequest{newRequest()}); err != nil {
		t.Errorf("Discard of unknown thumbnail failed: %v", err)
	}
}

func TestEngineDiscardSkipsInFlightGeneration(t *testing.T) {
	source := sourcePNG(t, 400, 300)
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	base := t.TempDir()
	e := New(Config{
		SettingsPath:       filepath.Join(base, "settings.yaml"),
		DefaultStorageRoot: filepath.Join(base, "storage"),
		ReadSource: func(string) ([]byte, error) {
			once.Do(func() { close(started) })
			<-release
			return source, nil
		},
	})
	if err := e.WakeUp(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Close(context.Background())

	request := newRequest()
	generateDone := make(chan error, 1)
	go func() {
		generateDone <- e.Generate(context.Background(), []ThumbRequest{request})
	}()
	<-started

	if !e.IsInFlight(request) {
		t.Error("IsInFlight = false while the task is running")
	}

	// The racing discard loses: generation wins and the thumbnail
	// exists afterwards.
	if err := e.Discard(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	close(release)
	if err := <-generateDone; err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if e.IsInFlight(request) {
		t.Error("IsInFlight = true after completion")
	}
	if _, err := e.Retrieve(context.Background(), request); err != nil {
		t.Errorf("thumbnail missing after discard lost the race: %v", err)
	}
}

func TestEngineGetGeneratesOnMiss(t *testing.T) {
	e := newTestEngine(t)
	request := newRequest()

	rendition, err := e.Get(context.Background(), request)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rendition.Edge == 0 || len(rendition.JPEG) == 0 {
		t.Errorf("Get returned an empty rendition: %+v", rendition)
	}
	if e.reads.Load() != 1 {
		t.Errorf("source reads = %d, want 1", e.reads.Load())
	}

	// Second Get is a pure retrieval.
	if _, err := e.Get(context.Background(), request); err != nil {
		t.Fatal(err)
	}
	if e.reads.Load() != 1 {
		t.Errorf("source reads after second Get = %d, want 1", e.reads.Load())
	}
}

func TestEnginePrefetchWarmsCache(t *testing.T) {
	e := newTestEngine(t)
	request := newRequest()
	if err := e.Generate(context.Background(), []ThumbRequest{request}); err != nil {
		t.Fatal(err)
	}

	// Prefetch the chunk, then the first retrieval should hit the
	// cache rather than disk.
	e.Prefetch([]ThumbRequest{request, request})

	_, store, err := e.components()
	if err != nil {
		t.Fatal(err)
	}
	before := store.Stats()
	if _, err := e.Retrieve(context.Background(), request); err != nil {
		t.Fatal(err)
	}
	after := store.Stats()
	if after.Hits != before.Hits+1 {
		t.Errorf("retrieve after prefetch: hits went %d -> %d, want +1", before.Hits, after.Hits)
	}

	// Prefetch for unknown thumbnails is a silent no-op.
	e.Prefetch([]ThumbRequest{newRequest()})
}

func TestEngineOpenLibraryPersists(t *testing.T) {
	e := newTestEngine(t)
	libraryID := uuid.New()

	if err := e.OpenLibrary(context.Background(), libraryID); err != nil {
		t.Fatalf("OpenLibrary failed: %v", err)
	}
	if err := e.OpenLibrary(context.Background(), libraryID); err != nil {
		t.Fatalf("second OpenLibrary failed: %v", err)
	}

	directory, _, err := e.components()
	if err != nil {
		t.Fatal(err)
	}
	if !directory.HasLibrary(libraryID) {
		t.Error("library not registered")
	}
}
