// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lustre-photos/lustre/lib/engine"
	"github.com/lustre-photos/lustre/lib/testutil"
	"github.com/lustre-photos/lustre/lib/thumbwire"
)

// testDaemon is a running ThumbService with a connected client.
type testDaemon struct {
	client      *thumbwire.Client
	storageRoot string
	sourcePath  string
}

// startDaemon serves a fresh engine on a Unix socket and returns a
// client talking to it. The daemon shuts down with the test.
func startDaemon(t *testing.T) *testDaemon {
	t.Helper()

	base := t.TempDir()
	storageRoot := filepath.Join(base, "storage")
	sourcePath := filepath.Join(base, "source.png")
	if err := os.WriteFile(sourcePath, encodePNG(t, 800, 600), 0o644); err != nil {
		t.Fatal(err)
	}

	thumbEngine := engine.New(engine.Config{
		SettingsPath:       filepath.Join(base, "settings.yaml"),
		DefaultStorageRoot: storageRoot,
	})
	service := &ThumbService{
		engine: thumbEngine,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	socketPath := filepath.Join(testutil.SocketDir(t), "thumbd.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		service.serve(ctx, socketPath)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not shut down")
		}
		thumbEngine.Close(context.Background())
	})

	// Wait for the listener to come up.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return &testDaemon{
		client:      thumbwire.NewClient(socketPath),
		storageRoot: storageRoot,
		sourcePath:  sourcePath,
	}
}

func encodePNG(t *testing.T, width, height int) []byte {
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

func (d *testDaemon) newRequest() engine.ThumbRequest {
	return engine.ThumbRequest{
		LibraryID: uuid.New(),
		ImageID:   uuid.New(),
		ImageURL:  d.sourcePath,
	}
}

func TestDaemonStatusBeforeWakeUp(t *testing.T) {
	daemon := startDaemon(t)
	ctx := context.Background()

	status, err := daemon.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Awake {
		t.Error("daemon reported awake before wake-up")
	}

	// Everything except status and wake-up refuses a dormant engine.
	if _, err := daemon.client.SpaceUsed(ctx); err == nil {
		t.Error("SpaceUsed succeeded on a dormant daemon")
	}

	if err := daemon.client.WakeUp(ctx); err != nil {
		t.Fatalf("WakeUp failed: %v", err)
	}
	status, err = daemon.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status after wake-up failed: %v", err)
	}
	if !status.Awake {
		t.Error("daemon still dormant after wake-up")
	}
}

func TestDaemonGetRoundtrip(t *testing.T) {
	daemon := startDaemon(t)
	ctx := context.Background()
	if err := daemon.client.WakeUp(ctx); err != nil {
		t.Fatal(err)
	}

	request := daemon.newRequest()
	if err := daemon.client.OpenLibrary(ctx, request.LibraryID); err != nil {
		t.Fatalf("OpenLibrary failed: %v", err)
	}

	request.Size = &engine.Dimensions{Width: 340, Height: 100}
	bitmap, err := daemon.client.Get(ctx, request)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if bitmap.Width != 350 {
		t.Errorf("bitmap width = %d, want 350", bitmap.Width)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(bitmap.Data))
	if err != nil {
		t.Fatalf("decoding returned bitmap: %v", err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() != bitmap.Width || bounds.Dy() != bitmap.Height {
		t.Errorf("decoded %dx%d, envelope says %dx%d",
			bounds.Dx(), bounds.Dy(), bitmap.Width, bitmap.Height)
	}

	status, err := daemon.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Thumbnails != 1 {
		t.Errorf("thumbnail count = %d, want 1", status.Thumbnails)
	}
}

func TestDaemonGenerateAndDiscard(t *testing.T) {
	daemon := startDaemon(t)
	ctx := context.Background()
	if err := daemon.client.WakeUp(ctx); err != nil {
		t.Fatal(err)
	}

	requests := []engine.ThumbRequest{daemon.newRequest(), daemon.newRequest()}
	if err := daemon.client.Generate(ctx, requests); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	inFlight, err := daemon.client.IsInFlight(ctx, requests[0])
	if err != nil {
		t.Fatalf("IsInFlight failed: %v", err)
	}
	if inFlight {
		t.Error("request still in flight after Generate returned")
	}

	if err := daemon.client.Prefetch(ctx, requests); err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}

	if err := daemon.client.Discard(ctx, requests[:1]); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if _, err := daemon.client.Get(ctx, requests[1]); err != nil {
		t.Errorf("sibling thumbnail lost after discard: %v", err)
	}

	status, err := daemon.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Thumbnails != 1 {
		t.Errorf("thumbnail count = %d, want 1", status.Thumbnails)
	}
}

func TestDaemonConfig(t *testing.T) {
	daemon := startDaemon(t)
	ctx := context.Background()
	if err := daemon.client.WakeUp(ctx); err != nil {
		t.Fatal(err)
	}

	config, err := daemon.client.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if config[engine.ConfigWorkersAuto] != "true" {
		t.Errorf("workers auto = %q, want true", config[engine.ConfigWorkersAuto])
	}
	if config[engine.ConfigStorageRoot] != daemon.storageRoot {
		t.Errorf("storage root = %q, want %q", config[engine.ConfigStorageRoot], daemon.storageRoot)
	}

	err = daemon.client.SetConfig(ctx, map[string]string{
		engine.ConfigWorkersAuto:  "false",
		engine.ConfigWorkersCount: "3",
	})
	if err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	config, err = daemon.client.GetConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if config[engine.ConfigWorkersCount] != "3" {
		t.Errorf("workers count = %q, want 3", config[engine.ConfigWorkersCount])
	}

	// Unparsable values for recognized keys surface as errors.
	if err := daemon.client.SetConfig(ctx, map[string]string{engine.ConfigCacheBytes: "lots"}); err == nil {
		t.Error("SetConfig accepted a non-numeric byte count")
	}
}

func TestDaemonSpaceAndStorageDir(t *testing.T) {
	daemon := startDaemon(t)
	ctx := context.Background()
	if err := daemon.client.WakeUp(ctx); err != nil {
		t.Fatal(err)
	}

	path, err := daemon.client.StorageDir(ctx)
	if err != nil {
		t.Fatalf("StorageDir failed: %v", err)
	}
	if path != daemon.storageRoot {
		t.Errorf("StorageDir = %q, want %q", path, daemon.storageRoot)
	}

	before, err := daemon.client.SpaceUsed(ctx)
	if err != nil {
		t.Fatalf("SpaceUsed failed: %v", err)
	}
	if _, err := daemon.client.Get(ctx, daemon.newRequest()); err != nil {
		t.Fatal(err)
	}
	after, err := daemon.client.SpaceUsed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after <= before {
		t.Errorf("space used did not grow: before=%d after=%d", before, after)
	}
}

func TestDaemonMoveStorage(t *testing.T) {
	daemon := startDaemon(t)
	ctx := context.Background()
	if err := daemon.client.WakeUp(ctx); err != nil {
		t.Fatal(err)
	}

	request := daemon.newRequest()
	if _, err := daemon.client.Get(ctx, request); err != nil {
		t.Fatal(err)
	}

	newRoot := filepath.Join(t.TempDir(), "relocated")
	if err := daemon.client.MoveStorage(ctx, newRoot, true, false); err != nil {
		t.Fatalf("MoveStorage failed: %v", err)
	}

	path, err := daemon.client.StorageDir(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if path != newRoot {
		t.Errorf("StorageDir after move = %q, want %q", path, newRoot)
	}

	// The thumbnail survives the relocation.
	bitmap, err := daemon.client.Get(ctx, request)
	if err != nil {
		t.Fatalf("Get after move failed: %v", err)
	}
	if len(bitmap.Data) == 0 {
		t.Error("empty bitmap after move")
	}
}

func TestDaemonMoveStorageConcurrentGet(t *testing.T) {
	daemon := startDaemon(t)
	ctx := context.Background()
	if err := daemon.client.WakeUp(ctx); err != nil {
		t.Fatal(err)
	}

	request := daemon.newRequest()
	if _, err := daemon.client.Get(ctx, request); err != nil {
		t.Fatal(err)
	}

	// Retrievals racing the move either complete before it or queue
	// behind it; none may fail.
	getErrors := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := daemon.client.Get(ctx, request)
			getErrors <- err
		}()
	}

	newRoot := filepath.Join(t.TempDir(), "relocated")
	if err := daemon.client.MoveStorage(ctx, newRoot, true, false); err != nil {
		t.Fatalf("MoveStorage failed: %v", err)
	}

	for i := 0; i < 8; i++ {
		if err := <-getErrors; err != nil {
			t.Errorf("concurrent Get failed: %v", err)
		}
	}

	if _, err := daemon.client.Get(ctx, request); err != nil {
		t.Errorf("Get after concurrent move failed: %v", err)
	}
}

func TestDaemonUnknownAction(t *testing.T) {
	service := &ThumbService{
		engine: engine.New(engine.Config{
			SettingsPath:       filepath.Join(t.TempDir(), "settings.yaml"),
			DefaultStorageRoot: t.TempDir(),
		}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	response := service.handle(context.Background(), thumbwire.Request{Action: "defragment"})
	if response.OK {
		t.Error("unknown action accepted")
	}

	// Get with no request payload is a protocol error, not a crash.
	response = service.handle(context.Background(), thumbwire.Request{Action: thumbwire.ActionGet})
	if response.OK {
		t.Error("get with no requests accepted")
	}
}
