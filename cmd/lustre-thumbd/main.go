// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lustre-photos/lustre/lib/engine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socketPath  string
		stateDir    string
		storageRoot string
		debug       bool
	)

	flagSet := pflag.NewFlagSet("lustre-thumbd", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "Unix socket path to listen on (required)")
	flagSet.StringVar(&stateDir, "state-dir", "", "directory for the settings file (required)")
	flagSet.StringVar(&storageRoot, "storage-root", "", "default storage root for first run (required)")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if socketPath == "" {
		return fmt.Errorf("--socket is required")
	}
	if stateDir == "" {
		return fmt.Errorf("--state-dir is required")
	}
	if storageRoot == "" {
		return fmt.Errorf("--storage-root is required")
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	thumbEngine := engine.New(engine.Config{
		SettingsPath:       filepath.Join(stateDir, "settings.yaml"),
		DefaultStorageRoot: storageRoot,
		Logger:             logger,
	})

	service := &ThumbService{
		engine: thumbEngine,
		logger: logger,
	}
	if err := service.serve(ctx, socketPath); err != nil {
		return err
	}

	// Flush pending directory mutations before exit. Use a fresh
	// context — ctx is already cancelled at this point.
	if err := thumbEngine.Close(context.Background()); err != nil {
		logger.Error("engine shutdown failed", "error", err)
		return err
	}
	logger.Info("daemon stopped")
	return nil
}
