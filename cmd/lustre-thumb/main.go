// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/lustre-photos/lustre/lib/engine"
	"github.com/lustre-photos/lustre/lib/thumbwire"
)

const socketEnvVar = "LUSTRE_THUMB_SOCKET"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() error {
	fmt.Fprintf(os.Stderr, `usage: lustre-thumb [--socket PATH] <command> [args]

commands:
  status                          daemon liveness and counters
  wake-up                         open the daemon's directory and store
  open-library <library-uuid>     register a library namespace
  get                             fetch one thumbnail (see get --help)
  generate                        generate pyramids for image=url pairs
  discard                         remove thumbnails for image=url pairs
  prefetch                        warm the chunk cache for image=url pairs
  in-flight                       check whether generation is queued
  config get                      print the daemon configuration
  config set <key=value>...       change daemon configuration
  space-used                      bytes under the storage root
  storage-dir                     current storage root
  move-storage <to>               relocate the storage root

The daemon socket comes from --socket or the %s
environment variable.
`, socketEnvVar)
	return fmt.Errorf("missing command")
}

func run(args []string) error {
	socketPath := os.Getenv(socketEnvVar)

	global := pflag.NewFlagSet("lustre-thumb", pflag.ContinueOnError)
	global.StringVar(&socketPath, "socket", socketPath, "daemon Unix socket path")
	global.SetInterspersed(false)
	if err := global.Parse(args); err != nil {
		return err
	}

	remaining := global.Args()
	if len(remaining) == 0 {
		return usage()
	}
	if socketPath == "" {
		return fmt.Errorf("no socket: pass --socket or set %s", socketEnvVar)
	}

	client := thumbwire.NewClient(socketPath)
	ctx := context.Background()
	command, commandArgs := remaining[0], remaining[1:]

	switch command {
	case "status":
		return runStatus(ctx, client)
	case "wake-up":
		return client.WakeUp(ctx)
	case "open-library":
		return runOpenLibrary(ctx, client, commandArgs)
	case "get":
		return runGet(ctx, client, commandArgs)
	case "generate":
		return runBatch(ctx, client, commandArgs, "generate", client.Generate)
	case "discard":
		return runBatch(ctx, client, commandArgs, "discard", client.Discard)
	case "prefetch":
		return runBatch(ctx, client, commandArgs, "prefetch", client.Prefetch)
	case "in-flight":
		return runInFlight(ctx, client, commandArgs)
	case "config":
		return runConfig(ctx, client, commandArgs)
	case "space-used":
		return runSpaceUsed(ctx, client)
	case "storage-dir":
		return runStorageDir(ctx, client)
	case "move-storage":
		return runMoveStorage(ctx, client, commandArgs)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runStatus(ctx context.Context, client *thumbwire.Client) error {
	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("awake:      %v\n", status.Awake)
	if status.Awake {
		fmt.Printf("thumbnails: %d\n", status.Thumbnails)
		fmt.Printf("cache:      %d bytes\n", status.CacheBytes)
	}
	return nil
}

func runOpenLibrary(ctx context.Context, client *thumbwire.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lustre-thumb open-library <library-uuid>")
	}
	libraryID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parsing library ID: %w", err)
	}
	return client.OpenLibrary(ctx, libraryID)
}

func runGet(ctx context.Context, client *thumbwire.Client, args []string) error {
	var (
		libraryArg string
		imageArg   string
		url        string
		width      int
		height     int
		outPath    string
	)
	flags := pflag.NewFlagSet("get", pflag.ContinueOnError)
	flags.StringVar(&libraryArg, "library", "", "library UUID (required)")
	flags.StringVar(&imageArg, "image", "", "image UUID (required)")
	flags.StringVar(&url, "url", "", "source image URL, used when generating (required)")
	flags.IntVar(&width, "width", 0, "desired display width in pixels")
	flags.IntVar(&height, "height", 0, "desired display height in pixels")
	flags.StringVar(&outPath, "out", "", "write the JPEG here instead of stdout")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if url == "" {
		return fmt.Errorf("--url is required")
	}
	request, err := buildRequest(libraryArg, imageArg, url)
	if err != nil {
		return err
	}
	if width > 0 || height > 0 {
		request.Size = &engine.Dimensions{Width: width, Height: height}
	}

	bitmap, err := client.Get(ctx, request)
	if err != nil {
		return err
	}

	if outPath == "" {
		_, err := os.Stdout.Write(bitmap.Data)
		return err
	}
	if err := os.WriteFile(outPath, bitmap.Data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%dx%d JPEG, %d bytes -> %s\n",
		bitmap.Width, bitmap.Height, len(bitmap.Data), outPath)
	return nil
}

// runBatch handles generate, discard, and prefetch: a --library flag
// plus image-uuid=url positional pairs.
func runBatch(ctx context.Context, client *thumbwire.Client, args []string, name string,
	call func(context.Context, []engine.ThumbRequest) error) error {
	var libraryArg string
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringVar(&libraryArg, "library", "", "library UUID (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	pairs := flags.Args()
	if libraryArg == "" || len(pairs) == 0 {
		return fmt.Errorf("usage: lustre-thumb %s --library <uuid> <image-uuid=url>...", name)
	}
	libraryID, err := uuid.Parse(libraryArg)
	if err != nil {
		return fmt.Errorf("parsing library ID: %w", err)
	}

	requests := make([]engine.ThumbRequest, 0, len(pairs))
	for _, pair := range pairs {
		imageArg, url, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("%q: expected image-uuid=url", pair)
		}
		imageID, err := uuid.Parse(imageArg)
		if err != nil {
			return fmt.Errorf("%q: parsing image ID: %w", pair, err)
		}
		requests = append(requests, engine.ThumbRequest{
			LibraryID: libraryID,
			ImageID:   imageID,
			ImageURL:  url,
		})
	}
	return call(ctx, requests)
}

func runInFlight(ctx context.Context, client *thumbwire.Client, args []string) error {
	var libraryArg, imageArg string
	flags := pflag.NewFlagSet("in-flight", pflag.ContinueOnError)
	flags.StringVar(&libraryArg, "library", "", "library UUID (required)")
	flags.StringVar(&imageArg, "image", "", "image UUID (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	request, err := buildRequest(libraryArg, imageArg, "-")
	if err != nil {
		return err
	}
	inFlight, err := client.IsInFlight(ctx, request)
	if err != nil {
		return err
	}
	fmt.Println(inFlight)
	return nil
}

func runConfig(ctx context.Context, client *thumbwire.Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: lustre-thumb config get | config set <key=value>...")
	}
	switch args[0] {
	case "get":
		config, err := client.GetConfig(ctx)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(config))
		for key := range config {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("%s=%s\n", key, config[key])
		}
		return nil
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: lustre-thumb config set <key=value>...")
		}
		values := make(map[string]string, len(args)-1)
		for _, pair := range args[1:] {
			key, value, found := strings.Cut(pair, "=")
			if !found {
				return fmt.Errorf("%q: expected key=value", pair)
			}
			values[key] = value
		}
		return client.SetConfig(ctx, values)
	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

func runSpaceUsed(ctx context.Context, client *thumbwire.Client) error {
	bytes, err := client.SpaceUsed(ctx)
	if err != nil {
		return err
	}
	fmt.Println(bytes)
	return nil
}

func runStorageDir(ctx context.Context, client *thumbwire.Client) error {
	path, err := client.StorageDir(ctx)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runMoveStorage(ctx context.Context, client *thumbwire.Client, args []string) error {
	var (
		noCopy    bool
		deleteOld bool
	)
	flags := pflag.NewFlagSet("move-storage", pflag.ContinueOnError)
	flags.BoolVar(&noCopy, "no-copy", false, "do not copy existing chunks to the new root")
	flags.BoolVar(&deleteOld, "delete-old", false, "trash the old root after the move")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if len(flags.Args()) != 1 {
		return fmt.Errorf("usage: lustre-thumb move-storage [--no-copy] [--delete-old] <to>")
	}
	return client.MoveStorage(ctx, flags.Args()[0], !noCopy, deleteOld)
}

// buildRequest parses the shared library/image flags into a request.
func buildRequest(libraryArg, imageArg, url string) (engine.ThumbRequest, error) {
	if libraryArg == "" || imageArg == "" {
		return engine.ThumbRequest{}, fmt.Errorf("--library and --image are required")
	}
	libraryID, err := uuid.Parse(libraryArg)
	if err != nil {
		return engine.ThumbRequest{}, fmt.Errorf("parsing library ID: %w", err)
	}
	imageID, err := uuid.Parse(imageArg)
	if err != nil {
		return engine.ThumbRequest{}, fmt.Errorf("parsing image ID: %w", err)
	}
	return engine.ThumbRequest{LibraryID: libraryID, ImageID: imageID, ImageURL: url}, nil
}
