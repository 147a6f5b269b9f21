// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lustre-photos/lustre/lib/engine"
	"github.com/lustre-photos/lustre/lib/thumbwire"
)

// Connection timeouts.
const (
	// readTimeout is how long we wait for a client to send its
	// request after connecting. A well-behaved client sends it
	// immediately.
	readTimeout = 30 * time.Second

	// writeTimeout is how long we wait for the response write. The
	// handler itself has no deadline — get may generate a pyramid
	// and move-storage may copy a large tree.
	writeTimeout = 30 * time.Second
)

// ThumbService serves the thumbnail engine over a Unix socket.
type ThumbService struct {
	engine *engine.Engine
	logger *slog.Logger
}

// serve accepts connections until ctx is cancelled, then stops
// accepting and waits for active handlers to drain.
func (ts *ThumbService) serve(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	ts.logger.Info("thumbnail socket listening", "path", socketPath)

	var activeConnections sync.WaitGroup

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			ts.logger.Error("accept failed", "error", err)
			continue
		}

		activeConnections.Add(1)
		go func() {
			defer activeConnections.Done()
			ts.handleConnection(ctx, conn)
		}()
	}

	activeConnections.Wait()
	return nil
}

// handleConnection processes one request/response exchange.
func (ts *ThumbService) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	var request thumbwire.Request
	if err := thumbwire.ReadMessage(conn, &request); err != nil {
		ts.logger.Debug("reading request failed", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	response := ts.handle(ctx, request)
	if !response.OK {
		ts.logger.Warn("request failed", "action", request.Action, "error", response.Error)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := thumbwire.WriteMessage(conn, response); err != nil {
		ts.logger.Debug("writing response failed", "action", request.Action, "error", err)
	}
}

// handle dispatches one request to the engine.
func (ts *ThumbService) handle(ctx context.Context, request thumbwire.Request) thumbwire.Response {
	switch request.Action {
	case thumbwire.ActionWakeUp:
		return ts.result(nil, ts.engine.WakeUp(ctx))

	case thumbwire.ActionOpenLibrary:
		return ts.result(nil, ts.engine.OpenLibrary(ctx, request.Library))

	case thumbwire.ActionGet:
		single, err := singleRequest(request)
		if err != nil {
			return thumbwire.ErrorResponse(err)
		}
		rendition, err := ts.engine.Get(ctx, single)
		if err != nil {
			return thumbwire.ErrorResponse(err)
		}
		return ts.result(thumbwire.Bitmap{
			Width:  rendition.Width,
			Height: rendition.Height,
			Data:   rendition.JPEG,
		}, nil)

	case thumbwire.ActionGenerate:
		return ts.result(nil, ts.engine.Generate(ctx, request.Requests))

	case thumbwire.ActionDiscard:
		return ts.result(nil, ts.engine.Discard(ctx, request.Requests))

	case thumbwire.ActionPrefetch:
		ts.engine.Prefetch(request.Requests)
		return ts.result(nil, nil)

	case thumbwire.ActionInFlight:
		single, err := singleRequest(request)
		if err != nil {
			return thumbwire.ErrorResponse(err)
		}
		return ts.result(thumbwire.InFlightPayload{InFlight: ts.engine.IsInFlight(single)}, nil)

	case thumbwire.ActionGetConfig:
		config, err := ts.engine.GetConfig()
		if err != nil {
			return thumbwire.ErrorResponse(err)
		}
		return ts.result(thumbwire.ConfigPayload{Config: config}, nil)

	case thumbwire.ActionSetConfig:
		return ts.result(nil, ts.engine.SetConfig(request.Config))

	case thumbwire.ActionSpaceUsed:
		bytes, err := ts.engine.SpaceUsed()
		if err != nil {
			return thumbwire.ErrorResponse(err)
		}
		return ts.result(thumbwire.SpaceUsedPayload{Bytes: bytes}, nil)

	case thumbwire.ActionStorageDir:
		path, err := ts.engine.StorageDir()
		if err != nil {
			return thumbwire.ErrorResponse(err)
		}
		return ts.result(thumbwire.StorageDirPayload{Path: path}, nil)

	case thumbwire.ActionMoveStorage:
		if request.MoveTo == "" {
			return thumbwire.ErrorResponse(errors.New("move-storage: move-to is required"))
		}
		err := ts.engine.MoveStorage(ctx, request.MoveTo, request.MoveCopy, request.MoveDelete,
			func(done, total int) {
				ts.logger.Info("storage move progress", "done", done, "total", total)
			})
		return ts.result(nil, err)

	case thumbwire.ActionStatus:
		status := ts.engine.EngineStatus()
		return ts.result(thumbwire.StatusPayload{
			Awake:      status.Awake,
			Thumbnails: status.Thumbnails,
			CacheBytes: status.CacheBytes,
		}, nil)

	default:
		return thumbwire.ErrorResponse(fmt.Errorf("unknown action %q", request.Action))
	}
}

// result wraps a payload and error into the response envelope.
func (ts *ThumbService) result(payload any, err error) thumbwire.Response {
	if err != nil {
		return thumbwire.ErrorResponse(err)
	}
	response, encodeErr := thumbwire.OKResponse(payload)
	if encodeErr != nil {
		return thumbwire.ErrorResponse(encodeErr)
	}
	return response
}

// singleRequest extracts the one thumbnail request actions like get
// and in-flight require.
func singleRequest(request thumbwire.Request) (engine.ThumbRequest, error) {
	if len(request.Requests) != 1 {
		return engine.ThumbRequest{}, fmt.Errorf("%s: expected exactly one request, got %d",
			request.Action, len(request.Requests))
	}
	return request.Requests[0], nil
}
