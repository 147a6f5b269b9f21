// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package thumbwire

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/lustre-photos/lustre/lib/codec"
	"github.com/lustre-photos/lustre/lib/engine"
)

// Client timeouts.
const (
	// clientDialTimeout is the maximum time to wait for a connection
	// to the daemon socket.
	clientDialTimeout = 5 * time.Second

	// clientResponseTimeout is how long the client waits for a
	// response. Generous because get may generate a pyramid and
	// move-storage may copy a large tree.
	clientResponseTimeout = 10 * time.Minute
)

// Client communicates with the thumbnail daemon over its Unix socket.
// Each method opens a new connection, performs one request/response
// exchange, and closes the connection. Safe for concurrent use.
type Client struct {
	socketPath string
}

// NewClient creates a client for the daemon at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// WakeUp opens the daemon's directory and store. Idempotent.
func (c *Client) WakeUp(ctx context.Context) error {
	return c.call(ctx, Request{Action: ActionWakeUp}, nil)
}

// OpenLibrary registers a library namespace.
func (c *Client) OpenLibrary(ctx context.Context, libraryID uuid.UUID) error {
	return c.call(ctx, Request{Action: ActionOpenLibrary, Library: libraryID}, nil)
}

// Get retrieves a thumbnail, generating it on a miss.
func (c *Client) Get(ctx context.Context, request engine.ThumbRequest) (*Bitmap, error) {
	var bitmap Bitmap
	err := c.call(ctx, Request{Action: ActionGet, Requests: []engine.ThumbRequest{request}}, &bitmap)
	if err != nil {
		return nil, err
	}
	return &bitmap, nil
}

// Generate requests pyramid generation for a batch. Blocks until the
// daemon has finished the batch.
func (c *Client) Generate(ctx context.Context, requests []engine.ThumbRequest) error {
	return c.call(ctx, Request{Action: ActionGenerate, Requests: requests}, nil)
}

// Discard removes thumbnails.
func (c *Client) Discard(ctx context.Context, requests []engine.ThumbRequest) error {
	return c.call(ctx, Request{Action: ActionDiscard, Requests: requests}, nil)
}

// Prefetch warms the daemon's chunk cache for anticipated reads.
func (c *Client) Prefetch(ctx context.Context, requests []engine.ThumbRequest) error {
	return c.call(ctx, Request{Action: ActionPrefetch, Requests: requests}, nil)
}

// IsInFlight reports whether generation for the request is queued or
// running.
func (c *Client) IsInFlight(ctx context.Context, request engine.ThumbRequest) (bool, error) {
	var payload InFlightPayload
	err := c.call(ctx, Request{Action: ActionInFlight, Requests: []engine.ThumbRequest{request}}, &payload)
	if err != nil {
		return false, err
	}
	return payload.InFlight, nil
}

// GetConfig returns the daemon's whitelisted configuration.
func (c *Client) GetConfig(ctx context.Context) (map[string]string, error) {
	var payload ConfigPayload
	if err := c.call(ctx, Request{Action: ActionGetConfig}, &payload); err != nil {
		return nil, err
	}
	return payload.Config, nil
}

// SetConfig applies whitelisted configuration values.
func (c *Client) SetConfig(ctx context.Context, values map[string]string) error {
	return c.call(ctx, Request{Action: ActionSetConfig, Config: values}, nil)
}

// SpaceUsed returns the bytes under the daemon's storage root.
func (c *Client) SpaceUsed(ctx context.Context) (int64, error) {
	var payload SpaceUsedPayload
	if err := c.call(ctx, Request{Action: ActionSpaceUsed}, &payload); err != nil {
		return 0, err
	}
	return payload.Bytes, nil
}

// StorageDir returns the daemon's current storage root.
func (c *Client) StorageDir(ctx context.Context) (string, error) {
	var payload StorageDirPayload
	if err := c.call(ctx, Request{Action: ActionStorageDir}, &payload); err != nil {
		return "", err
	}
	return payload.Path, nil
}

// MoveStorage relocates the daemon's storage root. Blocks until the
// move completes.
func (c *Client) MoveStorage(ctx context.Context, to string, copyExisting, deleteExisting bool) error {
	return c.call(ctx, Request{
		Action:     ActionMoveStorage,
		MoveTo:     to,
		MoveCopy:   copyExisting,
		MoveDelete: deleteExisting,
	}, nil)
}

// Status returns daemon liveness and catalog counters. Works before
// WakeUp.
func (c *Client) Status(ctx context.Context) (*StatusPayload, error) {
	var payload StatusPayload
	if err := c.call(ctx, Request{Action: ActionStatus}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// call performs one request/response exchange.
func (c *Client) call(ctx context.Context, request Request, result any) error {
	dialer := net.Dialer{Timeout: clientDialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("%s: connecting to %s: %w", request.Action, c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(clientResponseTimeout))
	}

	if err := WriteMessage(conn, request); err != nil {
		return fmt.Errorf("%s: writing request: %w", request.Action, err)
	}

	var response Response
	if err := ReadMessage(conn, &response); err != nil {
		return fmt.Errorf("%s: reading response: %w", request.Action, err)
	}
	if !response.OK {
		return fmt.Errorf("%s: %s", request.Action, response.Error)
	}

	if result != nil {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("%s: decoding response payload: %w", request.Action, err)
		}
	}
	return nil
}
