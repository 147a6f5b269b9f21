// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package thumbwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/lustre-photos/lustre/lib/codec"
	"github.com/lustre-photos/lustre/lib/engine"
)

// MaxMessageSize caps a single protocol message. The largest
// realistic message is a get response carrying one JPEG rendition; 16
// MB leaves room well beyond any configured pyramid level.
const MaxMessageSize = 16 * 1024 * 1024

// Actions understood by the daemon.
const (
	ActionWakeUp      = "wake-up"
	ActionOpenLibrary = "open-library"
	ActionGet         = "get"
	ActionGenerate    = "generate"
	ActionDiscard     = "discard"
	ActionPrefetch    = "prefetch"
	ActionInFlight    = "in-flight"
	ActionGetConfig   = "get-config"
	ActionSetConfig   = "set-config"
	ActionSpaceUsed   = "space-used"
	ActionStorageDir  = "storage-dir"
	ActionMoveStorage = "move-storage"
	ActionStatus      = "status"
)

// Request is the envelope for every client request. Action selects
// the operation; the remaining fields are populated per action and
// ignored otherwise.
type Request struct {
	Action string `cbor:"action"`

	// Library names the library for open-library.
	Library uuid.UUID `cbor:"library,omitempty"`

	// Requests carries the thumbnail requests for get (exactly one),
	// generate, discard, prefetch, and in-flight (exactly one).
	Requests []engine.ThumbRequest `cbor:"requests,omitempty"`

	// Config carries the key/value pairs for set-config.
	Config map[string]string `cbor:"config,omitempty"`

	// Move parameters for move-storage.
	MoveTo     string `cbor:"move-to,omitempty"`
	MoveCopy   bool   `cbor:"move-copy,omitempty"`
	MoveDelete bool   `cbor:"move-delete,omitempty"`
}

// Response is the envelope for every daemon reply. When OK is false,
// Error holds a human-readable message and Data is empty; otherwise
// Data holds the action-specific payload (possibly empty for actions
// with nothing to report).
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Bitmap is the get payload: one rendition's encoded JPEG plus its
// pixel dimensions.
type Bitmap struct {
	Width  int    `cbor:"width"`
	Height int    `cbor:"height"`
	Data   []byte `cbor:"data"`
}

// ConfigPayload is the get-config payload.
type ConfigPayload struct {
	Config map[string]string `cbor:"config"`
}

// SpaceUsedPayload is the space-used payload.
type SpaceUsedPayload struct {
	Bytes int64 `cbor:"bytes"`
}

// StorageDirPayload is the storage-dir payload.
type StorageDirPayload struct {
	Path string `cbor:"path"`
}

// InFlightPayload is the in-flight payload.
type InFlightPayload struct {
	InFlight bool `cbor:"in-flight"`
}

// StatusPayload is the status payload: daemon liveness plus a few
// catalog counters.
type StatusPayload struct {
	Awake      bool  `cbor:"awake"`
	Thumbnails int   `cbor:"thumbnails"`
	CacheBytes int64 `cbor:"cache-bytes"`
}

// WriteMessage encodes v as CBOR and writes it with a 4-byte length
// prefix.
func WriteMessage(w io.Writer, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("writing message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed CBOR message and decodes it
// into v. Rejects messages larger than MaxMessageSize.
func ReadMessage(r io.Reader, v any) error {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return fmt.Errorf("reading message length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("reading message body: %w", err)
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// OKResponse builds a success envelope with the given payload.
func OKResponse(payload any) (Response, error) {
	if payload == nil {
		return Response{OK: true}, nil
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encoding response payload: %w", err)
	}
	return Response{OK: true, Data: data}, nil
}

// ErrorResponse builds a failure envelope.
func ErrorResponse(err error) Response {
	return Response{Error: err.Error()}
}
