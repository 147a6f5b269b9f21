// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// Package thumbwire defines the thumbnail daemon's Unix socket
// protocol and its client.
//
// The protocol is length-prefixed CBOR: every message is a 4-byte
// big-endian uint32 length followed by that many bytes of CBOR. Each
// connection carries one request/response exchange — clients dial per
// call. Requests are a single envelope with an "action" field;
// responses are an {ok, error, data} envelope whose data payload is
// action-specific.
//
// The get action returns the selected rendition's encoded JPEG bytes
// together with its pixel dimensions. The GUI process decodes the
// JPEG itself; pixels never cross the socket uncompressed.
package thumbwire
