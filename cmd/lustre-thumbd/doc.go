// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// lustre-thumbd is the thumbnail daemon: it owns the thumbnail
// directory and chunk store and serves the photo browser over a Unix
// socket.
//
// Connection protocol: length-prefixed CBOR (4-byte big-endian uint32
// length + CBOR bytes), one request/response exchange per connection.
// Requests are a thumbwire.Request envelope selected by action;
// responses are the {ok, error, data} envelope. See lib/thumbwire for
// the message types and the Go client.
//
// The daemon starts dormant: the engine opens its directory and store
// on the first wake-up action, so a browser can probe status on a
// cold daemon without forcing storage I/O.
package main
