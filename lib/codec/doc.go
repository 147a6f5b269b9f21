// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR configuration for Lustre.
//
// All persisted metadata blobs and every wire message between the
// thumbnail engine and its clients go through this package. Encoding
// uses Core Deterministic Encoding (RFC 8949 §4.2) so the same logical
// value always produces identical bytes; decoding ignores unknown
// fields for forward compatibility between engine and client versions.
package codec
