// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package pyramid

import "errors"

var (
	// ErrBadContainer indicates container bytes that do not parse:
	// wrong magic, truncated index or payloads, or an unsupported
	// format version.
	ErrBadContainer = errors.New("malformed pyramid container")

	// ErrBadSource indicates a source image that could not be decoded.
	ErrBadSource = errors.New("source image could not be decoded")

	// ErrEncodeFailed indicates a rendition that could not be encoded
	// to JPEG.
	ErrEncodeFailed = errors.New("rendition encoding failed")
)
