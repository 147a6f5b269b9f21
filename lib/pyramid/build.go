// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package pyramid

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Source images arrive in whatever format the library holds;
	// register the common decoders.
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// Build resizes src to every applicable level and returns the encoded
// container. Levels whose edge exceeds the source's longer edge are
// skipped. A source smaller than every level yields a valid empty
// container.
func Build(src image.Image, levels []Level) ([]byte, error) {
	bounds := src.Bounds()
	longerEdge := bounds.Dx()
	if bounds.Dy() > longerEdge {
		longerEdge = bounds.Dy()
	}

	var renditions []Rendition
	for _, level := range levels {
		if level.Edge > longerEdge {
			continue
		}

		// Fit scales the longer edge to the target and lets the
		// shorter edge follow, preserving aspect ratio.
		resized := imaging.Fit(src, level.Edge, level.Edge, imaging.Lanczos)

		var buffer bytes.Buffer
		if err := jpeg.Encode(&buffer, resized, &jpeg.Options{Quality: level.Quality}); err != nil {
			return nil, fmt.Errorf("%w: level %d: %v", ErrEncodeFailed, level.Edge, err)
		}

		resizedBounds := resized.Bounds()
		renditions = append(renditions, Rendition{
			Edge:   level.Edge,
			Width:  resizedBounds.Dx(),
			Height: resizedBounds.Dy(),
			JPEG:   buffer.Bytes(),
		})
	}

	return encodeContainer(renditions)
}

// BuildFromBytes decodes an image file's bytes and builds its pyramid.
// The format is sniffed from the data; JPEG, PNG, and GIF sources are
// supported.
func BuildFromBytes(data []byte, levels []Level) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	return Build(src, levels)
}
