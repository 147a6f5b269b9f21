// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package pyramid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Container format constants.
const (
	containerVersion = 1

	// containerHeaderSize is the fixed header: 8-byte magic + 4-byte
	// rendition count.
	containerHeaderSize = 12

	// renditionIndexSize is the size of each index record: target
	// edge, actual width, actual height, payload length — four
	// uint32 fields.
	renditionIndexSize = 16
)

// containerMagic is the 8-byte pyramid container signature.
var containerMagic = [8]byte{'L', 'U', 'S', 'P', 'Y', 'R', containerVersion, 0}

// Rendition is one resized encoding of the source image. Width and
// Height are the actual pixel dimensions, which differ from Edge on
// the shorter axis (and on both axes when the level's table entry
// changed after this pyramid was built).
type Rendition struct {
	Edge   int
	Width  int
	Height int
	JPEG   []byte
}

// Container is a parsed pyramid: renditions in ascending target-edge
// order.
type Container struct {
	renditions []Rendition
}

// Renditions returns the parsed renditions in stored order.
func (c *Container) Renditions() []Rendition {
	return c.renditions
}

// SelectClosest returns the rendition whose target edge is nearest the
// requested edge, measured by absolute difference. Ties go to the
// earlier (smaller) rendition. Requesting edge <= 0 returns the
// largest rendition. The second return is false only for an empty
// container.
func (c *Container) SelectClosest(edge int) (Rendition, bool) {
	if len(c.renditions) == 0 {
		return Rendition{}, false
	}
	if edge <= 0 {
		return c.renditions[len(c.renditions)-1], true
	}

	best := 0
	bestDistance := absDiff(c.renditions[0].Edge, edge)
	for i := 1; i < len(c.renditions); i++ {
		if distance := absDiff(c.renditions[i].Edge, edge); distance < bestDistance {
			best = i
			bestDistance = distance
		}
	}
	return c.renditions[best], true
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// encodeContainer serializes renditions into container bytes.
func encodeContainer(renditions []Rendition) ([]byte, error) {
	size := containerHeaderSize + len(renditions)*renditionIndexSize
	for i := range renditions {
		size += len(renditions[i].JPEG)
	}

	buffer := bytes.NewBuffer(make([]byte, 0, size))
	buffer.Write(containerMagic[:])

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(len(renditions)))
	buffer.Write(field[:])

	for i := range renditions {
		rendition := &renditions[i]
		for _, value := range []int{rendition.Edge, rendition.Width, rendition.Height, len(rendition.JPEG)} {
			binary.LittleEndian.PutUint32(field[:], uint32(value))
			buffer.Write(field[:])
		}
	}
	for i := range renditions {
		buffer.Write(renditions[i].JPEG)
	}

	return buffer.Bytes(), nil
}

// Parse reads container bytes back into a Container. Structural
// problems return errors wrapping ErrBadContainer.
func Parse(data []byte) (*Container, error) {
	reader := bytes.NewReader(data)

	var magic [8]byte
	if _, err := io.ReadFull(reader, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: reading magic: %v", ErrBadContainer, err)
	}
	if magic != containerMagic {
		if bytes.Equal(magic[:6], containerMagic[:6]) {
			return nil, fmt.Errorf("%w: container format version %d is not supported (this code supports version %d)",
				ErrBadContainer, magic[6], containerVersion)
		}
		return nil, fmt.Errorf("%w: invalid magic bytes", ErrBadContainer)
	}

	var field [4]byte
	if _, err := io.ReadFull(reader, field[:]); err != nil {
		return nil, fmt.Errorf("%w: reading rendition count: %v", ErrBadContainer, err)
	}
	count := binary.LittleEndian.Uint32(field[:])

	container := &Container{renditions: make([]Rendition, count)}
	lengths := make([]uint32, count)

	for i := uint32(0); i < count; i++ {
		rendition := &container.renditions[i]
		fields := []*int{&rendition.Edge, &rendition.Width, &rendition.Height}
		for _, target := range fields {
			if _, err := io.ReadFull(reader, field[:]); err != nil {
				return nil, fmt.Errorf("%w: reading rendition %d index: %v", ErrBadContainer, i, err)
			}
			*target = int(binary.LittleEndian.Uint32(field[:]))
		}
		if _, err := io.ReadFull(reader, field[:]); err != nil {
			return nil, fmt.Errorf("%w: reading rendition %d length: %v", ErrBadContainer, i, err)
		}
		lengths[i] = binary.LittleEndian.Uint32(field[:])
	}

	for i := uint32(0); i < count; i++ {
		payload := make([]byte, lengths[i])
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, fmt.Errorf("%w: reading rendition %d payload (%d bytes): %v",
				ErrBadContainer, i, lengths[i], err)
		}
		container.renditions[i].JPEG = payload
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after last payload", ErrBadContainer, reader.Len())
	}

	return container, nil
}
