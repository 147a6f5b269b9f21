// Copyright 2026 The Lustre Authors
// SPDX-License-Identifier: Apache-2.0

package pyramid

// Level describes one pyramid rendition: the target length of the
// longer edge and the JPEG quality used at that size. Larger
// renditions get higher quality — compression artifacts are more
// visible at larger display sizes, while the smallest grid thumbnails
// tolerate aggressive compression.
type Level struct {
	Edge    int
	Quality int
}

// DefaultLevels is the standard pyramid: small grid cells up through a
// preview that fills most screens. Changing the table only affects
// newly generated pyramids; stored containers carry their actual
// dimensions and remain readable.
var DefaultLevels = []Level{
	{Edge: 100, Quality: 60},
	{Edge: 150, Quality: 65},
	{Edge: 350, Quality: 70},
	{Edge: 750, Quality: 75},
	{Edge: 1250, Quality: 80},
}
