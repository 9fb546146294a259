// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mem exposes a byte-addressable view of the binary image being
// rewritten. The layout core only resolves absolute addresses through it;
// block recovery additionally reads bytes.
package mem

import "github.com/go-rewriter/stitch/addr"

// View resolves raw virtual addresses against the image's segments.
type View interface {
	// ResolveAbsolute maps a raw virtual address to the segment-tagged
	// concrete address covering it, if any segment does.
	ResolveAbsolute(vaddr uint64) (addr.Concrete, bool)
}
