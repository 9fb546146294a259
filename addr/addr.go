// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addr provides the address types used throughout the rewriter:
// concrete addresses inside a binary image, and symbolic addresses that
// stand in for locations the layout engine has not yet chosen.
package addr

import "fmt"

// Segment identifies one address space of a binary image. Addresses from
// different segments must never be mixed in arithmetic.
type Segment uint32

// Concrete is an address within a single segment of a binary image,
// either the original one or the rewritten one.
type Concrete struct {
	Seg Segment
	Off uint64
}

// NewConcrete returns the address at off within seg.
func NewConcrete(seg Segment, off uint64) Concrete {
	return Concrete{Seg: seg, Off: off}
}

// Add returns the address d bytes away from a within the same segment.
func (a Concrete) Add(d int64) Concrete {
	return Concrete{Seg: a.Seg, Off: uint64(int64(a.Off) + d)}
}

// Sub returns the signed byte distance from b to a. Both addresses must
// belong to the same segment; mixing segments is a programming error.
func (a Concrete) Sub(b Concrete) int64 {
	if a.Seg != b.Seg {
		panic(fmt.Sprintf("addr: cannot subtract %v from %v: different segments", b, a))
	}
	return int64(a.Off) - int64(b.Off)
}

// Abs returns the address's flat virtual address, valid across segments
// of one image. Displacements between segments are computed on absolute
// addresses; Sub stays segment-strict.
func (a Concrete) Abs() uint64 { return a.Off }

// Before reports whether a precedes b inside their common segment.
func (a Concrete) Before(b Concrete) bool {
	if a.Seg != b.Seg {
		panic(fmt.Sprintf("addr: cannot order %v against %v: different segments", a, b))
	}
	return a.Off < b.Off
}

func (a Concrete) String() string {
	return fmt.Sprintf("seg%d:%#x", a.Seg, a.Off)
}
