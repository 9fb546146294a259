// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package assemble

import (
	"fmt"

	"github.com/go-rewriter/stitch/addr"
)

// ShapeMismatchError is returned when the pair slice and the layout's
// program do not line up one to one.
type ShapeMismatchError struct {
	Pairs    int
	Assigned int
}

func (e ShapeMismatchError) Error() string {
	return fmt.Sprintf("%d pairs against %d assigned blocks", e.Pairs, e.Assigned)
}

// UnresolvedSymbolError is returned when a branch references a symbolic
// address the layout never placed.
type UnresolvedSymbolError struct {
	Sym addr.Symbolic
}

func (e UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("branch target %v was never placed", e.Sym)
}

// BlockTooBigError is returned when a block encodes past the bytes the
// layout reserved for it.
type BlockTooBigError struct {
	Sym      addr.Symbolic
	Encoded  int
	Reserved int
}

func (e BlockTooBigError) Error() string {
	return fmt.Sprintf("block %v encodes to %d bytes, %d reserved", e.Sym, e.Encoded, e.Reserved)
}

// OutOfRangeError is returned when rendered bytes land outside both the
// text range and the fresh region.
type OutOfRangeError struct {
	Flat uint64
	Len  int
}

func (e OutOfRangeError) Error() string {
	return fmt.Sprintf("%d bytes at %#x fall outside the text and fresh regions", e.Len, e.Flat)
}
