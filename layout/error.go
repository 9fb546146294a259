// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"

	"github.com/go-rewriter/stitch/addr"
)

// OverlappingFreeBlocksError is returned when two reclaimed spans of the
// original text overlap. It indicates an inconsistency in the block set
// handed to the layout, not a layout bug.
type OverlappingFreeBlocksError struct {
	A    addr.Concrete
	ALen int64
	B    addr.Concrete
	BLen int64
}

func (e OverlappingFreeBlocksError) Error() string {
	return fmt.Sprintf("free spans overlap: (%v, %d) and (%v, %d)", e.A, e.ALen, e.B, e.BLen)
}

// MissingFallthroughSuccessorError is returned when reification cannot
// find a symbolic block at the address immediately after a block whose
// terminator can fall through.
type MissingFallthroughSuccessorError struct {
	Block addr.Concrete
}

func (e MissingFallthroughSuccessorError) Error() string {
	return fmt.Sprintf("no fallthrough successor for block at %v", e.Block)
}

// EmptyBlockError is returned if a block with no instructions reaches
// reification.
type EmptyBlockError struct {
	Block addr.Concrete
}

func (e EmptyBlockError) Error() string {
	return fmt.Sprintf("empty block at %v reached reification", e.Block)
}

// ImmutableBlockModifiedError is returned if an immutable pair ends up in
// the modifiable part of a chunk.
type ImmutableBlockModifiedError struct {
	Block addr.Concrete
}

func (e ImmutableBlockModifiedError) Error() string {
	return fmt.Sprintf("immutable block at %v treated as modifiable", e.Block)
}

// UnassignedSymbolicBlockError is returned if the final address-tagging
// step finds a block the allocator never placed.
type UnassignedSymbolicBlockError struct {
	Sym addr.Symbolic
}

func (e UnassignedSymbolicBlockError) Error() string {
	return fmt.Sprintf("no address assigned to %v", e.Sym)
}
