// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package block models basic blocks as they move through the rewriter:
// concrete blocks lifted from the original text, symbolic blocks whose
// branch targets are symbolic addresses, and address-assigned blocks
// produced by the layout engine.
package block

import (
	"fmt"

	"github.com/go-rewriter/stitch/addr"
)

// FallKind states what an instruction does when control runs off its end.
type FallKind int

const (
	// FallUnknown marks an instruction the reifier has not visited.
	FallUnknown FallKind = iota
	// NoFallthrough marks an instruction control never falls out of.
	NoFallthrough
	// FallsThrough marks an instruction whose successor is the block
	// named by the annotation's To field.
	FallsThrough
)

// Fallthrough is the reifier's annotation on an instruction.
type Fallthrough struct {
	Kind FallKind
	To   addr.Symbolic
}

// Instr is one decoded or synthesized machine instruction. The encoding is
// kept verbatim; a branch whose target has been made symbolic additionally
// carries the target's symbolic address so the assembler can re-point the
// displacement once concrete addresses exist.
type Instr struct {
	Enc    []byte
	Target addr.Symbolic
	Fall   Fallthrough
}

// Annotate sets the instruction's fallthrough tag.
func (i *Instr) Annotate(f Fallthrough) { i.Fall = f }

// Concrete is a contiguous byte range at a known address, owning the
// ordered instructions decoded from it.
type Concrete struct {
	Addr    addr.Concrete
	ByteLen int
	Body    []Instr
}

// Size returns the sum of the block's instruction encodings.
func (b *Concrete) Size() int {
	n := 0
	for i := range b.Body {
		n += len(b.Body[i].Enc)
	}
	return n
}

// End returns the address one past the block's last byte.
func (b *Concrete) End() addr.Concrete {
	return b.Addr.Add(int64(b.ByteLen))
}

// Check verifies the block invariant: the instruction sizes sum to the
// block's byte range.
func (b *Concrete) Check() error {
	if n := b.Size(); n != b.ByteLen {
		return fmt.Errorf("block at %v: instructions cover %d bytes, range is %d", b.Addr, n, b.ByteLen)
	}
	return nil
}

// Symbolic is a block whose branch targets reference symbolic addresses.
// ID is the block's own symbolic address; Origin is the start of the
// concrete block it was derived from.
type Symbolic struct {
	ID     addr.Symbolic
	Origin addr.Concrete
	Body   []Instr
}

// Last returns the block's final instruction, or nil if the block is empty.
func (b *Symbolic) Last() *Instr {
	if len(b.Body) == 0 {
		return nil
	}
	return &b.Body[len(b.Body)-1]
}

// Assigned is a symbolic block pinned to its final concrete address with
// the byte size the layout reserved for it.
type Assigned struct {
	Block    *Symbolic
	Addr     addr.Concrete
	Reserved int
}
