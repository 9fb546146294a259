// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package isa abstracts the instruction-set operations the layout engine
// needs. Concrete architectures live in subpackages; the engine itself
// never inspects machine encodings.
package isa

import (
	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
	"github.com/go-rewriter/stitch/mem"
)

// JumpKind classifies a block terminator.
type JumpKind int

const (
	NoJump JumpKind = iota
	DirectCall
	IndirectCall
	Return
	IndirectJump
	AbsoluteJump
	RelativeJump
)

func (k JumpKind) String() string {
	switch k {
	case NoJump:
		return "nojump"
	case DirectCall:
		return "directcall"
	case IndirectCall:
		return "indirectcall"
	case Return:
		return "return"
	case IndirectJump:
		return "indirectjump"
	case AbsoluteJump:
		return "absolutejump"
	case RelativeJump:
		return "relativejump"
	}
	return "jump(?)"
}

// Jump is the classification of one instruction. Target is set for kinds
// that name one (direct calls, absolute and relative jumps) when the
// memory view could resolve it; Off is the raw displacement of a relative
// jump.
type Jump struct {
	Kind        JumpKind
	Conditional bool
	Target      addr.Concrete
	HasTarget   bool
	Off         int64
}

// Unconditional reports whether control never continues past the
// instruction: an unconditional return, indirect jump, absolute jump or
// relative jump. Calls return to the next instruction and so always fall
// through.
func (j Jump) Unconditional() bool {
	if j.Conditional {
		return false
	}
	switch j.Kind {
	case Return, IndirectJump, AbsoluteJump, RelativeJump:
		return true
	}
	return false
}

// Arch is the capability object an architecture hands the layout engine.
type Arch interface {
	// Name identifies the architecture.
	Name() string

	// InstrSize returns the byte size of one decoded instruction.
	InstrSize(i block.Instr) int

	// BlockSize returns the byte size of a concrete block.
	BlockSize(b *block.Concrete) int

	// SymBlockSize returns an upper bound on the block's size once its
	// relative jumps are resolved against base.
	SymBlockSize(b *block.Symbolic, base addr.Concrete) int

	// ClassifyJump classifies i as if it were located at fake. The memory
	// view is used only to resolve an absolute target.
	ClassifyJump(i block.Instr, m mem.View, fake addr.Concrete) Jump

	// MakeRelativeJump synthesizes an unconditional jump from from to to.
	// Its encoded size is the jump size used in free-space accounting.
	MakeRelativeJump(from, to addr.Concrete) []block.Instr

	// MakePadding synthesizes n bytes of trap fill.
	MakePadding(n int) []block.Instr
}

// JumpSize returns the trampoline size the given architecture needs, by
// synthesizing a jump between two fake addresses.
func JumpSize(a Arch) int {
	fake := addr.NewConcrete(0, 0)
	n := 0
	for _, i := range a.MakeRelativeJump(fake, fake) {
		n += a.InstrSize(i)
	}
	return n
}
