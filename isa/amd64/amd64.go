// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package amd64 implements the isa.Arch capability for x86-64.
package amd64

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
	"github.com/go-rewriter/stitch/isa"
	"github.com/go-rewriter/stitch/mem"
)

const (
	mode = 64

	// jmpRel32Size is the size of the E9 rel32 trampoline.
	jmpRel32Size = 5

	int3 = 0xcc
)

// Arch is the x86-64 capability object.
type Arch struct{}

// New returns the x86-64 capability.
func New() *Arch { return &Arch{} }

// Name implements isa.Arch.
func (*Arch) Name() string { return "amd64" }

// InstrSize implements isa.Arch.
func (*Arch) InstrSize(i block.Instr) int { return len(i.Enc) }

// BlockSize implements isa.Arch.
func (*Arch) BlockSize(b *block.Concrete) int { return b.Size() }

// SymBlockSize implements isa.Arch. Symbolic branches are carried in
// their rel32 worst-case form, so the stored encodings bound the resolved
// size for any base; a reified fallthrough costs one more jump.
func (a *Arch) SymBlockSize(b *block.Symbolic, base addr.Concrete) int {
	n := 0
	for i := range b.Body {
		n += a.InstrSize(b.Body[i])
	}
	if last := b.Last(); last != nil && last.Fall.Kind == block.FallsThrough {
		n += jmpRel32Size
	}
	return n
}

// ClassifyJump implements isa.Arch. The instruction is classified as if it
// were located at fake; m resolves any target it names. An undecodable
// instruction classifies as NoJump.
func (a *Arch) ClassifyJump(i block.Instr, m mem.View, fake addr.Concrete) isa.Jump {
	inst, err := x86asm.Decode(i.Enc, mode)
	if err != nil {
		return isa.Jump{Kind: isa.NoJump}
	}

	resolve := func(j *isa.Jump, vaddr uint64) {
		if m == nil {
			return
		}
		if tgt, ok := m.ResolveAbsolute(vaddr); ok {
			j.Target = tgt
			j.HasTarget = true
		}
	}
	relTarget := func(j *isa.Jump) {
		rel, ok := inst.Args[0].(x86asm.Rel)
		if !ok {
			return
		}
		j.Off = int64(rel)
		resolve(j, fake.Abs()+uint64(inst.Len)+uint64(int64(rel)))
	}

	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return isa.Jump{Kind: isa.Return}

	case x86asm.JMP:
		j := isa.Jump{Kind: isa.RelativeJump}
		switch arg := inst.Args[0].(type) {
		case x86asm.Rel:
			relTarget(&j)
			return j
		case x86asm.Imm:
			j.Kind = isa.AbsoluteJump
			resolve(&j, uint64(arg))
			return j
		default:
			return isa.Jump{Kind: isa.IndirectJump}
		}

	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG,
		x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		j := isa.Jump{Kind: isa.RelativeJump, Conditional: true}
		relTarget(&j)
		return j

	case x86asm.CALL:
		switch arg := inst.Args[0].(type) {
		case x86asm.Rel:
			j := isa.Jump{Kind: isa.DirectCall}
			relTarget(&j)
			return j
		case x86asm.Imm:
			j := isa.Jump{Kind: isa.DirectCall}
			resolve(&j, uint64(arg))
			return j
		default:
			return isa.Jump{Kind: isa.IndirectCall}
		}
	}
	return isa.Jump{Kind: isa.NoJump}
}

// MakeRelativeJump implements isa.Arch. It synthesizes a single E9 rel32
// jump; the displacement is measured from the end of the jump.
func (*Arch) MakeRelativeJump(from, to addr.Concrete) []block.Instr {
	enc := make([]byte, jmpRel32Size)
	enc[0] = 0xe9
	disp := int64(to.Abs()) - int64(from.Abs()) - jmpRel32Size
	binary.LittleEndian.PutUint32(enc[1:], uint32(int32(disp)))
	return []block.Instr{{Enc: enc}}
}

// MakePadding implements isa.Arch. Reclaimed bytes are filled with int3 so
// stray control transfers trap instead of executing stale tails.
func (*Arch) MakePadding(n int) []block.Instr {
	fill := make([]block.Instr, n)
	for i := range fill {
		fill[i] = block.Instr{Enc: []byte{int3}}
	}
	return fill
}
