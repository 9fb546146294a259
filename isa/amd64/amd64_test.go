// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amd64

import (
	"bytes"
	"testing"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
	"github.com/go-rewriter/stitch/isa"
)

type fakeView struct {
	lo, hi uint64
}

func (v fakeView) ResolveAbsolute(vaddr uint64) (addr.Concrete, bool) {
	if vaddr >= v.lo && vaddr < v.hi {
		return addr.NewConcrete(0, vaddr), true
	}
	return addr.Concrete{}, false
}

func TestClassifyJump(t *testing.T) {
	a := New()
	view := fakeView{lo: 0x1000, hi: 0x2000}
	at := addr.NewConcrete(0, 0x1100)

	for _, tc := range []struct {
		name string
		enc  []byte
		kind isa.JumpKind
		cond bool
	}{
		{"ret", []byte{0xc3}, isa.Return, false},
		{"jmp rel32", []byte{0xe9, 0x10, 0x00, 0x00, 0x00}, isa.RelativeJump, false},
		{"jmp rel8", []byte{0xeb, 0x10}, isa.RelativeJump, false},
		{"je rel32", []byte{0x0f, 0x84, 0x10, 0x00, 0x00, 0x00}, isa.RelativeJump, true},
		{"jne rel8", []byte{0x75, 0x10}, isa.RelativeJump, true},
		{"jmp *rax", []byte{0xff, 0xe0}, isa.IndirectJump, false},
		{"call rel32", []byte{0xe8, 0x10, 0x00, 0x00, 0x00}, isa.DirectCall, false},
		{"call *rax", []byte{0xff, 0xd0}, isa.IndirectCall, false},
		{"mov", []byte{0x48, 0x89, 0xd8}, isa.NoJump, false},
		{"nop", []byte{0x90}, isa.NoJump, false},
	} {
		j := a.ClassifyJump(block.Instr{Enc: tc.enc}, view, at)
		if j.Kind != tc.kind {
			t.Errorf("%s: kind = %v, want %v", tc.name, j.Kind, tc.kind)
		}
		if j.Conditional != tc.cond {
			t.Errorf("%s: conditional = %v, want %v", tc.name, j.Conditional, tc.cond)
		}
	}
}

func TestClassifyJumpResolvesTarget(t *testing.T) {
	a := New()
	view := fakeView{lo: 0x1000, hi: 0x2000}
	at := addr.NewConcrete(0, 0x1100)

	// jmp .+0x10 from 0x1100: target 0x1115.
	j := a.ClassifyJump(block.Instr{Enc: []byte{0xe9, 0x10, 0x00, 0x00, 0x00}}, view, at)
	if !j.HasTarget {
		t.Fatalf("in-range target not resolved")
	}
	if j.Target.Off != 0x1115 {
		t.Fatalf("target = %v, want seg0:0x1115", j.Target)
	}
	if j.Off != 0x10 {
		t.Fatalf("displacement = %d, want 16", j.Off)
	}

	// Same jump classified far outside the view.
	j = a.ClassifyJump(block.Instr{Enc: []byte{0xe9, 0x10, 0x00, 0x00, 0x00}}, view, addr.NewConcrete(0, 0x9000))
	if j.HasTarget {
		t.Fatalf("out-of-range target resolved to %v", j.Target)
	}
}

func TestUnconditional(t *testing.T) {
	a := New()
	at := addr.NewConcrete(0, 0x1000)
	if j := a.ClassifyJump(block.Instr{Enc: []byte{0xc3}}, nil, at); !j.Unconditional() {
		t.Errorf("ret should be unconditional")
	}
	if j := a.ClassifyJump(block.Instr{Enc: []byte{0x75, 0x10}}, nil, at); j.Unconditional() {
		t.Errorf("jne should not be unconditional")
	}
	if j := a.ClassifyJump(block.Instr{Enc: []byte{0xe8, 0x10, 0x00, 0x00, 0x00}}, nil, at); j.Unconditional() {
		t.Errorf("a call falls through")
	}
}

func TestMakeRelativeJump(t *testing.T) {
	a := New()
	from := addr.NewConcrete(0, 0x1000)
	to := addr.NewConcrete(1, 0x800000)

	jmp := a.MakeRelativeJump(from, to)
	if len(jmp) != 1 {
		t.Fatalf("got %d instructions, want 1", len(jmp))
	}
	want := []byte{0xe9, 0xfb, 0xef, 0x7f, 0x00} // 0x800000 - 0x1005
	if !bytes.Equal(jmp[0].Enc, want) {
		t.Fatalf("encoding = % x, want % x", jmp[0].Enc, want)
	}
	if got := isa.JumpSize(a); got != 5 {
		t.Fatalf("JumpSize = %d, want 5", got)
	}

	// Backwards jump encodes a negative displacement.
	back := a.MakeRelativeJump(to, from)
	wantBack := []byte{0xe9, 0xfb, 0x0f, 0x80, 0xff} // 0x1000 - 0x800005
	if !bytes.Equal(back[0].Enc, wantBack) {
		t.Fatalf("encoding = % x, want % x", back[0].Enc, wantBack)
	}
}

func TestMakePadding(t *testing.T) {
	a := New()
	pad := a.MakePadding(7)
	total := 0
	for _, i := range pad {
		total += len(i.Enc)
		for _, b := range i.Enc {
			if b != 0xcc {
				t.Fatalf("padding byte %#x, want int3", b)
			}
		}
	}
	if total != 7 {
		t.Fatalf("padding covers %d bytes, want 7", total)
	}
}

func TestSymBlockSizeCountsFallthroughJump(t *testing.T) {
	a := New()
	b := &block.Symbolic{Body: []block.Instr{
		{Enc: []byte{0x90}},
		{Enc: []byte{0x75, 0x10}},
	}}
	base := addr.NewConcrete(1, 0x800000)
	if got := a.SymBlockSize(b, base); got != 3 {
		t.Fatalf("size = %d, want 3", got)
	}
	b.Last().Annotate(block.Fallthrough{Kind: block.FallsThrough, To: 1})
	if got := a.SymBlockSize(b, base); got != 8 {
		t.Fatalf("size with fallthrough = %d, want 8", got)
	}
}
