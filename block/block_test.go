// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package block

import (
	"testing"

	"github.com/go-rewriter/stitch/addr"
)

func TestConcreteCheck(t *testing.T) {
	b := &Concrete{
		Addr:    addr.NewConcrete(0, 0x1000),
		ByteLen: 5,
		Body: []Instr{
			{Enc: []byte{0x90}},
			{Enc: []byte{0x48, 0x89, 0xc3}},
			{Enc: []byte{0xc3}},
		},
	}
	if err := b.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := b.End(); got != addr.NewConcrete(0, 0x1005) {
		t.Errorf("End = %v, want seg0:0x1005", got)
	}

	b.ByteLen = 6
	if err := b.Check(); err == nil {
		t.Fatalf("Check accepted mismatched byte range")
	}
}

func TestSymbolicLast(t *testing.T) {
	b := &Symbolic{}
	if b.Last() != nil {
		t.Fatalf("Last of empty block should be nil")
	}
	b.Body = []Instr{{Enc: []byte{0x90}}, {Enc: []byte{0xc3}}}
	last := b.Last()
	if last == nil || last.Enc[0] != 0xc3 {
		t.Fatalf("Last = %v, want the ret", last)
	}
	last.Annotate(Fallthrough{Kind: NoFallthrough})
	if b.Body[1].Fall.Kind != NoFallthrough {
		t.Fatalf("Annotate through Last did not stick")
	}
}
