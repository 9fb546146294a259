// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inject builds raw amd64 payloads for the layout engine's
// injected-code path. Payloads are assembled from obj.Prog sequences and
// are expected to be reached by a synthesized call from a rewritten
// block.
package inject

import (
	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// HitCounter assembles a stub that increments the 8-byte counter at
// counterAddr and returns. Registers and flags are preserved.
func HitCounter(counterAddr uint64) ([]byte, error) {
	// pushfq
	// pushq rax
	// movq  $counterAddr, rax
	// incq  (rax)
	// popq  rax
	// popfq
	// ret
	builder, err := asm.NewBuilder("amd64", 16)
	if err != nil {
		return nil, err
	}

	prog := builder.NewProg()
	prog.As = x86.APUSHFQ
	builder.AddInstruction(prog)

	prog = builder.NewProg()
	prog.As = x86.APUSHQ
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = x86.REG_AX
	builder.AddInstruction(prog)

	prog = builder.NewProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = int64(counterAddr)
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = x86.REG_AX
	builder.AddInstruction(prog)

	prog = builder.NewProg()
	prog.As = x86.AINCQ
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = x86.REG_AX
	builder.AddInstruction(prog)

	prog = builder.NewProg()
	prog.As = x86.APOPQ
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = x86.REG_AX
	builder.AddInstruction(prog)

	prog = builder.NewProg()
	prog.As = x86.APOPFQ
	builder.AddInstruction(prog)

	ret := builder.NewProg()
	ret.As = obj.ARET
	builder.AddInstruction(ret)

	return builder.Assemble(), nil
}

// Exit assembles a stub that terminates the process through the exit
// syscall with the given status.
func Exit(status int32) ([]byte, error) {
	// movq $60, rax
	// movq $status, rdi
	// syscall
	builder, err := asm.NewBuilder("amd64", 8)
	if err != nil {
		return nil, err
	}

	prog := builder.NewProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = 60
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = x86.REG_AX
	builder.AddInstruction(prog)

	prog = builder.NewProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = int64(status)
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = x86.REG_DI
	builder.AddInstruction(prog)

	prog = builder.NewProg()
	prog.As = x86.ASYSCALL
	builder.AddInstruction(prog)

	return builder.Assemble(), nil
}
