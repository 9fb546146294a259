// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disasm recovers basic blocks from the text of an x86-64 image.
// It performs a linear sweep over the text range, splits it into basic
// blocks at branch targets and terminators, and derives symbolic blocks
// whose in-range branch targets reference symbolic addresses.
package disasm

import (
	"sort"

	"golang.org/x/arch/x86/x86asm"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
	"github.com/go-rewriter/stitch/mem"
)

const mode = 64

// Recovery is the recovered block set of one text range.
type Recovery struct {
	// Pairs holds one pair per basic block in ascending address order,
	// all initially unmodified.
	Pairs []*block.Pair

	// Funcs maps each recognized function entry to the addresses of the
	// blocks between it and the next entry.
	Funcs map[addr.Concrete][]addr.Concrete
}

// Recover disassembles size bytes of text at start and splits them into
// basic blocks. Symbolic addresses are drawn from syms.
func Recover(im *mem.Image, start addr.Concrete, size int, syms *addr.Source) (*Recovery, error) {
	data, err := im.Bytes(start, size)
	if err != nil {
		return nil, err
	}
	return RecoverBytes(data, start, syms)
}

// RecoverBytes is Recover over an in-memory text range.
func RecoverBytes(data []byte, start addr.Concrete, syms *addr.Source) (*Recovery, error) {
	insts, err := sweep(start, data)
	if err != nil {
		return nil, err
	}

	leaders, entries := findLeaders(start, len(data), insts)
	pairs := buildPairs(start, leaders, insts, syms)
	symAt := make(map[uint64]addr.Symbolic, len(pairs))
	for _, p := range pairs {
		symAt[p.Orig.Addr.Abs()] = p.Sym.ID
	}
	for _, p := range pairs {
		symbolize(p, symAt)
	}

	return &Recovery{
		Pairs: pairs,
		Funcs: splitFuncs(pairs, entries),
	}, nil
}

// SortedEntries returns the recovered function entries in ascending
// address order.
func (r *Recovery) SortedEntries() []addr.Concrete {
	entries := make([]addr.Concrete, 0, len(r.Funcs))
	for e := range r.Funcs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Abs() < entries[j].Abs() })
	return entries
}

// inst is one decoded instruction with its address.
type inst struct {
	addr addr.Concrete
	raw  x86asm.Inst
	enc  []byte
}

// sweep decodes the whole range front to back.
func sweep(start addr.Concrete, data []byte) ([]inst, error) {
	var insts []inst
	off := 0
	for off < len(data) {
		at := start.Add(int64(off))
		raw, err := x86asm.Decode(data[off:], mode)
		// x86asm reports a truncated or invalid encoding as a bare prefix
		// byte with no opcode rather than as an error.
		if err != nil || raw.Op == 0 {
			return nil, TruncatedInstructionError{Addr: at}
		}
		insts = append(insts, inst{
			addr: at,
			raw:  raw,
			enc:  data[off : off+raw.Len],
		})
		off += raw.Len
	}
	return insts, nil
}

// branchTarget returns the flat target of a PC-relative branch, if i is
// one.
func branchTarget(i inst) (uint64, bool) {
	switch i.raw.Op {
	case x86asm.JMP, x86asm.CALL,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG,
		x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		if rel, ok := i.raw.Args[0].(x86asm.Rel); ok {
			return i.addr.Abs() + uint64(i.raw.Len) + uint64(int64(rel)), true
		}
	}
	return 0, false
}

// isTerm reports whether the instruction ends a basic block.
func isTerm(i inst) bool {
	switch i.raw.Op {
	case x86asm.JMP, x86asm.RET, x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG,
		x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE,
		x86asm.UD2:
		return true
	}
	return false
}

// findLeaders collects block leaders (range start, in-range branch
// targets, terminator successors) and function entries (in-range call
// targets plus the range start).
func findLeaders(start addr.Concrete, size int, insts []inst) (leaders []uint64, entries []uint64) {
	lo, hi := start.Abs(), start.Abs()+uint64(size)
	inRange := func(v uint64) bool { return v >= lo && v < hi }

	seen := map[uint64]bool{lo: true}
	entrySeen := map[uint64]bool{lo: true}
	for k, i := range insts {
		if tgt, ok := branchTarget(i); ok && inRange(tgt) {
			seen[tgt] = true
			if i.raw.Op == x86asm.CALL {
				entrySeen[tgt] = true
			}
		}
		if isTerm(i) && k+1 < len(insts) {
			seen[insts[k+1].addr.Abs()] = true
		}
	}
	for v := range seen {
		leaders = append(leaders, v)
	}
	for v := range entrySeen {
		entries = append(entries, v)
	}
	sort.Slice(leaders, func(i, j int) bool { return leaders[i] < leaders[j] })
	sort.Slice(entries, func(i, j int) bool { return entries[i] < entries[j] })
	return leaders, entries
}

// buildPairs cuts the instruction stream at the leaders and derives one
// pair per block.
func buildPairs(start addr.Concrete, leaders []uint64, insts []inst, syms *addr.Source) []*block.Pair {
	isLeader := make(map[uint64]bool, len(leaders))
	for _, l := range leaders {
		isLeader[l] = true
	}

	var pairs []*block.Pair
	var cur *block.Concrete
	flush := func() {
		if cur == nil {
			return
		}
		sym := &block.Symbolic{
			ID:     syms.Next(),
			Origin: cur.Addr,
			Body:   copyBody(cur.Body),
		}
		pairs = append(pairs, &block.Pair{Orig: *cur, Sym: sym, Status: block.Unmodified})
		cur = nil
	}
	for _, i := range insts {
		if isLeader[i.addr.Abs()] {
			flush()
		}
		if cur == nil {
			cur = &block.Concrete{Addr: i.addr}
		}
		cur.Body = append(cur.Body, block.Instr{Enc: i.enc})
		cur.ByteLen += len(i.enc)
		if isTerm(i) {
			flush()
		}
	}
	flush()
	return pairs
}

func copyBody(body []block.Instr) []block.Instr {
	out := make([]block.Instr, len(body))
	for i := range body {
		enc := make([]byte, len(body[i].Enc))
		copy(enc, body[i].Enc)
		out[i] = block.Instr{Enc: enc}
	}
	return out
}

// symbolize points every in-range branch of the pair's symbolic block at
// the symbolic address of its target block, widening short branch forms to
// their rel32 equivalents so any relocation distance fits.
func symbolize(p *block.Pair, symAt map[uint64]addr.Symbolic) {
	for k := range p.Sym.Body {
		i := &p.Sym.Body[k]
		raw, err := x86asm.Decode(i.Enc, mode)
		if err != nil {
			continue
		}
		rel, ok := raw.Args[0].(x86asm.Rel)
		if !ok {
			continue
		}
		switch raw.Op {
		case x86asm.JMP, x86asm.CALL,
			x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG,
			x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
			x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS:
		default:
			continue
		}
		instAddr := blockInstrAddr(p, k)
		tgt := instAddr + uint64(raw.Len) + uint64(int64(rel))
		sym, known := symAt[tgt]
		if !known {
			continue
		}
		i.Target = sym
		i.Enc = widen(i.Enc, raw)
	}
}

// blockInstrAddr returns the flat original address of instruction k of the
// pair's block.
func blockInstrAddr(p *block.Pair, k int) uint64 {
	off := 0
	for j := 0; j < k; j++ {
		off += len(p.Orig.Body[j].Enc)
	}
	return p.Orig.Addr.Abs() + uint64(off)
}

// widen rewrites short PC-relative branch forms as their rel32
// equivalents. The displacement is left zero: once the branch carries a
// symbolic target, the assembler re-points it anyway.
func widen(enc []byte, raw x86asm.Inst) []byte {
	switch {
	case enc[0] == 0xeb: // jmp rel8 -> jmp rel32
		return []byte{0xe9, 0, 0, 0, 0}
	case enc[0] >= 0x70 && enc[0] <= 0x7f: // jcc rel8 -> jcc rel32
		return []byte{0x0f, 0x80 | (enc[0] & 0x0f), 0, 0, 0, 0}
	case enc[0] == 0xe9 || enc[0] == 0xe8: // already rel32
		return enc
	case enc[0] == 0x0f && enc[1] >= 0x80 && enc[1] <= 0x8f:
		return enc
	}
	// Prefixed or exotic form: keep the original encoding; the assembler
	// patches its trailing displacement in place.
	return enc
}

// splitFuncs assigns each block to the function entry at or before it.
func splitFuncs(pairs []*block.Pair, entries []uint64) map[addr.Concrete][]addr.Concrete {
	if len(entries) == 0 {
		return nil
	}
	funcs := make(map[addr.Concrete][]addr.Concrete, len(entries))
	var curEntry addr.Concrete
	next := 0
	for _, p := range pairs {
		a := p.Orig.Addr
		for next < len(entries) && a.Abs() >= entries[next] {
			curEntry = addr.NewConcrete(a.Seg, entries[next])
			next++
		}
		funcs[curEntry] = append(funcs[curEntry], a)
	}
	return funcs
}
