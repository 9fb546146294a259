// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package assemble renders an address-assigned layout into bytes: the
// patched original text and the fresh code region. Branches carrying
// symbolic targets have their trailing rel32 displacement re-pointed at
// the targets' final addresses, relocated blocks get a trampoline written
// over their original head, and padding blocks overwrite the reclaimed
// ranges.
package assemble

import (
	"encoding/binary"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
	"github.com/go-rewriter/stitch/isa"
	"github.com/go-rewriter/stitch/layout"
)

// Result holds the two rewritten code images.
type Result struct {
	Text      []byte // patched copy of the original text range
	TextAddr  addr.Concrete
	Fresh     []byte // the appended code region; empty if nothing spilled
	FreshAddr addr.Concrete
}

// Build renders lay into bytes. pairs must be the same slice, in the same
// order, that produced lay; text is the original text range starting at
// textAddr; base is the layout base the session was run with.
func Build(a isa.Arch, text []byte, textAddr addr.Concrete, pairs []*block.Pair, lay *layout.Layout, base addr.Concrete) (*Result, error) {
	if len(pairs) != len(lay.Program) {
		return nil, ShapeMismatchError{Pairs: len(pairs), Assigned: len(lay.Program)}
	}

	resolved := make(map[addr.Symbolic]uint64)
	for i := range lay.Program {
		resolved[lay.Program[i].Block.ID] = lay.Program[i].Addr.Abs()
	}
	for _, inj := range lay.Injected {
		resolved[inj.Sym] = inj.Addr.Abs()
	}

	res := &Result{
		Text:      append([]byte(nil), text...),
		TextAddr:  textAddr,
		FreshAddr: base,
	}
	res.Fresh = makeFresh(a, base, lay)

	write := func(flat uint64, b []byte) error {
		switch {
		case flat >= textAddr.Abs() && flat+uint64(len(b)) <= textAddr.Abs()+uint64(len(text)):
			copy(res.Text[flat-textAddr.Abs():], b)
		case flat >= base.Abs() && flat+uint64(len(b)) <= base.Abs()+uint64(len(res.Fresh)):
			copy(res.Fresh[flat-base.Abs():], b)
		default:
			return OutOfRangeError{Flat: flat, Len: len(b)}
		}
		return nil
	}

	for i := range lay.Program {
		asg := &lay.Program[i]
		if asg.Reserved == 0 {
			continue // emitted in place, untouched
		}
		enc, err := renderBlock(a, asg, resolved)
		if err != nil {
			return nil, err
		}
		if len(enc) > asg.Reserved {
			return nil, BlockTooBigError{Sym: asg.Block.ID, Encoded: len(enc), Reserved: asg.Reserved}
		}
		if err := write(asg.Addr.Abs(), enc); err != nil {
			return nil, err
		}

		p := pairs[i]
		if p.Status == block.Modified {
			tramp := flatten(a.MakeRelativeJump(p.Orig.Addr, asg.Addr))
			if len(tramp) > p.Orig.ByteLen {
				// A block promoted into a relocating chunk can be too
				// small to host the jump; its original range must stay
				// intact.
				continue
			}
			if err := write(p.Orig.Addr.Abs(), tramp); err != nil {
				return nil, err
			}
		}
	}

	for i := range lay.Padding {
		pad := &lay.Padding[i]
		if err := write(pad.Addr.Abs(), flatten(pad.Body)); err != nil {
			return nil, err
		}
	}
	for _, inj := range lay.Injected {
		if err := write(inj.Addr.Abs(), inj.Bytes); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// makeFresh sizes the fresh region to the layout's furthest fresh byte
// and pre-fills it with trap padding.
func makeFresh(a isa.Arch, base addr.Concrete, lay *layout.Layout) []byte {
	end := base.Abs()
	for i := range lay.Program {
		asg := &lay.Program[i]
		if top := asg.Addr.Abs() + uint64(asg.Reserved); asg.Addr.Abs() >= base.Abs() && top > end {
			end = top
		}
	}
	for _, inj := range lay.Injected {
		if top := inj.Addr.Abs() + uint64(len(inj.Bytes)); top > end {
			end = top
		}
	}
	if end == base.Abs() {
		return nil
	}
	return flatten(a.MakePadding(int(end - base.Abs())))
}

// renderBlock emits the block's instructions at its final address,
// re-pointing symbolic branches and materializing a reified fallthrough
// as a trailing jump.
func renderBlock(a isa.Arch, asg *block.Assigned, resolved map[addr.Symbolic]uint64) ([]byte, error) {
	var out []byte
	flat := asg.Addr.Abs()
	for _, i := range asg.Block.Body {
		enc := append([]byte(nil), i.Enc...)
		if i.Target.Valid() {
			tgt, ok := resolved[i.Target]
			if !ok {
				return nil, UnresolvedSymbolError{Sym: i.Target}
			}
			rel := int64(tgt) - int64(flat) - int64(len(enc))
			binary.LittleEndian.PutUint32(enc[len(enc)-4:], uint32(int32(rel)))
		}
		out = append(out, enc...)
		flat += uint64(len(enc))
	}

	if last := asg.Block.Last(); last != nil && last.Fall.Kind == block.FallsThrough {
		tgt, ok := resolved[last.Fall.To]
		if !ok {
			return nil, UnresolvedSymbolError{Sym: last.Fall.To}
		}
		from := addr.NewConcrete(asg.Addr.Seg, flat)
		to := addr.NewConcrete(asg.Addr.Seg, tgt)
		out = append(out, flatten(a.MakeRelativeJump(from, to))...)
	}
	return out, nil
}

func flatten(body []block.Instr) []byte {
	var out []byte
	for i := range body {
		out = append(out, body[i].Enc...)
	}
	return out
}
