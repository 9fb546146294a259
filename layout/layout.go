// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout is the block-layout engine of the rewriter. Given the
// recovered block set, a layout strategy and the start of a fresh code
// region, it reifies fallthrough control flow, reclaims the free space
// modified blocks leave behind in the original text, and assigns every
// block a concrete address, either inside a reclaimed hole or in the
// fresh region.
package layout

import (
	"fmt"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
	"github.com/go-rewriter/stitch/isa"
	"github.com/go-rewriter/stitch/mem"
)

// Input is everything one layout run consumes. Funcs and WTO are optional
// unless the strategy's grouping or trampoline policy needs them.
type Input struct {
	// Pairs is the recovered block set. The slice is mutated in place:
	// statuses may be promoted or demoted and fallthrough annotations are
	// written into the symbolic blocks.
	Pairs []*block.Pair

	// Funcs maps each function entry to the addresses of the function's
	// blocks. Needed by GroupFunction and WholeFunctionTrampoline.
	Funcs map[addr.Concrete][]addr.Concrete

	// WTO lists the components of a weak topological ordering of the CFG,
	// each as the addresses of its member blocks. Needed by GroupLoop.
	WTO [][]addr.Concrete

	// Injected are raw payloads to place after the relocated blocks.
	Injected []Injected

	// LayoutBase is the first address of the fresh code region.
	LayoutBase addr.Concrete
}

// Layout is the engine's result.
type Layout struct {
	// Program has the same traversal shape as the input pairs, with every
	// block address-assigned. Blocks that stay in place keep their
	// original address and reserve zero bytes.
	Program []block.Assigned

	// Padding holds the trap-filled blocks covering every reclaimed byte
	// no relocated block reused, in ascending address order.
	Padding []block.Concrete

	// Injected holds the placed payloads in input order.
	Injected []InjectedPlacement

	// ReusedBytes counts the heap bytes consumed by relocated chunks.
	ReusedBytes int64
}

// Session owns the state of one rewrite: the strategy, the symbolic
// address source, and the diagnostics accumulated along the way. A
// session is single-threaded and not shared.
type Session struct {
	arch  isa.Arch
	mem   mem.View
	syms  *addr.Source
	strat Strategy
	diags []string
}

// NewSession returns a session running strategy strat over the given
// architecture and memory view. The symbolic address source must be the
// one the block set was built from.
func NewSession(a isa.Arch, m mem.View, syms *addr.Source, strat Strategy) *Session {
	return &Session{arch: a, mem: m, syms: syms, strat: strat}
}

// Syms returns the session's symbolic address source.
func (s *Session) Syms() *addr.Source { return s.syms }

// Diagnostics returns the diagnostics recorded so far, in first-observed
// order. They survive a failed layout for post-mortem use.
func (s *Session) Diagnostics() []string { return s.diags }

func (s *Session) diagf(format string, args ...any) {
	s.diags = append(s.diags, fmt.Sprintf(format, args...))
}

// Layout runs the engine: group, split off immutable members, reify
// fallthroughs, collect and coalesce free space, order chunks, allocate
// blocks and injected payloads, and drain what is left of the heap into
// padding. On error the partial layout is discarded; diagnostics remain
// available on the session.
func (s *Session) Layout(in *Input) (*Layout, error) {
	jumpSize := isa.JumpSize(s.arch)

	s.revertSmallBlocks(in.Pairs, jumpSize)
	s.applyWholeFunctionTrampolines(in.Pairs, in.Funcs, jumpSize)

	g := s.groupPairs(in.Pairs, in.WTO, in.Funcs)
	logger.Printf("%d chunks to relocate, %d pairs in place", len(g.chunks), len(g.inPlace))

	if err := s.reifyFallthroughs(in.Pairs, g.chunks); err != nil {
		return nil, err
	}

	h, err := coalesce(s.collectFreeSpace(g.chunks, jumpSize))
	if err != nil {
		return nil, err
	}

	ordered := s.orderChunks(g.chunks, in.LayoutBase)
	al := s.allocate(ordered, &h, in.LayoutBase)
	al.placeInjected(in.Injected)

	out := &Layout{
		Injected:    al.injected,
		ReusedBytes: al.reused,
	}
	for _, p := range in.Pairs {
		switch p.Status {
		case block.Modified, block.Subsumed:
			sl, ok := al.slots[p.Sym.ID]
			if !ok {
				return nil, UnassignedSymbolicBlockError{Sym: p.Sym.ID}
			}
			out.Program = append(out.Program, block.Assigned{
				Block:    p.Sym,
				Addr:     sl.addr,
				Reserved: sl.reserved,
			})
		default:
			if last := p.Sym.Last(); last != nil {
				last.Annotate(block.Fallthrough{Kind: block.NoFallthrough})
			}
			out.Program = append(out.Program, block.Assigned{
				Block: p.Sym,
				Addr:  p.Orig.Addr,
			})
		}
	}
	out.Padding = s.drainPadding(&h)
	return out, nil
}
