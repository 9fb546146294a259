// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
	"github.com/go-rewriter/stitch/isa/amd64"
)

// body builds an instruction sequence of exactly n bytes ending in ret,
// so reification never needs a successor.
func body(n int) []block.Instr {
	if n < 1 {
		return nil
	}
	if n == 1 {
		return []block.Instr{{Enc: []byte{0xc3}}}
	}
	return []block.Instr{
		{Enc: make([]byte, n-1)},
		{Enc: []byte{0xc3}},
	}
}

// condBody builds n bytes ending in a je rel32, which falls through.
func condBody(n int) []block.Instr {
	je := []byte{0x0f, 0x84, 0, 0, 0, 0}
	if n == len(je) {
		return []block.Instr{{Enc: je}}
	}
	return []block.Instr{
		{Enc: make([]byte, n-len(je))},
		{Enc: je},
	}
}

type fixture struct {
	syms  *addr.Source
	pairs []*block.Pair
}

func newFixture() *fixture {
	return &fixture{syms: addr.NewSource()}
}

func (f *fixture) add(at uint64, origSize, newSize int, status block.Status) *block.Pair {
	a := addr.NewConcrete(0, at)
	p := &block.Pair{
		Orig: block.Concrete{Addr: a, ByteLen: origSize, Body: body(origSize)},
		Sym: &block.Symbolic{
			ID:     f.syms.Next(),
			Origin: a,
			Body:   body(newSize),
		},
		Status: status,
	}
	f.pairs = append(f.pairs, p)
	return p
}

func (f *fixture) session(strat Strategy) *Session {
	return NewSession(amd64.New(), nil, f.syms, strat)
}

func compactSorted() Strategy {
	return Strategy{Alloc: Compact, Order: SortedOrder, Grouping: GroupBlock, Trampolines: AlwaysTrampoline}
}

var testBase = addr.NewConcrete(1, 0x800000)

// Scenario: three modified blocks, each new body best-fits into one of
// the reclaimed holes; the leftovers become padding.
func TestBestFitReusesHoles(t *testing.T) {
	f := newFixture()
	f.add(0x1000, 48, 40, block.Modified)
	f.add(0x1100, 16, 10, block.Modified)
	f.add(0x1200, 32, 20, block.Modified)

	s := f.session(compactSorted())
	lay, err := s.Layout(&Input{Pairs: f.pairs, LayoutBase: testBase})
	require.NoError(t, err)

	require.Len(t, lay.Program, 3)
	assert.Equal(t, addr.NewConcrete(0, 0x1005), lay.Program[0].Addr)
	assert.Equal(t, 40, lay.Program[0].Reserved)
	assert.Equal(t, addr.NewConcrete(0, 0x1105), lay.Program[1].Addr)
	assert.Equal(t, 10, lay.Program[1].Reserved)
	assert.Equal(t, addr.NewConcrete(0, 0x1205), lay.Program[2].Addr)
	assert.Equal(t, 20, lay.Program[2].Reserved)
	assert.Equal(t, int64(70), lay.ReusedBytes)

	require.Len(t, lay.Padding, 3)
	assert.Equal(t, addr.NewConcrete(0, 0x102d), lay.Padding[0].Addr)
	assert.Equal(t, 3, lay.Padding[0].ByteLen)
	assert.Equal(t, addr.NewConcrete(0, 0x110f), lay.Padding[1].Addr)
	assert.Equal(t, 1, lay.Padding[1].ByteLen)
	assert.Equal(t, addr.NewConcrete(0, 0x1219), lay.Padding[2].Addr)
	assert.Equal(t, 7, lay.Padding[2].ByteLen)
}

// Scenario: the only hole is too small, so the chunk bump-allocates in
// the fresh region and the hole drains to padding.
func TestFreshRegionBumpWhenNoHoleFits(t *testing.T) {
	f := newFixture()
	f.add(0x1000, 8, 64, block.Modified)

	s := f.session(compactSorted())
	lay, err := s.Layout(&Input{Pairs: f.pairs, LayoutBase: testBase})
	require.NoError(t, err)

	require.Len(t, lay.Program, 1)
	assert.Equal(t, testBase, lay.Program[0].Addr)
	assert.Equal(t, 64, lay.Program[0].Reserved)
	assert.Equal(t, int64(0), lay.ReusedBytes)

	require.Len(t, lay.Padding, 1)
	assert.Equal(t, addr.NewConcrete(0, 0x1005), lay.Padding[0].Addr)
	assert.Equal(t, 3, lay.Padding[0].ByteLen)
}

// Scenario: a loop's blocks stay contiguous and in ascending original
// order no matter what their individual sizes are.
func TestLoopGroupingPreservesAdjacency(t *testing.T) {
	f := newFixture()
	a := f.add(0x1000, 16, 12, block.Modified)
	b := f.add(0x1010, 16, 8, block.Modified)
	c := f.add(0x1020, 16, 20, block.Modified)

	strat := compactSorted()
	strat.Grouping = GroupLoop
	s := f.session(strat)
	lay, err := s.Layout(&Input{
		Pairs:      f.pairs,
		WTO:        [][]addr.Concrete{{a.Orig.Addr, b.Orig.Addr, c.Orig.Addr}},
		LayoutBase: testBase,
	})
	require.NoError(t, err)

	require.Len(t, lay.Program, 3)
	assert.Equal(t, testBase, lay.Program[0].Addr)
	assert.Equal(t, testBase.Add(12), lay.Program[1].Addr)
	assert.Equal(t, testBase.Add(20), lay.Program[2].Addr)
}

// Scenario: a fully modified, self-contained function redirects only its
// entry; the interiors are subsumed and their whole ranges coalesce with
// the entry's tail.
func TestWholeFunctionTrampoline(t *testing.T) {
	f := newFixture()
	e := f.add(0x1000, 32, 100, block.Modified)
	i1 := f.add(0x1020, 16, 100, block.Modified)
	i2 := f.add(0x1030, 16, 100, block.Modified)

	strat := compactSorted()
	strat.Trampolines = WholeFunctionTrampoline
	s := f.session(strat)
	lay, err := s.Layout(&Input{
		Pairs: f.pairs,
		Funcs: map[addr.Concrete][]addr.Concrete{
			e.Orig.Addr: {e.Orig.Addr, i1.Orig.Addr, i2.Orig.Addr},
		},
		LayoutBase: testBase,
	})
	require.NoError(t, err)

	assert.Equal(t, block.Modified, e.Status)
	assert.Equal(t, block.Subsumed, i1.Status)
	assert.Equal(t, block.Subsumed, i2.Status)

	// (0x1005, 27) + (0x1020, 16) + (0x1030, 16) coalesce into one hole.
	require.Len(t, lay.Padding, 1)
	assert.Equal(t, addr.NewConcrete(0, 0x1005), lay.Padding[0].Addr)
	assert.Equal(t, 59, lay.Padding[0].ByteLen)
}

// Scenario: a modified block ending in a conditional jump gets an
// explicit fallthrough to the block that follows it in memory.
func TestFallthroughReification(t *testing.T) {
	f := newFixture()
	x := f.add(0x1000, 10, 0, block.Modified)
	x.Sym.Body = condBody(10)
	u := f.add(0x100a, 16, 16, block.Unmodified)

	s := f.session(compactSorted())
	lay, err := s.Layout(&Input{Pairs: f.pairs, LayoutBase: testBase})
	require.NoError(t, err)

	last := x.Sym.Last()
	require.NotNil(t, last)
	assert.Equal(t, block.FallsThrough, last.Fall.Kind)
	assert.Equal(t, u.Sym.ID, last.Fall.To)
	for _, i := range x.Sym.Body[:len(x.Sym.Body)-1] {
		assert.Equal(t, block.NoFallthrough, i.Fall.Kind)
	}

	// The reserved size covers the appended fallthrough jump.
	assert.Equal(t, 15, lay.Program[0].Reserved)
}

// Scenario: overlapping donated spans are fatal and name both spans.
func TestOverlapDetection(t *testing.T) {
	f := newFixture()
	f.add(0x1000, 20, 20, block.Subsumed)
	f.add(0x100f, 8, 8, block.Subsumed)

	s := f.session(compactSorted())
	_, err := s.Layout(&Input{Pairs: f.pairs, LayoutBase: testBase})
	var overlap OverlappingFreeBlocksError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, addr.NewConcrete(0, 0x1000), overlap.A)
	assert.Equal(t, int64(20), overlap.ALen)
	assert.Equal(t, addr.NewConcrete(0, 0x100f), overlap.B)
	assert.Equal(t, int64(8), overlap.BLen)
}

func TestUnmodifiedInputIsIdentity(t *testing.T) {
	f := newFixture()
	f.add(0x1000, 16, 16, block.Unmodified)
	f.add(0x1010, 16, 16, block.Unmodified)

	strat := Strategy{Alloc: Parallel, Order: SortedOrder, Grouping: GroupBlock, Trampolines: AlwaysTrampoline}
	s := f.session(strat)
	lay, err := s.Layout(&Input{Pairs: f.pairs, LayoutBase: testBase})
	require.NoError(t, err)

	require.Len(t, lay.Program, 2)
	for i, asg := range lay.Program {
		assert.Equal(t, f.pairs[i].Orig.Addr, asg.Addr)
		assert.Equal(t, 0, asg.Reserved)
		assert.Equal(t, block.NoFallthrough, asg.Block.Last().Fall.Kind)
	}
	assert.Empty(t, lay.Padding)
	assert.Empty(t, lay.Injected)
	assert.Equal(t, int64(0), lay.ReusedBytes)
}

func TestSmallModifiedBlockStaysInPlace(t *testing.T) {
	f := newFixture()
	p := f.add(0x1000, 3, 10, block.Modified)

	s := f.session(compactSorted())
	lay, err := s.Layout(&Input{Pairs: f.pairs, LayoutBase: testBase})
	require.NoError(t, err)

	assert.Equal(t, block.Immutable, p.Status)
	assert.Equal(t, p.Orig.Addr, lay.Program[0].Addr)
	assert.Equal(t, 0, lay.Program[0].Reserved)
	assert.NotEmpty(t, s.Diagnostics())
}

// A too-small block sharing a chunk with a modified one must split out of
// the chunk, not get promoted back to modified: a trampoline would not
// fit its original range.
func TestSmallChunkMemberIsNotRePromoted(t *testing.T) {
	f := newFixture()
	a := f.add(0x1000, 16, 16, block.Modified)
	b := f.add(0x1010, 3, 8, block.Modified)

	strat := compactSorted()
	strat.Grouping = GroupLoop
	s := f.session(strat)
	lay, err := s.Layout(&Input{
		Pairs:      f.pairs,
		WTO:        [][]addr.Concrete{{a.Orig.Addr, b.Orig.Addr}},
		LayoutBase: testBase,
	})
	require.NoError(t, err)

	assert.Equal(t, block.Immutable, b.Status)
	assert.Equal(t, b.Orig.Addr, lay.Program[1].Addr)
	assert.Equal(t, 0, lay.Program[1].Reserved)
}

func TestParallelIgnoresHoles(t *testing.T) {
	f := newFixture()
	f.add(0x1000, 64, 8, block.Modified)
	f.add(0x1100, 64, 8, block.Modified)

	strat := Strategy{Alloc: Parallel, Grouping: GroupBlock, Trampolines: AlwaysTrampoline}
	s := f.session(strat)
	lay, err := s.Layout(&Input{Pairs: f.pairs, LayoutBase: testBase})
	require.NoError(t, err)

	// Both chunks bump-allocate in input order even though either hole
	// could take them; the holes all drain to padding.
	assert.Equal(t, testBase, lay.Program[0].Addr)
	assert.Equal(t, testBase.Add(8), lay.Program[1].Addr)
	assert.Equal(t, int64(0), lay.ReusedBytes)
	require.Len(t, lay.Padding, 2)
	assert.Equal(t, 59, lay.Padding[0].ByteLen)
	assert.Equal(t, 59, lay.Padding[1].ByteLen)
}

func TestInjectedCodePlacement(t *testing.T) {
	f := newFixture()
	f.add(0x1000, 64, 16, block.Modified)
	payload := []byte{1, 2, 3, 4}
	inj := Injected{Sym: f.syms.Next(), Bytes: payload}

	s := f.session(compactSorted())
	lay, err := s.Layout(&Input{Pairs: f.pairs, Injected: []Injected{inj}, LayoutBase: testBase})
	require.NoError(t, err)

	// The block reuses the hole; the payload still goes to the fresh
	// region, right at the base.
	assert.Equal(t, addr.NewConcrete(0, 0x1005), lay.Program[0].Addr)
	require.Len(t, lay.Injected, 1)
	assert.Equal(t, inj.Sym, lay.Injected[0].Sym)
	assert.Equal(t, testBase, lay.Injected[0].Addr)
	assert.Equal(t, payload, lay.Injected[0].Bytes)
}

func TestErrorEmptyBlock(t *testing.T) {
	f := newFixture()
	p := f.add(0x1000, 16, 16, block.Modified)
	p.Sym.Body = nil

	s := f.session(compactSorted())
	_, err := s.Layout(&Input{Pairs: f.pairs, LayoutBase: testBase})
	var empty EmptyBlockError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, p.Orig.Addr, empty.Block)
}

func TestErrorMissingFallthroughSuccessor(t *testing.T) {
	f := newFixture()
	p := f.add(0x1000, 10, 10, block.Modified)
	p.Sym.Body = condBody(10) // falls through, but nothing lives at 0x100a

	s := f.session(compactSorted())
	_, err := s.Layout(&Input{Pairs: f.pairs, LayoutBase: testBase})
	var missing MissingFallthroughSuccessorError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, p.Orig.Addr, missing.Block)
}

func TestImmutableMemberSplitsFromChunk(t *testing.T) {
	f := newFixture()
	a := f.add(0x1000, 16, 16, block.Modified)
	b := f.add(0x1010, 16, 16, block.Immutable)

	strat := compactSorted()
	strat.Grouping = GroupLoop
	s := f.session(strat)
	lay, err := s.Layout(&Input{
		Pairs:      f.pairs,
		WTO:        [][]addr.Concrete{{a.Orig.Addr, b.Orig.Addr}},
		LayoutBase: testBase,
	})
	require.NoError(t, err)

	assert.Equal(t, block.Immutable, b.Status)
	assert.Equal(t, b.Orig.Addr, lay.Program[1].Addr)
	assert.Equal(t, 0, lay.Program[1].Reserved)
	assert.NotEqual(t, a.Orig.Addr, lay.Program[0].Addr)
}

func TestUntouchedChunkMemberRelocatesAlong(t *testing.T) {
	f := newFixture()
	a := f.add(0x1000, 16, 16, block.Modified)
	b := f.add(0x1010, 16, 16, block.Unmodified)

	strat := compactSorted()
	strat.Grouping = GroupLoop
	s := f.session(strat)
	lay, err := s.Layout(&Input{
		Pairs:      f.pairs,
		WTO:        [][]addr.Concrete{{a.Orig.Addr, b.Orig.Addr}},
		LayoutBase: testBase,
	})
	require.NoError(t, err)

	assert.Equal(t, block.Modified, b.Status)
	assert.Equal(t, lay.Program[0].Addr.Add(16), lay.Program[1].Addr)
}
