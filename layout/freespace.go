// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"container/heap"
	"sort"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
)

// Span is one reclaimable byte range of the original text.
type Span struct {
	Addr addr.Concrete
	Size int64
}

// spanHeap is a max-heap on span size; ties break on ascending address so
// extraction order is deterministic.
type spanHeap []Span

func (h spanHeap) Len() int { return len(h) }

func (h spanHeap) Less(i, j int) bool {
	if h[i].Size != h[j].Size {
		return h[i].Size > h[j].Size
	}
	return addrLess(h[i].Addr, h[j].Addr)
}

func (h spanHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *spanHeap) Push(x any) { *h = append(*h, x.(Span)) }

func (h *spanHeap) Pop() any {
	old := *h
	n := len(old)
	sp := old[n-1]
	*h = old[:n-1]
	return sp
}

// revertSmallBlocks demotes modified blocks too small to host a
// redirection jump. They become immutable, not unmodified: grouping then
// splits them out of any chunk instead of re-promoting them, and no
// trampoline is ever written over their range. The pass's rewritten body
// for them is dropped.
func (s *Session) revertSmallBlocks(pairs []*block.Pair, jumpSize int) {
	for _, p := range pairs {
		if p.Status == block.Modified && p.Orig.ByteLen < jumpSize {
			s.diagf("block at %v is smaller than a %d-byte jump; keeping it in place", p.Orig.Addr, jumpSize)
			p.Status = block.Immutable
		}
	}
}

// applyWholeFunctionTrampolines marks the interior blocks of eligible
// functions subsumed. A function qualifies when every one of its blocks is
// present and modified, its block set is disjoint from every other
// function's, and its entry can host a jump. Only the entry keeps a
// redirection; interiors donate their whole range.
func (s *Session) applyWholeFunctionTrampolines(pairs []*block.Pair, funcs map[addr.Concrete][]addr.Concrete, jumpSize int) {
	if s.strat.Trampolines != WholeFunctionTrampoline || len(funcs) == 0 {
		return
	}
	byAddr := make(map[addr.Concrete]*block.Pair, len(pairs))
	for _, p := range pairs {
		byAddr[p.Orig.Addr] = p
	}
	owners := make(map[addr.Concrete]int)
	for _, members := range funcs {
		for _, m := range members {
			owners[m]++
		}
	}

	for _, entry := range sortedEntries(funcs) {
		members := funcs[entry]
		ok := len(members) > 0
		for _, m := range members {
			p, present := byAddr[m]
			if !present || p.Status != block.Modified || owners[m] != 1 {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if ep := byAddr[entry]; ep == nil || ep.Orig.ByteLen < jumpSize {
			continue
		}
		for _, m := range members {
			if m == entry {
				continue
			}
			byAddr[m].Status = block.Subsumed
		}
		s.diagf("function at %v: redirecting the entry only, %d interior blocks subsumed", entry, len(members)-1)
	}
}

// collectFreeSpace gathers the reclaimable spans donated by the chunks'
// members. A modified block keeps its first jumpSize bytes for the
// redirection; a subsumed block donates everything.
func (s *Session) collectFreeSpace(chunks []*Chunk, jumpSize int) []Span {
	var spans []Span
	for _, c := range chunks {
		for _, p := range c.Pairs {
			size := int64(p.Orig.ByteLen)
			switch p.Status {
			case block.Subsumed:
				spans = append(spans, Span{Addr: p.Orig.Addr, Size: size})
			case block.Modified:
				if size < int64(jumpSize) {
					s.diagf("block at %v relocates with its chunk but cannot host a jump", p.Orig.Addr)
					continue
				}
				if size == int64(jumpSize) {
					continue
				}
				spans = append(spans, Span{Addr: p.Orig.Addr.Add(int64(jumpSize)), Size: size - int64(jumpSize)})
			}
		}
	}
	return spans
}

// coalesce sorts the collected spans, merges adjacent ones and builds the
// free-space heap. Overlapping spans are fatal: they mean the block set
// upstream double-donated bytes.
func coalesce(spans []Span) (spanHeap, error) {
	if len(spans) == 0 {
		return nil, nil
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool { return addrLess(sorted[i].Addr, sorted[j].Addr) })

	var merged []Span
	cur := sorted[0]
	for _, sp := range sorted[1:] {
		if sp.Addr.Seg == cur.Addr.Seg {
			end := cur.Addr.Off + uint64(cur.Size)
			if sp.Addr.Off < end {
				return nil, OverlappingFreeBlocksError{A: cur.Addr, ALen: cur.Size, B: sp.Addr, BLen: sp.Size}
			}
			if sp.Addr.Off == end {
				cur.Size += sp.Size
				continue
			}
		}
		merged = append(merged, cur)
		cur = sp
	}
	merged = append(merged, cur)

	h := spanHeap(merged)
	heap.Init(&h)
	return h, nil
}
