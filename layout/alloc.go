// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"container/heap"
	"sort"

	"github.com/go-rewriter/stitch/addr"
)

// Injected is a raw byte payload to be placed at a fresh symbolic address
// alongside the relocated blocks.
type Injected struct {
	Sym   addr.Symbolic
	Bytes []byte
}

// InjectedPlacement is an injected payload with its final address.
type InjectedPlacement struct {
	Sym   addr.Symbolic
	Addr  addr.Concrete
	Bytes []byte
}

// slot is the allocator's verdict for one symbolic block.
type slot struct {
	addr     addr.Concrete
	reserved int
}

// allocation accumulates the allocator's output.
type allocation struct {
	slots    map[addr.Symbolic]slot
	injected []InjectedPlacement
	reused   int64
	cursor   addr.Concrete
}

// chunkSize returns the bytes the chunk needs once laid out at base.
func (s *Session) chunkSize(c *Chunk, base addr.Concrete) int {
	n := 0
	for _, p := range c.Pairs {
		n += s.arch.SymBlockSize(p.Sym, base)
	}
	return n
}

// orderChunks returns the chunks in the order the allocator will consider
// them. Parallel keeps input order; Compact orders by the strategy's
// order dimension.
func (s *Session) orderChunks(chunks []*Chunk, base addr.Concrete) []*Chunk {
	out := make([]*Chunk, len(chunks))
	copy(out, chunks)
	if s.strat.Alloc == Parallel {
		return out
	}
	switch s.strat.Order {
	case SortedOrder:
		sort.SliceStable(out, func(i, j int) bool {
			return s.chunkSize(out[i], base) > s.chunkSize(out[j], base)
		})
	case RandomOrder:
		newShuffler(s.strat.Seed).shuffle(len(out), func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
	}
	return out
}

// allocate assigns every block of every chunk a concrete address: best-fit
// from the free-space heap when the largest hole can take the whole chunk,
// otherwise bump-allocation in the fresh region starting at base. Under
// the Parallel allocator the heap is never consulted.
func (s *Session) allocate(chunks []*Chunk, h *spanHeap, base addr.Concrete) *allocation {
	al := &allocation{
		slots:  make(map[addr.Symbolic]slot),
		cursor: base,
	}
	for _, c := range chunks {
		size := s.chunkSize(c, base)
		var at addr.Concrete
		switch {
		case s.strat.Alloc != Parallel && h.Len() > 0 && (*h)[0].Size >= int64(size):
			sp := heap.Pop(h).(Span)
			at = sp.Addr
			if rest := sp.Size - int64(size); rest > 0 {
				heap.Push(h, Span{Addr: sp.Addr.Add(int64(size)), Size: rest})
			}
			al.reused += int64(size)
			logger.Printf("chunk of %d bytes reuses hole at %v", size, at)
		default:
			at = al.cursor
			al.cursor = al.cursor.Add(int64(size))
			logger.Printf("chunk of %d bytes goes to the fresh region at %v", size, at)
		}

		cur := at
		for _, p := range c.Pairs {
			n := s.arch.SymBlockSize(p.Sym, base)
			al.slots[p.Sym.ID] = slot{addr: cur, reserved: n}
			cur = cur.Add(int64(n))
		}
	}
	return al
}

// placeInjected appends the injected payloads after all blocks. Payloads
// always live in the fresh region; they never consume heap space.
func (al *allocation) placeInjected(items []Injected) {
	for _, it := range items {
		al.injected = append(al.injected, InjectedPlacement{
			Sym:   it.Sym,
			Addr:  al.cursor,
			Bytes: it.Bytes,
		})
		al.cursor = al.cursor.Add(int64(len(it.Bytes)))
	}
}
