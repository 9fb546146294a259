// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"sort"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
	"github.com/go-rewriter/stitch/internal/unionfind"
)

// Chunk is a group of pairs the allocator must place at consecutive
// addresses.
type Chunk struct {
	Pairs []*block.Pair
}

// grouped is the partition of the input pairs: chunks that will be
// relocated, and pairs that stay at their original address.
type grouped struct {
	chunks  []*Chunk
	inPlace []*block.Pair
}

// groupPairs partitions pairs into chunks per the strategy's grouping and
// classifies each chunk. Within a unified chunk, members are ordered by
// ascending original address; the chunk list itself keeps first-seen input
// order. A chunk containing a modified or subsumed member carries its
// non-immutable members forward; immutable members are split off to stay
// in place, and untouched members are promoted so the chunk relocates as a
// unit.
func (s *Session) groupPairs(pairs []*block.Pair, wto [][]addr.Concrete, funcs map[addr.Concrete][]addr.Concrete) *grouped {
	uf := unionfind.New()
	for _, p := range pairs {
		uf.Add(p.Orig.Addr)
	}

	switch s.strat.Grouping {
	case GroupBlock:
		// Every pair is its own cell.
	case GroupLoop:
		for _, comp := range wto {
			for i := 1; i < len(comp); i++ {
				uf.Union(comp[0], comp[i])
			}
		}
	case GroupFunction:
		for _, entry := range sortedEntries(funcs) {
			members := funcs[entry]
			for i := 1; i < len(members); i++ {
				uf.Union(members[0], members[i])
			}
		}
	}

	var order []addr.Concrete
	byRoot := make(map[addr.Concrete]*Chunk)
	for _, p := range pairs {
		root := uf.Find(p.Orig.Addr)
		c, ok := byRoot[root]
		if !ok {
			c = &Chunk{}
			byRoot[root] = c
			order = append(order, root)
		}
		c.Pairs = append(c.Pairs, p)
	}

	g := &grouped{}
	for _, root := range order {
		c := byRoot[root]
		sort.SliceStable(c.Pairs, func(i, j int) bool {
			return addrLess(c.Pairs[i].Orig.Addr, c.Pairs[j].Orig.Addr)
		})

		anyMod := false
		for _, p := range c.Pairs {
			if p.Status == block.Modified || p.Status == block.Subsumed {
				anyMod = true
				break
			}
		}
		if !anyMod {
			g.inPlace = append(g.inPlace, c.Pairs...)
			continue
		}

		mod := &Chunk{}
		for _, p := range c.Pairs {
			switch p.Status {
			case block.Immutable:
				s.diagf("chunk at %v: immutable member %v stays in place", c.Pairs[0].Orig.Addr, p.Orig.Addr)
				g.inPlace = append(g.inPlace, p)
			case block.Unmodified:
				s.diagf("chunk at %v: untouched member %v relocates with its chunk", c.Pairs[0].Orig.Addr, p.Orig.Addr)
				p.Status = block.Modified
				mod.Pairs = append(mod.Pairs, p)
			default:
				mod.Pairs = append(mod.Pairs, p)
			}
		}
		g.chunks = append(g.chunks, mod)
	}
	return g
}

// addrLess orders addresses segment-major without panicking across
// segments.
func addrLess(a, b addr.Concrete) bool {
	if a.Seg != b.Seg {
		return a.Seg < b.Seg
	}
	return a.Off < b.Off
}

// sortedEntries returns the function entries in ascending address order,
// so map iteration never leaks into layout decisions.
func sortedEntries(funcs map[addr.Concrete][]addr.Concrete) []addr.Concrete {
	entries := make([]addr.Concrete, 0, len(funcs))
	for e := range funcs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return addrLess(entries[i], entries[j]) })
	return entries
}
