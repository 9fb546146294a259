// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"container/heap"
	"sort"

	"github.com/go-rewriter/stitch/block"
)

// drainPadding converts every span left in the heap into a padding block
// of trap fill, ordered by ascending address. The fill overwrites
// reclaimed bytes so a stray transfer into formerly live code traps
// instead of executing a half-overwritten tail.
func (s *Session) drainPadding(h *spanHeap) []block.Concrete {
	var out []block.Concrete
	for h.Len() > 0 {
		sp := heap.Pop(h).(Span)
		out = append(out, block.Concrete{
			Addr:    sp.Addr,
			ByteLen: int(sp.Size),
			Body:    s.arch.MakePadding(int(sp.Size)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return addrLess(out[i].Addr, out[j].Addr) })
	return out
}
