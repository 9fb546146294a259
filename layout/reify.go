// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/block"
)

// reifyFallthroughs makes implicit fallthrough control flow explicit on
// every block that will be relocated. The successor index is built over
// all pairs, relocated or not: a relocated block may fall through to one
// that stays in place.
func (s *Session) reifyFallthroughs(all []*block.Pair, chunks []*Chunk) error {
	succ := make(map[addr.Concrete]addr.Symbolic, len(all))
	for _, p := range all {
		succ[p.Orig.Addr] = p.Sym.ID
	}

	for _, c := range chunks {
		for _, p := range c.Pairs {
			if err := s.reifyBlock(p, succ); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) reifyBlock(p *block.Pair, succ map[addr.Concrete]addr.Symbolic) error {
	if p.Status == block.Immutable {
		return ImmutableBlockModifiedError{Block: p.Orig.Addr}
	}
	body := p.Sym.Body
	if len(body) == 0 {
		return EmptyBlockError{Block: p.Orig.Addr}
	}

	for i := range body[:len(body)-1] {
		body[i].Annotate(block.Fallthrough{Kind: block.NoFallthrough})
	}
	last := &body[len(body)-1]

	// Classify the terminator as if it still sat at the end of the
	// original block; the address only feeds target resolution.
	fake := p.Orig.End().Add(-int64(s.arch.InstrSize(*last)))
	jump := s.arch.ClassifyJump(*last, s.mem, fake)
	if jump.Unconditional() {
		last.Annotate(block.Fallthrough{Kind: block.NoFallthrough})
		return nil
	}

	// Conditional branches, calls and plain instruction ends all continue
	// at the block immediately after the original one.
	next, ok := succ[p.Orig.End()]
	if !ok {
		return MissingFallthroughSuccessorError{Block: p.Orig.Addr}
	}
	logger.Printf("block %v falls through to %v", p.Orig.Addr, next)
	last.Annotate(block.Fallthrough{Kind: block.FallsThrough, To: next})
	return nil
}
