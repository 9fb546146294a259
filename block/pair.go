// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package block

import "fmt"

// Status records what a transformation pass did to a block and drives the
// layout engine's relocation decisions.
type Status int

const (
	// Unmodified blocks stay in place; the pass did not touch them.
	Unmodified Status = iota
	// Modified blocks were altered and must be relocated.
	Modified
	// Immutable blocks stay in place even if a pass touched them.
	Immutable
	// Subsumed blocks have their original bytes completely replaced by
	// other blocks' redirections; their whole range is reclaimed.
	Subsumed
)

func (s Status) String() string {
	switch s {
	case Unmodified:
		return "unmodified"
	case Modified:
		return "modified"
	case Immutable:
		return "immutable"
	case Subsumed:
		return "subsumed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Pair carries a block through the rewrite: the original concrete block,
// the symbolic block derived from it, and the pass's verdict.
type Pair struct {
	Orig   Concrete
	Sym    *Symbolic
	Status Status
}
