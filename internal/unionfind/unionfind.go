// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package unionfind implements a disjoint-set forest over concrete
// addresses, used to unify blocks into layout chunks.
package unionfind

import "github.com/go-rewriter/stitch/addr"

// Set is a union-find structure. The zero value is not usable; call New.
type Set struct {
	parent map[addr.Concrete]addr.Concrete
	rank   map[addr.Concrete]int
}

// New returns an empty set.
func New() *Set {
	return &Set{
		parent: make(map[addr.Concrete]addr.Concrete),
		rank:   make(map[addr.Concrete]int),
	}
}

// Add makes a a singleton cell if it is not known yet.
func (s *Set) Add(a addr.Concrete) {
	if _, ok := s.parent[a]; !ok {
		s.parent[a] = a
	}
}

// Find returns the representative of a's cell, with path compression.
func (s *Set) Find(a addr.Concrete) addr.Concrete {
	s.Add(a)
	root := a
	for s.parent[root] != root {
		root = s.parent[root]
	}
	for s.parent[a] != root {
		a, s.parent[a] = s.parent[a], root
	}
	return root
}

// Union merges the cells of a and b.
func (s *Set) Union(a, b addr.Concrete) {
	ra, rb := s.Find(a), s.Find(b)
	if ra == rb {
		return
	}
	if s.rank[ra] < s.rank[rb] {
		ra, rb = rb, ra
	}
	s.parent[rb] = ra
	if s.rank[ra] == s.rank[rb] {
		s.rank[ra]++
	}
}
