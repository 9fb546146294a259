// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20"
)

// AllocKind selects how chunks obtain addresses.
type AllocKind int

const (
	// Parallel bump-allocates every chunk in the fresh region in input
	// order; reclaimed holes are used for padding only.
	Parallel AllocKind = iota
	// Compact tries to best-fit chunks into reclaimed holes before
	// falling back to the fresh region.
	Compact
)

// OrderKind selects the order Compact allocation considers chunks in.
type OrderKind int

const (
	// SortedOrder places the largest chunk first.
	SortedOrder OrderKind = iota
	// RandomOrder shuffles chunks with a seeded Fisher-Yates pass.
	RandomOrder
)

// GroupKind selects how blocks are unified into chunks.
type GroupKind int

const (
	// GroupBlock lays out every modified block independently.
	GroupBlock GroupKind = iota
	// GroupLoop keeps the blocks of each strongly-connected component of
	// the CFG contiguous, using a caller-supplied weak topological order.
	GroupLoop
	// GroupFunction keeps each function's blocks contiguous, using a
	// caller-supplied function map.
	GroupFunction
)

// TrampolineKind selects the redirection policy for modified blocks.
type TrampolineKind int

const (
	// AlwaysTrampoline redirects every modified block individually.
	AlwaysTrampoline TrampolineKind = iota
	// WholeFunctionTrampoline redirects only the entry of a fully
	// modified, self-contained function; interior blocks donate their
	// whole range.
	WholeFunctionTrampoline
)

// Strategy configures one layout run. All dimensions must be supplied;
// there are no defaults. Seed is consulted only under RandomOrder.
type Strategy struct {
	Alloc       AllocKind
	Order       OrderKind
	Seed        [32]byte
	Grouping    GroupKind
	Trampolines TrampolineKind
}

// shuffler produces the deterministic index stream behind RandomOrder.
// The stream is the ChaCha20 keystream for the 256-bit seed with an
// all-zero nonce, consumed 8 bytes at a time as little-endian words.
type shuffler struct {
	c *chacha20.Cipher
}

func newShuffler(seed [32]byte) *shuffler {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce[:])
	if err != nil {
		panic("layout: chacha20 rejected a 256-bit seed: " + err.Error())
	}
	return &shuffler{c: c}
}

func (s *shuffler) next() uint64 {
	var buf [8]byte
	s.c.XORKeyStream(buf[:], buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// shuffle runs a Fisher-Yates pass over n elements, swapping through fn.
// The index for position i is next() mod (i+1).
func (s *shuffler) shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := int(s.next() % uint64(i+1))
		swap(i, j)
	}
}
