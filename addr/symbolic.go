// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package addr

import "fmt"

// Symbolic is an opaque stand-in for an address that has not been chosen
// yet. The zero value is invalid and marks "no address".
type Symbolic uint64

// Valid reports whether s names an allocated symbolic address.
func (s Symbolic) Valid() bool { return s != 0 }

func (s Symbolic) String() string {
	if !s.Valid() {
		return "sym:none"
	}
	return fmt.Sprintf("sym:%d", uint64(s))
}

// Source hands out symbolic addresses. Identifiers increase monotonically
// and are unique for the lifetime of one rewrite session.
type Source struct {
	next uint64
}

// NewSource returns a fresh symbolic address source.
func NewSource() *Source {
	return &Source{next: 1}
}

// Next allocates the next symbolic address.
func (s *Source) Next() Symbolic {
	n := Symbolic(s.next)
	s.next++
	return n
}
