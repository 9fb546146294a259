// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfrw

import (
	"debug/elf"
	"fmt"
)

// UnsupportedFormatError is returned for anything but 64-bit
// little-endian ELF.
type UnsupportedFormatError struct {
	Class     elf.Class
	ByteOrder elf.Data
}

func (e UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported ELF format: %v, %v", e.Class, e.ByteOrder)
}

// NoTextError is returned when the executable has no .text section.
type NoTextError struct {
	Path string
}

func (e NoTextError) Error() string {
	return fmt.Sprintf("%q has no .text section", e.Path)
}
