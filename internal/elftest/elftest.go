// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elftest builds a minimal 64-bit little-endian ELF executable
// around a given text range, for tests that need a real file on disk.
package elftest

import "encoding/binary"

// TextVaddr is the virtual address of the fixture's first text byte.
const TextVaddr = 0x400078

// TextOff is the file offset of the fixture's first text byte.
const TextOff = 0x78

// Bytes returns an ELF executable whose .text holds exactly text. The
// image has one PT_LOAD covering the file from offset zero.
func Bytes(text []byte) []byte {
	le := binary.LittleEndian

	shstrtab := []byte("\x00.text\x00.shstrtab\x00")
	strOff := TextOff + len(text)
	shoff := strOff + len(shstrtab)
	shoff += (8 - shoff%8) % 8

	out := make([]byte, shoff+3*64)

	// ELF header.
	copy(out, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(out[0x10:], 2)  // ET_EXEC
	le.PutUint16(out[0x12:], 62) // EM_X86_64
	le.PutUint32(out[0x14:], 1)
	le.PutUint64(out[0x18:], TextVaddr)    // e_entry
	le.PutUint64(out[0x20:], 0x40)         // e_phoff
	le.PutUint64(out[0x28:], uint64(shoff))
	le.PutUint16(out[0x34:], 64) // e_ehsize
	le.PutUint16(out[0x36:], 56) // e_phentsize
	le.PutUint16(out[0x38:], 1)  // e_phnum
	le.PutUint16(out[0x3a:], 64) // e_shentsize
	le.PutUint16(out[0x3c:], 3)  // e_shnum
	le.PutUint16(out[0x3e:], 2)  // e_shstrndx

	// The one PT_LOAD, R+X over the whole file head.
	ph := out[0x40:]
	le.PutUint32(ph[0:], 1) // PT_LOAD
	le.PutUint32(ph[4:], 5) // PF_R|PF_X
	le.PutUint64(ph[8:], 0)
	le.PutUint64(ph[16:], TextVaddr-TextOff)
	le.PutUint64(ph[24:], TextVaddr-TextOff)
	le.PutUint64(ph[32:], uint64(strOff))
	le.PutUint64(ph[40:], uint64(strOff))
	le.PutUint64(ph[48:], 0x1000)

	copy(out[TextOff:], text)
	copy(out[strOff:], shstrtab)

	// Section headers: null, .text, .shstrtab.
	sh := out[shoff+64:]
	le.PutUint32(sh[0:], 1) // name ".text"
	le.PutUint32(sh[4:], 1) // SHT_PROGBITS
	le.PutUint64(sh[8:], 6) // SHF_ALLOC|SHF_EXECINSTR
	le.PutUint64(sh[16:], TextVaddr)
	le.PutUint64(sh[24:], TextOff)
	le.PutUint64(sh[32:], uint64(len(text)))

	sh = out[shoff+128:]
	le.PutUint32(sh[0:], 7) // name ".shstrtab"
	le.PutUint32(sh[4:], 3) // SHT_STRTAB
	le.PutUint64(sh[24:], uint64(strOff))
	le.PutUint64(sh[32:], uint64(len(shstrtab)))

	return out
}
