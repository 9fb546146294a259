// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfrw loads the ELF executable being rewritten and emits the
// rewritten one: the original image with its text patched, plus one
// appended PT_LOAD segment holding the fresh code region. The program
// header table is rewritten at the end of the file so the new entry fits.
package elfrw

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/go-rewriter/stitch/addr"
)

const pageSize = 0x1000

// ELF64 header field offsets.
const (
	offPhoff     = 0x20
	offPhentsize = 0x36
	offPhnum     = 0x38
)

// File is a loaded ELF executable.
type File struct {
	Data []byte

	TextOff  uint64
	TextAddr uint64
	TextSize uint64
	TextSeg  addr.Segment

	phoff     uint64
	phentsize int
	phnum     int
	loadEnd   uint64 // highest vaddr+memsz over PT_LOAD
}

// Load reads the ELF executable at path. Only 64-bit little-endian
// executables are supported.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("elfrw: reading %q: %v", path, err)
	}
	if ef.Class != elf.ELFCLASS64 || ef.Data != elf.ELFDATA2LSB {
		return nil, UnsupportedFormatError{Class: ef.Class, ByteOrder: ef.Data}
	}
	sec := ef.Section(".text")
	if sec == nil {
		return nil, NoTextError{Path: path}
	}

	f := &File{
		Data:      data,
		TextOff:   sec.Offset,
		TextAddr:  sec.Addr,
		TextSize:  sec.Size,
		phoff:     binary.LittleEndian.Uint64(data[offPhoff:]),
		phentsize: int(binary.LittleEndian.Uint16(data[offPhentsize:])),
		phnum:     int(binary.LittleEndian.Uint16(data[offPhnum:])),
	}

	var loads []*elf.Prog
	for _, p := range ef.Progs {
		if p.Type == elf.PT_LOAD {
			loads = append(loads, p)
		}
	}
	sort.Slice(loads, func(i, j int) bool { return loads[i].Vaddr < loads[j].Vaddr })
	for i, p := range loads {
		if sec.Addr >= p.Vaddr && sec.Addr < p.Vaddr+p.Memsz {
			f.TextSeg = addr.Segment(i)
		}
		if end := p.Vaddr + p.Memsz; end > f.loadEnd {
			f.loadEnd = end
		}
	}
	return f, nil
}

// TextStart returns the segment-tagged address of the first text byte.
func (f *File) TextStart() addr.Concrete {
	return addr.NewConcrete(f.TextSeg, f.TextAddr)
}

// TextBytes returns the original text range.
func (f *File) TextBytes() []byte {
	return f.Data[f.TextOff : f.TextOff+f.TextSize]
}

// FreshVaddr returns a page-aligned virtual address one page past every
// loaded segment, suitable as the layout base.
func (f *File) FreshVaddr() uint64 {
	return (f.loadEnd + 2*pageSize - 1) &^ uint64(pageSize-1)
}

// Emit writes the rewritten executable to path: the original image with
// text spliced in, and, when fresh is non-empty, an appended PT_LOAD at
// freshVaddr with the program header table relocated to the file's end.
func (f *File) Emit(path string, text []byte, fresh []byte, freshVaddr uint64) error {
	if uint64(len(text)) != f.TextSize {
		return fmt.Errorf("elfrw: patched text is %d bytes, original is %d", len(text), f.TextSize)
	}
	out := append([]byte(nil), f.Data...)
	copy(out[f.TextOff:], text)

	if len(fresh) > 0 {
		// The appended segment's file offset must be congruent to its
		// virtual address modulo the page size.
		pad := (freshVaddr - uint64(len(out))) % pageSize
		out = append(out, make([]byte, pad)...)
		freshOff := uint64(len(out))
		out = append(out, fresh...)

		// Relocated program header table: the original entries plus one.
		out = append(out, make([]byte, (8-len(out)%8)%8)...)
		newPhoff := uint64(len(out))
		out = append(out, f.Data[f.phoff:f.phoff+uint64(f.phnum*f.phentsize)]...)
		out = append(out, newLoadPhdr(freshOff, freshVaddr, uint64(len(fresh)))...)

		binary.LittleEndian.PutUint64(out[offPhoff:], newPhoff)
		binary.LittleEndian.PutUint16(out[offPhnum:], uint16(f.phnum+1))
	}
	return os.WriteFile(path, out, 0755)
}

// newLoadPhdr encodes one ELF64 PT_LOAD entry for an R+X segment.
func newLoadPhdr(off, vaddr, size uint64) []byte {
	b := make([]byte, 56)
	binary.LittleEndian.PutUint32(b[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(b[4:], uint32(elf.PF_R|elf.PF_X))
	binary.LittleEndian.PutUint64(b[8:], off)
	binary.LittleEndian.PutUint64(b[16:], vaddr)
	binary.LittleEndian.PutUint64(b[24:], vaddr)
	binary.LittleEndian.PutUint64(b[32:], size)
	binary.LittleEndian.PutUint64(b[40:], size)
	binary.LittleEndian.PutUint64(b[48:], pageSize)
	return b
}
