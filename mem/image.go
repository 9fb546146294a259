// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mem

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/go-rewriter/stitch/addr"
)

// segment is one loadable range of the image.
type segment struct {
	seg    addr.Segment
	vaddr  uint64
	memsz  uint64
	off    uint64 // file offset of the segment's first byte
	filesz uint64
}

// Image is a memory-mapped ELF executable. It implements View and serves
// raw bytes to block recovery.
type Image struct {
	f    *os.File
	data mmap.MMap
	segs []segment
}

// Open maps the ELF executable at path read-only and indexes its loadable
// segments. Segment tags are assigned in ascending virtual-address order.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mem: mapping %q: %v", path, err)
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, fmt.Errorf("mem: reading ELF %q: %v", path, err)
	}
	im := &Image{f: f, data: data}
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.segs = append(im.segs, segment{
			vaddr:  p.Vaddr,
			memsz:  p.Memsz,
			off:    p.Off,
			filesz: p.Filesz,
		})
	}
	sort.Slice(im.segs, func(i, j int) bool { return im.segs[i].vaddr < im.segs[j].vaddr })
	for i := range im.segs {
		im.segs[i].seg = addr.Segment(i)
	}
	return im, nil
}

// ResolveAbsolute implements View.
func (im *Image) ResolveAbsolute(vaddr uint64) (addr.Concrete, bool) {
	for _, s := range im.segs {
		if vaddr >= s.vaddr && vaddr < s.vaddr+s.memsz {
			return addr.NewConcrete(s.seg, vaddr), true
		}
	}
	return addr.Concrete{}, false
}

// Bytes returns n bytes of the image starting at a. The range must fall
// inside the file-backed part of a's segment.
func (im *Image) Bytes(a addr.Concrete, n int) ([]byte, error) {
	for _, s := range im.segs {
		if s.seg != a.Seg {
			continue
		}
		if a.Off < s.vaddr || a.Off+uint64(n) > s.vaddr+s.filesz {
			return nil, fmt.Errorf("mem: %v+%d outside the file-backed range of its segment", a, n)
		}
		start := s.off + (a.Off - s.vaddr)
		return im.data[start : start+uint64(n)], nil
	}
	return nil, fmt.Errorf("mem: no segment for %v", a)
}

// Close unmaps the image and closes the underlying file.
func (im *Image) Close() error {
	if err := im.data.Unmap(); err != nil {
		im.f.Close()
		return err
	}
	return im.f.Close()
}
