// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfrw

import (
	"bytes"
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-rewriter/stitch/internal/elftest"
)

func writeFixture(t *testing.T, text []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.out")
	if err := os.WriteFile(path, elftest.Bytes(text), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	text := []byte{0x90, 0x90, 0xc3}
	f, err := Load(writeFixture(t, text))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.TextAddr != elftest.TextVaddr || f.TextSize != uint64(len(text)) {
		t.Fatalf("text at %#x size %d, want %#x size %d", f.TextAddr, f.TextSize, uint64(elftest.TextVaddr), len(text))
	}
	if !bytes.Equal(f.TextBytes(), text) {
		t.Fatalf("TextBytes = % x, want % x", f.TextBytes(), text)
	}
	if f.TextStart().Seg != 0 {
		t.Fatalf("text segment tag = %d, want 0", f.TextStart().Seg)
	}
	if fv := f.FreshVaddr(); fv%0x1000 != 0 || fv <= elftest.TextVaddr {
		t.Fatalf("FreshVaddr = %#x, want page-aligned past the image", fv)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus")
	if err := os.WriteFile(path, []byte("not an elf"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load accepted a non-ELF file")
	}
}

func TestEmitAppendsSegment(t *testing.T) {
	text := []byte{0x90, 0x90, 0xc3}
	f, err := Load(writeFixture(t, text))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	patched := []byte{0xcc, 0x90, 0xc3}
	fresh := bytes.Repeat([]byte{0xcc}, 32)
	freshVaddr := f.FreshVaddr()
	out := filepath.Join(t.TempDir(), "a.rewritten")
	if err := f.Emit(out, patched, fresh, freshVaddr); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	ef, err := elf.Open(out)
	if err != nil {
		t.Fatalf("rewritten file does not parse: %v", err)
	}
	defer ef.Close()

	sec := ef.Section(".text")
	if sec == nil {
		t.Fatalf("rewritten file lost .text")
	}
	got, err := sec.Data()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, patched) {
		t.Fatalf("text = % x, want % x", got, patched)
	}

	var load *elf.Prog
	for _, p := range ef.Progs {
		if p.Type == elf.PT_LOAD && p.Vaddr == freshVaddr {
			load = p
		}
	}
	if load == nil {
		t.Fatalf("no PT_LOAD at %#x in the rewritten file", freshVaddr)
	}
	if load.Filesz != uint64(len(fresh)) {
		t.Fatalf("appended segment is %d bytes, want %d", load.Filesz, len(fresh))
	}
	if load.Off%0x1000 != load.Vaddr%0x1000 {
		t.Fatalf("appended segment misaligned: off %#x vaddr %#x", load.Off, load.Vaddr)
	}
	buf := make([]byte, load.Filesz)
	if _, err := load.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, fresh) {
		t.Fatalf("appended segment content differs")
	}
}

func TestEmitWithoutFreshKeepsHeaders(t *testing.T) {
	text := []byte{0x90, 0x90, 0xc3}
	f, err := Load(writeFixture(t, text))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out := filepath.Join(t.TempDir(), "a.rewritten")
	if err := f.Emit(out, []byte{0xcc, 0x90, 0xc3}, nil, 0); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	ef, err := elf.Open(out)
	if err != nil {
		t.Fatalf("rewritten file does not parse: %v", err)
	}
	defer ef.Close()
	if len(ef.Progs) != 1 {
		t.Fatalf("got %d program headers, want 1", len(ef.Progs))
	}
}
