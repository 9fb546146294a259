// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command stitch-dump prints the basic blocks recovered from an ELF
// executable's text.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/arch/x86/x86asm"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/disasm"
	"github.com/go-rewriter/stitch/elfrw"
	"github.com/go-rewriter/stitch/mem"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: stitch-dump [options] file1 [file2 [...]]

ex:
 $> stitch-dump -d ./a.out

options:
`,
		)
		flag.PrintDefaults()
		os.Exit(1)
	}
}

var (
	flagHeaders = flag.Bool("h", false, "print text-range headers")
	flagDis     = flag.Bool("d", false, "disassemble recovered blocks")
	flagFuncs   = flag.Bool("f", false, "print the recovered function map")
)

func main() {
	log.SetPrefix("stitch-dump: ")
	log.SetFlags(0)

	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	if !*flagHeaders && !*flagDis && !*flagFuncs {
		flag.Usage()
		flag.PrintDefaults()
		log.Printf("At least one of -d, -f or -h must be given")
		os.Exit(1)
	}

	for i, fname := range flag.Args() {
		if i > 0 {
			fmt.Printf("\n")
		}
		process(fname)
	}
}

func process(fname string) {
	f, err := elfrw.Load(fname)
	if err != nil {
		log.Fatalf("could not load %q: %v", fname, err)
	}
	im, err := mem.Open(fname)
	if err != nil {
		log.Fatalf("could not map %q: %v", fname, err)
	}
	defer im.Close()

	rec, err := disasm.Recover(im, f.TextStart(), int(f.TextSize), addr.NewSource())
	if err != nil {
		log.Fatalf("could not recover blocks: %v", err)
	}

	if *flagHeaders {
		fmt.Printf("%s: .text at %v, %d bytes, %d blocks\n", fname, f.TextStart(), f.TextSize, len(rec.Pairs))
	}
	if *flagDis {
		printDis(rec)
	}
	if *flagFuncs {
		printFuncs(rec)
	}
}

func printDis(rec *disasm.Recovery) {
	for _, p := range rec.Pairs {
		fmt.Printf("block %v (%v, %d bytes):\n", p.Sym.ID, p.Orig.Addr, p.Orig.ByteLen)
		pc := p.Orig.Addr.Abs()
		for _, i := range p.Orig.Body {
			inst, err := x86asm.Decode(i.Enc, 64)
			if err != nil {
				fmt.Printf("  %#08x: ?? % x\n", pc, i.Enc)
				pc += uint64(len(i.Enc))
				continue
			}
			fmt.Printf("  %#08x: %s\n", pc, x86asm.GNUSyntax(inst, pc, nil))
			pc += uint64(inst.Len)
		}
	}
}

func printFuncs(rec *disasm.Recovery) {
	for _, entry := range rec.SortedEntries() {
		fmt.Printf("func at %v: %d blocks\n", entry, len(rec.Funcs[entry]))
	}
}
