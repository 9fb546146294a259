// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command stitch-rewrite runs the whole pipeline over an ELF executable:
// recover blocks, lay them out under the selected strategy, assemble, and
// emit the rewritten binary. Without -all the rewrite is an identity
// rewrite; with it every recovered block is relocated, which exercises
// the trampoline and free-space machinery end to end.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"

	"github.com/go-rewriter/stitch/addr"
	"github.com/go-rewriter/stitch/assemble"
	"github.com/go-rewriter/stitch/block"
	"github.com/go-rewriter/stitch/disasm"
	"github.com/go-rewriter/stitch/elfrw"
	"github.com/go-rewriter/stitch/isa/amd64"
	"github.com/go-rewriter/stitch/layout"
	"github.com/go-rewriter/stitch/mem"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: stitch-rewrite [options] file

ex:
 $> stitch-rewrite -all -o ./a.rewritten ./a.out

options:
`,
		)
		flag.PrintDefaults()
		os.Exit(1)
	}
}

var (
	flagOut     = flag.String("o", "a.rewritten", "output path")
	flagAll     = flag.Bool("all", false, "relocate every recovered block")
	flagAlloc   = flag.String("alloc", "compact", "allocator: compact or parallel")
	flagOrder   = flag.String("order", "sorted", "compact chunk order: sorted or random")
	flagSeed    = flag.String("seed", "", "64 hex chars seeding the random order")
	flagGroup   = flag.String("group", "block", "grouping: block or func")
	flagTramp   = flag.String("tramp", "always", "trampolines: always or func")
	flagVerbose = flag.Bool("v", false, "enable/disable verbose mode")
)

func main() {
	log.SetPrefix("stitch-rewrite: ")
	log.SetFlags(0)

	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	layout.SetDebugMode(*flagVerbose)

	strat, err := parseStrategy()
	if err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
	if err := rewrite(flag.Arg(0), *flagOut, strat); err != nil {
		color.Red("rewrite failed: %v", err)
		os.Exit(1)
	}
	color.Green("wrote %s", *flagOut)
}

func parseStrategy() (layout.Strategy, error) {
	var strat layout.Strategy

	switch *flagAlloc {
	case "compact":
		strat.Alloc = layout.Compact
	case "parallel":
		strat.Alloc = layout.Parallel
	default:
		return strat, fmt.Errorf("unknown allocator %q", *flagAlloc)
	}
	switch *flagOrder {
	case "sorted":
		strat.Order = layout.SortedOrder
	case "random":
		strat.Order = layout.RandomOrder
		seed, err := hex.DecodeString(*flagSeed)
		if err != nil || len(seed) != len(strat.Seed) {
			return strat, fmt.Errorf("-order random needs -seed with %d hex chars", 2*len(strat.Seed))
		}
		copy(strat.Seed[:], seed)
	default:
		return strat, fmt.Errorf("unknown order %q", *flagOrder)
	}
	switch *flagGroup {
	case "block":
		strat.Grouping = layout.GroupBlock
	case "func":
		strat.Grouping = layout.GroupFunction
	default:
		return strat, fmt.Errorf("unknown grouping %q", *flagGroup)
	}
	switch *flagTramp {
	case "always":
		strat.Trampolines = layout.AlwaysTrampoline
	case "func":
		strat.Trampolines = layout.WholeFunctionTrampoline
	default:
		return strat, fmt.Errorf("unknown trampoline policy %q", *flagTramp)
	}
	return strat, nil
}

func rewrite(in, out string, strat layout.Strategy) error {
	f, err := elfrw.Load(in)
	if err != nil {
		return err
	}
	im, err := mem.Open(in)
	if err != nil {
		return err
	}
	defer im.Close()

	syms := addr.NewSource()
	rec, err := disasm.Recover(im, f.TextStart(), int(f.TextSize), syms)
	if err != nil {
		return err
	}
	if *flagAll {
		for _, p := range rec.Pairs {
			p.Status = block.Modified
		}
	}

	arch := amd64.New()
	base := addr.NewConcrete(f.TextSeg+1, f.FreshVaddr())
	sess := layout.NewSession(arch, im, syms, strat)
	lay, err := sess.Layout(&layout.Input{
		Pairs:      rec.Pairs,
		Funcs:      rec.Funcs,
		LayoutBase: base,
	})
	for _, d := range sess.Diagnostics() {
		log.Printf("note: %s", d)
	}
	if err != nil {
		return err
	}

	res, err := assemble.Build(arch, f.TextBytes(), f.TextStart(), rec.Pairs, lay, base)
	if err != nil {
		return err
	}
	log.Printf("reused %d bytes of the original text, %d fresh", lay.ReusedBytes, len(res.Fresh))
	return f.Emit(out, res.Text, res.Fresh, base.Abs())
}
