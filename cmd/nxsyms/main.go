// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nxsyms lists the function symbols and source lines
// internal/elfsym resolves for an executable -- useful for validating
// an ELF before decoding a trace against it, or for spot-checking
// which PCs fall outside every executable section and would trigger
// spec §7's "Executable lookup miss" during decode. Adapted from the
// teacher's cmd/prologuer, which walks the same DWARF line table to
// find function-prologue ranges in a profile.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ganboing/sifive-trace-decoder/internal/elfsym"
	"github.com/ganboing/sifive-trace-decoder/nexus"
)

func main() {
	var (
		flagELF   = flag.String("elf", "", "executable `file`")
		flagCheck = flag.Uint64("check", 0, "report the function/line for this `pc` and exit")
	)
	flag.Parse()
	if flag.NArg() > 0 || *flagELF == "" {
		flag.Usage()
		os.Exit(1)
	}

	exe, err := elfsym.Load(*flagELF)
	if err != nil {
		log.Fatal(err)
	}

	if *flagCheck != 0 {
		pc := nexus.Address(*flagCheck)
		if _, _, err := exe.FetchOpcode(pc); err != nil {
			fmt.Printf("0x%x: %v\n", uint64(pc), err)
			os.Exit(1)
		}
		fn, hasFn := exe.DemangledFuncAt(pc)
		line, hasLine := exe.LineAt(pc)
		switch {
		case hasFn && hasLine && line.File != nil:
			fmt.Printf("0x%x: %s+0x%x at %s:%d\n", uint64(pc), fn.Name, uint64(pc)-fn.Lowpc, line.File.Name, line.Line)
		case hasFn:
			fmt.Printf("0x%x: %s+0x%x\n", uint64(pc), fn.Name, uint64(pc)-fn.Lowpc)
		default:
			fmt.Printf("0x%x: <no symbol>\n", uint64(pc))
		}
		return
	}

	fmt.Printf("arch: %d-bit\n\n", exe.ArchSize())
	for _, fn := range exe.Funcs() {
		fmt.Printf("%#016x %8d %s\n", fn.Lowpc, fn.Highpc-fn.Lowpc, fn.Name)
	}
}
