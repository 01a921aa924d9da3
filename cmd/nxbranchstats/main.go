// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nxbranchstats decodes a Nexus trace and reports, per branch
// PC, how often it retired taken vs not-taken (spec §4.4's BRFlag),
// sorted by total branch count -- adapted from the teacher's
// cmd/branchstats, which does the equivalent aggregation over a
// perf.data branch-stack sample instead of a retired-instruction
// stream.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/aclements/go-moremath/stats"

	"github.com/ganboing/sifive-trace-decoder/internal/elfsym"
	"github.com/ganboing/sifive-trace-decoder/nexus"
	"github.com/ganboing/sifive-trace-decoder/nexus/fsm"
	"github.com/ganboing/sifive-trace-decoder/nexus/slice"
	"github.com/ganboing/sifive-trace-decoder/nexus/walker"
)

type branchAgg struct {
	Taken, NotTaken uint64
}

func main() {
	var (
		flagRTD     = flag.String("rtd", "", "trace `file`")
		flagELF     = flag.String("elf", "", "executable `file`")
		flagSrcBits = flag.Int("srcbits", 0, "core-id width in messages")
	)
	flag.Parse()
	if flag.NArg() > 0 || *flagRTD == "" || *flagELF == "" {
		flag.Usage()
		os.Exit(1)
	}

	exe, err := elfsym.Load(*flagELF)
	if err != nil {
		log.Fatal(err)
	}
	parser, err := slice.Open(*flagRTD, *flagSrcBits)
	if err != nil {
		log.Fatal(err)
	}
	bank := walker.NewBank(32)
	w := walker.New(bank, nexus.TraceTypeAuto)
	f := fsm.New(parser, exe, w)

	agg := make(map[nexus.Address]branchAgg)
	for {
		inst, err := f.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		if inst.BRFlag != nexus.BRFlagTaken && inst.BRFlag != nexus.BRFlagNotTaken {
			continue
		}
		a := agg[inst.PC]
		if inst.BRFlag == nexus.BRFlagTaken {
			a.Taken++
		} else {
			a.NotTaken++
		}
		agg[inst.PC] = a
	}
	if err := f.Err(); err != nil {
		log.Fatal(err)
	}

	type row struct {
		pc   nexus.Address
		agg  branchAgg
		rate float64 // fraction taken
	}
	rows := make([]row, 0, len(agg))
	rates := make([]float64, 0, len(agg))
	for pc, a := range agg {
		total := a.Taken + a.NotTaken
		rate := float64(a.Taken) / float64(total)
		rows = append(rows, row{pc, a, rate})
		rates = append(rates, rate)
	}
	sort.Slice(rows, func(i, j int) bool {
		ti := rows[i].agg.Taken + rows[i].agg.NotTaken
		tj := rows[j].agg.Taken + rows[j].agg.NotTaken
		return ti > tj
	})

	if len(rates) > 0 {
		sample := stats.Sample{Xs: rates}
		fmt.Printf("# %d branch sites, taken-rate mean=%.3f stddev=%.3f\n\n",
			len(rates), sample.Mean(), sample.StdDev())
	}

	fmt.Printf("%-24s %12s %12s %8s\n", "PC", "taken", "not-taken", "rate")
	for _, r := range rows {
		loc := pcLabel(exe, r.pc)
		fmt.Printf("%-24s %12d %12d %7.1f%%\n", loc, r.agg.Taken, r.agg.NotTaken, 100*r.rate)
	}
}

func pcLabel(exe *elfsym.ExecutableLookup, pc nexus.Address) string {
	if line, ok := exe.LineAt(pc); ok && line.File != nil {
		return fmt.Sprintf("%s:%d", filepath.Base(line.File.Name), line.Line)
	}
	return fmt.Sprintf("%#x", uint64(pc))
}
