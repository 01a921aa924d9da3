// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package convert implements the three output converters (spec §4.9):
// CTFConverter, EventConverter and PerfConverter. Each is a sink --
// nexus/fsm, nexus/itc and nexus/ca feed it typed events or calls, it
// owns its own file descriptors, and it does not feed back into the
// decode pipeline (spec §9's "output converters are sinks, not
// parents").
package convert

import (
	"debug/dwarf"
	"fmt"

	"github.com/ganboing/sifive-trace-decoder/internal/elfsym"
	"github.com/ganboing/sifive-trace-decoder/nexus"
)

// SourceLocator resolves a PC to the enclosing function and source
// line, for the "ffl:file:function:line" suffix on event/perf text
// lines. *elfsym.ExecutableLookup satisfies it; converters accept the
// interface so tests can supply a fake instead of loading a real ELF.
type SourceLocator interface {
	DemangledFuncAt(pc nexus.Address) (elfsym.FuncRange, bool)
	LineAt(pc nexus.Address) (dwarf.LineEntry, bool)
}

// ffl renders the "ffl:file:function:line" suffix spec §6 describes
// for Event and Perf output lines. A missing file or function is
// rendered empty and a missing line as 0, rather than omitted, so
// downstream line-oriented tools can rely on a fixed field count.
func ffl(loc SourceLocator, pc nexus.Address) string {
	if loc == nil {
		return "ffl:::0"
	}
	fn, _ := loc.DemangledFuncAt(pc)
	line, _ := loc.LineAt(pc)
	file := ""
	if line.File != nil {
		file = line.File.Name
	}
	return fmt.Sprintf("ffl:%s:%s:%d", file, fn.Name, line.Line)
}
