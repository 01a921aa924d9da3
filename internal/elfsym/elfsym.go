// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfsym loads a RISC-V ELF executable and exposes it as a
// read-only ExecutableLookup (spec §6's "Executable input"): raw
// opcode bytes by PC for instruction decode, and symbol/line lookup by
// PC for textual output. Function and line tables are built from
// DWARF the same way perfsession.Symbolize does, falling back to the
// ELF symbol table when no DWARF info is present.
package elfsym

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"sort"

	"github.com/ianlancetaylor/demangle"

	"github.com/ganboing/sifive-trace-decoder/nexus"
)

// FuncRange names the address range of one function.
type FuncRange struct {
	Name          string
	Lowpc, Highpc uint64
}

type section struct {
	addr uint64
	data []byte
}

// ExecutableLookup is a read-only view of one loaded executable. The
// zero value is not usable; construct with Load.
type ExecutableLookup struct {
	archSize int
	sections []section
	funcs    []FuncRange
	lines    []dwarf.LineEntry
}

// Load opens and indexes the ELF file at path. The returned
// ExecutableLookup keeps only the bytes of executable sections and the
// decoded symbol/line tables; the file itself is closed before Load
// returns (spec §5: borrowed tables are read-only for the decoder's
// lifetime, not a live file handle).
func Load(path string) (*ExecutableLookup, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfsym: open %s: %w", path, err)
	}
	defer f.Close()

	e := &ExecutableLookup{}
	switch f.Class {
	case elf.ELFCLASS32:
		e.archSize = 32
	case elf.ELFCLASS64:
		e.archSize = 64
	default:
		return nil, fmt.Errorf("elfsym: %s: unrecognized ELF class", path)
	}

	for _, sec := range f.Sections {
		if sec.Flags&elf.SHF_EXECINSTR == 0 || sec.Addr == 0 || sec.Type == elf.SHT_NOBITS {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("elfsym: read section %s of %s: %w", sec.Name, path, err)
		}
		e.sections = append(e.sections, section{addr: sec.Addr, data: data})
	}
	sort.Slice(e.sections, func(i, j int) bool { return e.sections[i].addr < e.sections[j].addr })

	if f.Section(".debug_info") != nil {
		if dwarff, err := f.DWARF(); err == nil {
			e.funcs = dwarfFuncTable(dwarff)
			e.lines = dwarfLineTable(dwarff)
		}
	}
	if len(e.funcs) == 0 {
		e.funcs = elfFuncTable(f)
	}

	return e, nil
}

// ArchSize reports the target's register width, 32 or 64.
func (e *ExecutableLookup) ArchSize() int { return e.archSize }

func (e *ExecutableLookup) section(pc nexus.Address) *section {
	addr := uint64(pc)
	i := sort.Search(len(e.sections), func(i int) bool {
		return addr < e.sections[i].addr+uint64(len(e.sections[i].data))
	})
	if i < len(e.sections) && e.sections[i].addr <= addr {
		return &e.sections[i]
	}
	return nil
}

// FetchOpcode implements nexus/fsm.InstructionFetcher and
// nexus/ca.OpcodeFetcher: it returns the raw instruction bits at pc,
// reading 4 bytes (or 2, at the very end of a section, for a trailing
// compressed instruction) in the target's native byte order.
func (e *ExecutableLookup) FetchOpcode(pc nexus.Address) (opcode uint32, archSize int, err error) {
	sec := e.section(pc)
	if sec == nil {
		return 0, 0, nexus.ErrAddressNotMapped
	}
	off := uint64(pc) - sec.addr
	remaining := len(sec.data) - int(off)
	if remaining < 2 {
		return 0, 0, nexus.ErrAddressNotMapped
	}
	n := 4
	if remaining < 4 {
		n = 2
	}
	var raw uint32
	for i := 0; i < n; i++ {
		raw |= uint32(sec.data[int(off)+i]) << uint(8*i)
	}
	return raw, e.archSize, nil
}

// Funcs returns every function range in address order, for tools like
// cmd/nxsyms that enumerate an executable's symbols rather than
// looking up one PC.
func (e *ExecutableLookup) Funcs() []FuncRange {
	return e.funcs
}

// FuncAt returns the function containing pc, if any.
func (e *ExecutableLookup) FuncAt(pc nexus.Address) (FuncRange, bool) {
	addr := uint64(pc)
	i := sort.Search(len(e.funcs), func(i int) bool { return addr < e.funcs[i].Highpc })
	if i < len(e.funcs) && e.funcs[i].Lowpc <= addr && addr < e.funcs[i].Highpc {
		return e.funcs[i], true
	}
	return FuncRange{}, false
}

// DemangledFuncAt is FuncAt with the name run through a C++ (Itanium
// ABI) demangler, for symbols toolchains emit mangled (common for
// RISC-V C++ firmware). Names that don't parse as mangled are returned
// unchanged.
func (e *ExecutableLookup) DemangledFuncAt(pc nexus.Address) (FuncRange, bool) {
	f, ok := e.FuncAt(pc)
	if !ok {
		return f, false
	}
	if demangled := demangle.Filter(f.Name); demangled != f.Name {
		f.Name = demangled
	}
	return f, true
}

// LineAt returns the DWARF line-table entry covering pc, if any.
func (e *ExecutableLookup) LineAt(pc nexus.Address) (dwarf.LineEntry, bool) {
	addr := uint64(pc)
	i := sort.Search(len(e.lines), func(i int) bool { return addr < e.lines[i].Address })
	if i != 0 && !e.lines[i-1].EndSequence {
		return e.lines[i-1], true
	}
	return dwarf.LineEntry{}, false
}

func dwarfFuncTable(dwarff *dwarf.Data) []FuncRange {
	r := dwarff.Reader()
	var out []FuncRange
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
		switch ent.Tag {
		case dwarf.TagSubprogram:
			r.SkipChildren()
			name, ok := ent.Val(dwarf.AttrName).(string)
			if !ok {
				continue
			}
			lowpc, ok := ent.Val(dwarf.AttrLowpc).(uint64)
			if !ok {
				continue
			}
			var highpc uint64
			switch v := ent.Val(dwarf.AttrHighpc).(type) {
			case uint64:
				highpc = v
			case int64:
				highpc = lowpc + uint64(v)
			default:
				continue
			}
			out = append(out, FuncRange{Name: name, Lowpc: lowpc, Highpc: highpc})

		case dwarf.TagCompileUnit, dwarf.TagModule, dwarf.TagNamespace:
			// descend into children

		default:
			r.SkipChildren()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lowpc < out[j].Lowpc })
	return out
}

func dwarfLineTable(dwarff *dwarf.Data) []dwarf.LineEntry {
	var out []dwarf.LineEntry
	dr := dwarff.Reader()
	for {
		ent, err := dr.Next()
		if ent == nil || err != nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			dr.SkipChildren()
			continue
		}
		lr, err := dwarff.LineReader(ent)
		if err != nil || lr == nil {
			continue
		}
		for {
			var lent dwarf.LineEntry
			if err := lr.Next(&lent); err != nil {
				if err != io.EOF {
					break
				}
				break
			}
			out = append(out, lent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// elfFuncTable builds a function table from the ELF symbol table when
// no DWARF info is available, using STT_FUNC symbols' st_value/st_size.
func elfFuncTable(f *elf.File) []FuncRange {
	syms, err := f.Symbols()
	if err != nil {
		syms = nil
	}
	dynsyms, _ := f.DynamicSymbols()
	syms = append(syms, dynsyms...)

	var out []FuncRange
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 {
			continue
		}
		out = append(out, FuncRange{Name: s.Name, Lowpc: s.Value, Highpc: s.Value + s.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lowpc < out[j].Lowpc })
	return out
}
