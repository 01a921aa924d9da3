// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package itc

import (
	"testing"

	"github.com/ganboing/sifive-trace-decoder/nexus"
)

// perfWrite builds a write on ITC channel 0. The parser folds a write's
// byte offset (the address's low 2 bits) into ITCWidth, so offset is
// implied by width and only labels each call.
func perfWrite(core uint8, offset, width int, data uint64) *nexus.TraceMessage {
	return &nexus.TraceMessage{
		Tcode: nexus.TCodeAuxAccessWrite, Core: core,
		ITCChannel: 0, ITCWidth: width, ITCData: data,
	}
}

func TestPerfFSMCounterDefAndRawValue(t *testing.T) {
	p := NewPerfFSM(0, 0xdeadbeef)

	// Marker resets to the record-type state.
	p.Feed(perfWrite(0, 0, 4, 0xdeadbeef))

	// Record type byte: kind=CounterValue(1), mode=Raw(0) -> 0x01.
	p.Feed(perfWrite(0, 3, 1, 0x01))
	// Mask selects counter 0 only.
	p.Feed(perfWrite(0, 0, 4, 0x1))
	// Low 32 bits of the counter value.
	p.Feed(perfWrite(0, 0, 4, 0x1234))
	// High 16 bits (zero here).
	p.Feed(perfWrite(0, 2, 2, 0))

	values := p.DrainCounterValues(0)
	if len(values) != 1 || values[0].Value != 0x1234 || values[0].Index != 0 {
		t.Fatalf("values = %+v, want one counter 0 = 0x1234", values)
	}
}

func TestPerfFSMDeltaMode(t *testing.T) {
	p := NewPerfFSM(0, 0xdeadbeef)
	p.Feed(perfWrite(0, 0, 4, 0xdeadbeef))
	p.Feed(perfWrite(0, 3, 1, 0x05)) // kind=CounterValue(1), mode=Delta(1) -> 0b0101
	p.Feed(perfWrite(0, 0, 4, 0x1))  // mask: counter 0
	p.Feed(perfWrite(0, 0, 4, 10))
	p.Feed(perfWrite(0, 2, 2, 0))

	p.Feed(perfWrite(0, 0, 4, 0xdeadbeef))
	p.Feed(perfWrite(0, 3, 1, 0x05))
	p.Feed(perfWrite(0, 0, 4, 0x1))
	p.Feed(perfWrite(0, 0, 4, 5))
	p.Feed(perfWrite(0, 2, 2, 0))

	values := p.DrainCounterValues(0)
	if len(values) != 2 || values[0].Value != 10 || values[1].Value != 15 {
		t.Fatalf("values = %+v, want [10,15] (delta accumulation)", values)
	}
}

func TestPerfFSMCounterDef(t *testing.T) {
	p := NewPerfFSM(0, 0xdeadbeef)
	p.Feed(perfWrite(0, 0, 4, 0xdeadbeef))
	p.Feed(perfWrite(0, 3, 1, 0x00)) // kind=CounterDef(0), mode irrelevant
	p.Feed(perfWrite(0, 0, 4, 0x1))  // mask: counter 0
	p.Feed(perfWrite(0, 3, 1, 0x07)) // code byte
	p.Feed(perfWrite(0, 0, 4, 0x55)) // event-data word

	defs := p.DrainCounterDefs(0)
	if len(defs) != 1 || defs[0].Code != 0x07 || defs[0].Event != 0x55 {
		t.Fatalf("defs = %+v, want one def code=7 event=0x55", defs)
	}
}

func TestPerfFSMFuncEnterWithCallSite(t *testing.T) {
	p := NewPerfFSM(0, 0xdeadbeef)
	p.Feed(perfWrite(0, 0, 4, 0xdeadbeef))
	p.Feed(perfWrite(0, 3, 1, 0x02)) // kind=FuncEnter(2)
	p.Feed(perfWrite(0, 0, 4, 0))    // mask write (unused for func records)
	p.Feed(perfWrite(0, 0, 4, 0x2000))
	p.Feed(perfWrite(0, 0, 4, 0x1000))

	funcs := p.DrainFuncRecords(0)
	if len(funcs) != 1 || !funcs[0].Enter || funcs[0].PC != 0x2000 || funcs[0].CallSite != 0x1000 {
		t.Fatalf("funcs = %+v, want enter PC=0x2000 site=0x1000", funcs)
	}
}
