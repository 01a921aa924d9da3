// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package itc

import (
	"github.com/ganboing/sifive-trace-decoder/nexus"
	"github.com/ganboing/sifive-trace-decoder/nexus/walker"
)

// MaxCounters bounds the number of performance counters ITCPerfFSM
// tracks per core, mirroring walker.MaxCores's fixed-capacity-array
// approach (spec §9).
const MaxCounters = 32

// PerfMode selects how a counter's absolute value is reconstructed
// from the raw payload delivered on the wire (spec §4.7).
type PerfMode uint8

const (
	PerfModeRaw PerfMode = iota
	PerfModeDelta
	PerfModeDeltaXOR
)

// RecordKind distinguishes a group of counter-definition writes from a
// group of counter-value writes in the embedded sub-protocol.
type RecordKind uint8

const (
	RecordCounterDef RecordKind = iota
	RecordCounterValue
	RecordFuncEnter
	RecordFuncExit
)

// CounterDef is a decoded counter-definition event.
type CounterDef struct {
	Core  uint8
	Index int
	Code  byte
	Event uint32
}

// CounterValue is a decoded, fully-reconstructed counter reading.
type CounterValue struct {
	Core  uint8
	Index int
	Value uint64
}

// FuncRecord is a decoded FuncEnter/FuncExit record: the target PC and,
// for entry records, the call site that reached it.
type FuncRecord struct {
	Core        uint8
	Enter       bool
	PC          uint64
	CallSite    uint64
	HasCallSite bool
}

// perfState is PerfFSM's per-core position in the record grammar. The
// *High states read the 16-bit upper half of a 48-bit value; there is
// no separate counter-definition, counter-info, GetCnts or error state.
type perfState uint8

const (
	perfSync perfState = iota
	perfGetCntType
	perfGetCntrMask
	perfGetCntrCode
	perfGetCntrEventData
	perfGetCntrRecord
	perfGetCntrHigh
	perfGetAddr
	perfGetAddrHigh
	perfGetCallSite
	perfGetCallSiteHigh
)

type perfCounter struct {
	last uint64
}

type perfCore struct {
	state perfState
	kind  RecordKind
	mode  PerfMode

	mask    uint32 // active-counter bitmask for the record group in progress
	counter int     // index of the counter currently being read within the group

	low32 uint64

	addrLow uint64
	siteLow uint64

	counters [MaxCounters]perfCounter

	defs   []CounterDef
	values []CounterValue
	funcs  []FuncRecord
}

// PerfFSM decodes the performance-counter sub-protocol carried over a
// single ITC channel (spec §4.7).
//
// The wire format gives each write a (byte-offset, width, data) shape:
// an 8-bit write at offset 3 carries a record-type/mode byte, a 32-bit
// write at offset 0 carries a full word, and a 16-bit write at offset 2
// carries the high half of a 48-bit value whose low 32 bits arrived in
// the previous word. The byte offset is the low 2 bits of the raw
// channel address, which the parser has already decoded into
// TraceMessage.ITCWidth (32-bit at offset 0, 16-bit at offset 2, 8-bit
// at offset 3), so the FSM derives the offset from ITCWidth and matches
// ITCChannel against the configured channel as is.
type PerfFSM struct {
	channel uint32
	marker  uint32
	cores   [walker.MaxCores]perfCore
}

// NewPerfFSM constructs a PerfFSM listening on channel, resetting to
// Sync whenever a 32-bit write carries the value marker.
func NewPerfFSM(channel, marker uint32) *PerfFSM {
	return &PerfFSM{channel: channel, marker: marker}
}

// Feed offers msg to the FSM. It reports whether msg was consumed as
// perf-protocol data (an AuxAccessWrite/DataAcquisition on the
// configured channel).
func (p *PerfFSM) Feed(msg *nexus.TraceMessage) bool {
	if msg.Tcode != nexus.TCodeAuxAccessWrite && msg.Tcode != nexus.TCodeDataAcquisition {
		return false
	}
	if msg.ITCChannel != p.channel {
		return false
	}
	core := &p.cores[msg.Core]
	// The byte offset is the width code the parser decoded from the
	// channel address's low 2 bits.
	offset := 0
	switch msg.ITCWidth {
	case 2:
		offset = 2
	case 1:
		offset = 3
	}
	data := msg.ITCData

	if msg.ITCWidth == 4 && offset == 0 && uint32(data) == p.marker {
		// The marker only resynchronizes the parser's position in the
		// record grammar; it does not rewind reconstructed counter
		// values, or Delta/DeltaXOR mode would never accumulate past
		// a single record group (spec §4.7's lastCount is seeded once,
		// not on every marker).
		core.state = perfGetCntType
		core.mask = 0
		core.counter = 0
		return true
	}

	p.step(msg.Core, core, offset, msg.ITCWidth, data)
	return true
}

func (p *PerfFSM) step(coreID uint8, c *perfCore, offset, width int, data uint64) {
	switch c.state {
	case perfSync, perfGetCntType:
		if offset != 3 || width != 1 {
			return
		}
		b := byte(data)
		c.kind = RecordKind(b & 0x3)
		c.mode = PerfMode((b >> 2) & 0x3)
		c.state = perfGetCntrMask

	case perfGetCntrMask:
		if offset != 0 || width != 4 {
			return
		}
		c.mask = uint32(data)
		if c.kind == RecordFuncEnter || c.kind == RecordFuncExit {
			// Mask is unused for a func record: a single address (and,
			// for FuncEnter, call site) record follows directly.
			c.state = perfGetAddr
			return
		}
		if !p.advanceCounter(c) {
			c.state = perfSync
			return
		}
		if c.kind == RecordCounterDef {
			c.state = perfGetCntrCode
		} else {
			c.state = perfGetCntrRecord
		}

	case perfGetCntrCode:
		if offset != 3 || width != 1 {
			return
		}
		c.low32 = uint64(byte(data))
		c.state = perfGetCntrEventData

	case perfGetCntrEventData:
		if offset != 0 || width != 4 {
			return
		}
		c.defs = append(c.defs, CounterDef{
			Core:  coreID,
			Index: c.counter,
			Code:  byte(c.low32),
			Event: uint32(data),
		})
		if p.advanceCounter(c) {
			c.state = perfGetCntrCode
		} else {
			c.state = perfSync
		}

	case perfGetCntrRecord:
		if offset != 0 || width != 4 {
			return
		}
		c.low32 = data
		c.state = perfGetCntrHigh

	case perfGetCntrHigh:
		if offset != 2 || width != 2 {
			return
		}
		raw := c.low32 | (data << 32)
		value := reconstruct(c.mode, &c.counters[c.counter], raw)
		c.values = append(c.values, CounterValue{Core: coreID, Index: c.counter, Value: value})
		if p.advanceCounter(c) {
			c.state = perfGetCntrRecord
		} else {
			c.state = perfSync
		}

	case perfGetAddr:
		if offset != 0 || width != 4 {
			return
		}
		if data&1 == 0 {
			c.addrLow = data
			p.finishAddr(coreID, c, data)
			return
		}
		c.addrLow = data
		c.state = perfGetAddrHigh

	case perfGetAddrHigh:
		if offset != 0 || width != 4 {
			return
		}
		addr := (c.addrLow &^ 1) | (data << 32)
		p.finishAddr(coreID, c, addr)

	case perfGetCallSite:
		if offset != 0 || width != 4 {
			return
		}
		if data&1 == 0 {
			p.finishCallSite(coreID, c, data)
			return
		}
		c.siteLow = data
		c.state = perfGetCallSiteHigh

	case perfGetCallSiteHigh:
		if offset != 0 || width != 4 {
			return
		}
		site := (c.siteLow &^ 1) | (data << 32)
		p.finishCallSite(coreID, c, site)
	}
}

func (p *PerfFSM) finishAddr(coreID uint8, c *perfCore, addr uint64) {
	if c.kind == RecordFuncEnter {
		c.addrLow = addr
		c.state = perfGetCallSite
		return
	}
	c.funcs = append(c.funcs, FuncRecord{Core: coreID, Enter: false, PC: addr})
	c.state = perfSync
}

func (p *PerfFSM) finishCallSite(coreID uint8, c *perfCore, site uint64) {
	c.funcs = append(c.funcs, FuncRecord{Core: coreID, Enter: true, PC: c.addrLow, CallSite: site, HasCallSite: true})
	c.state = perfSync
}

// advanceCounter moves c.counter to the next set bit in c.mask at or
// after the current position, clearing bits as they're consumed. It
// reports false once the mask is exhausted.
func (p *PerfFSM) advanceCounter(c *perfCore) bool {
	if c.mask == 0 {
		return false
	}
	// Clear the bit just consumed, if any (counter starts at -1
	// conceptually via the mask bit test below on first call).
	for i := 0; i < MaxCounters; i++ {
		bit := uint32(1) << uint(i)
		if c.mask&bit != 0 {
			c.mask &^= bit
			c.counter = i
			return true
		}
	}
	return false
}

// reconstruct applies mode to raw against the counter's last absolute
// value, per spec §4.7.
func reconstruct(mode PerfMode, ctr *perfCounter, raw uint64) uint64 {
	var value uint64
	switch mode {
	case PerfModeDelta:
		value = ctr.last + raw
	case PerfModeDeltaXOR:
		value = ctr.last ^ raw
	default:
		value = raw
	}
	ctr.last = value
	return value
}

// DrainCounterDefs removes and returns all counter-definition events
// decoded so far for core.
func (p *PerfFSM) DrainCounterDefs(core uint8) []CounterDef {
	c := &p.cores[core]
	defs := c.defs
	c.defs = nil
	return defs
}

// DrainCounterValues removes and returns all counter-value events
// decoded so far for core.
func (p *PerfFSM) DrainCounterValues(core uint8) []CounterValue {
	c := &p.cores[core]
	values := c.values
	c.values = nil
	return values
}

// DrainFuncRecords removes and returns all FuncEnter/FuncExit records
// decoded so far for core.
func (p *PerfFSM) DrainFuncRecords(core uint8) []FuncRecord {
	c := &p.cores[core]
	funcs := c.funcs
	c.funcs = nil
	return funcs
}
