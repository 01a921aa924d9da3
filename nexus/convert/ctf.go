// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package convert

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ganboing/sifive-trace-decoder/nexus"
)

// ctfMagic is the packet magic spec §6 assigns this format.
const ctfMagic uint32 = 0xc1fc1fc1

// ctfEventID names the handful of CTF events this converter emits
// (spec §6): lttng_ust_cyg_profile's func_entry/func_exit, and the
// three lttng_ust_statedump events that bracket one bin_info record
// per core at the start of its stream (spec §9's supplemented
// "CTF statedump bin_info event").
type ctfEventID uint32

const (
	ctfEvFuncEntry ctfEventID = iota
	ctfEvFuncExit
	ctfEvStatedumpStart
	ctfEvStatedumpBinInfo
	ctfEvStatedumpEnd
)

// compactIDBits/compactTSBits follow spec §6's "compact (5-bit id +
// 27-bit TS)" event header.
const (
	compactIDBits = 5
	compactTSBits = 32 - compactIDBits
	compactIDMax  = 1<<compactIDBits - 1
	compactTSMax  = 1<<compactTSBits - 1
	extSentinel   = 0xffff
)

// writeEventHeader encodes one event header: the compact 32-bit form
// when id and ts both fit, otherwise the extended 16-bit-sentinel +
// 32-bit-id + 64-bit-ts form (spec §6).
func writeEventHeader(buf *bytes.Buffer, id ctfEventID, ts uint64) {
	if uint32(id) <= compactIDMax && ts <= compactTSMax {
		word := uint32(id)<<compactTSBits | uint32(ts)
		binary.Write(buf, binary.LittleEndian, word)
		return
	}
	binary.Write(buf, binary.LittleEndian, uint16(extSentinel))
	binary.Write(buf, binary.LittleEndian, uint32(id))
	binary.Write(buf, binary.LittleEndian, ts)
}

// coreStream accumulates one core's encoded events from its first
// event until Close. CTF packets are written whole (spec §9: the converter is a
// sink with no downstream feedback, so there is no reason to
// incrementally flush partial packets), so the events are buffered in
// memory and packaged into a single packet per core at Close.
type coreStream struct {
	core      uint8
	events    bytes.Buffer
	nEvents   uint64
	tsBegin   uint64
	tsEnd     uint64
	haveEvent bool
}

func (s *coreStream) append(id ctfEventID, ts uint64, payload []byte) {
	writeEventHeader(&s.events, id, ts)
	s.events.Write(payload)
	s.nEvents++
	if !s.haveEvent {
		s.tsBegin = ts
		s.haveEvent = true
	}
	s.tsEnd = ts
}

// BinInfo describes the executable loaded on a core, for the
// statedump bin_info event spec §9 documents: the ELF's load address,
// in-memory size and path, plus the three boolean flags the original
// tool carries (position-independent, has a build-id note, has a
// separate debug-link).
type BinInfo struct {
	BaseAddr      uint64
	MemSize       uint64
	Path          string
	IsPIC         bool
	HasBuildID    bool
	HasDebugLink  bool
}

// CTFConverter implements spec §4.9's CTFConverter: addCall/addRet
// sinks that accumulate func_entry/func_exit events into one binary
// packet stream per core, plus a textual metadata descriptor (spec
// §6's "CTF output").
//
// The metadata emitted here is a minimal, hand-written TSDL-flavored
// descriptor naming the event layouts above -- enough for a reader to
// know the packet/event shapes, not a full CTF metadata generator
// (trace/stream/clock/environment blocks a real `babeltrace` consumer
// also expects are out of scope, matching spec §1's scoping of the CTF
// *consumer* side as an external collaborator; this converter only
// produces the stream).
type CTFConverter struct {
	base    string
	streams map[uint8]*coreStream
	bin     BinInfo
}

// NewCTFConverter creates a CTFConverter writing "<elfBase>_core<N>.ctf"
// per-core packet files and an "<elfBase>.ctf.metadata" descriptor at
// Close. bin is recorded once and emitted as every core's
// statedump/bin_info bracket.
func NewCTFConverter(elfBase string, bin BinInfo) *CTFConverter {
	return &CTFConverter{base: elfBase, streams: make(map[uint8]*coreStream), bin: bin}
}

func (c *CTFConverter) stream(core uint8) *coreStream {
	s, ok := c.streams[core]
	if !ok {
		s = &coreStream{core: core}
		c.streams[core] = s
		c.emitStatedump(s)
	}
	return s
}

func (c *CTFConverter) emitStatedump(s *coreStream) {
	s.append(ctfEvStatedumpStart, 0, nil)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, c.bin.BaseAddr)
	binary.Write(&buf, binary.LittleEndian, c.bin.MemSize)
	buf.WriteString(c.bin.Path)
	buf.WriteByte(0)
	buf.WriteByte(boolByte(c.bin.IsPIC))
	buf.WriteByte(boolByte(c.bin.HasBuildID))
	buf.WriteByte(boolByte(c.bin.HasDebugLink))
	s.append(ctfEvStatedumpBinInfo, 0, buf.Bytes())

	s.append(ctfEvStatedumpEnd, 0, nil)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// AddCall implements spec §4.9's addCall: a func_entry event carrying
// the call target and its call site.
func (c *CTFConverter) AddCall(core uint8, src, dst nexus.Address, ts nexus.Timestamp) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint64(dst))
	binary.Write(&buf, binary.LittleEndian, uint64(src))
	c.stream(core).append(ctfEvFuncEntry, uint64(ts), buf.Bytes())
}

// AddRet implements spec §4.9's addRet: a func_exit event carrying the
// return target and the call site it's returning from.
func (c *CTFConverter) AddRet(core uint8, src, dst nexus.Address, ts nexus.Timestamp) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint64(dst))
	binary.Write(&buf, binary.LittleEndian, uint64(src))
	c.stream(core).append(ctfEvFuncExit, uint64(ts), buf.Bytes())
}

// Close packages each core's accumulated events into one packet, per
// spec §6's packet header/context layout, and writes the metadata
// descriptor.
func (c *CTFConverter) Close() error {
	for core, s := range c.streams {
		if err := c.writePacket(core, s); err != nil {
			return err
		}
	}
	return c.writeMetadata()
}

func (c *CTFConverter) writePacket(core uint8, s *coreStream) error {
	f, err := os.Create(fmt.Sprintf("%s_core%d.ctf", c.base, core))
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, ctfMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(core)) // stream_id

	contentBits := uint64(s.events.Len()) * 8
	binary.Write(&buf, binary.LittleEndian, s.tsBegin)
	binary.Write(&buf, binary.LittleEndian, s.tsEnd)
	binary.Write(&buf, binary.LittleEndian, contentBits)
	binary.Write(&buf, binary.LittleEndian, contentBits) // packet_size_bits: no padding, header already counted by the reader's fixed layout
	binary.Write(&buf, binary.LittleEndian, uint64(0))   // seq_num
	binary.Write(&buf, binary.LittleEndian, uint64(0))   // events_discarded
	binary.Write(&buf, binary.LittleEndian, uint32(core)) // cpu_id

	buf.Write(s.events.Bytes())

	_, err = f.Write(buf.Bytes())
	return err
}

func (c *CTFConverter) writeMetadata() error {
	f, err := os.Create(c.base + ".ctf.metadata")
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "/* generated metadata for %s, %d core stream(s) */\n", c.base, len(c.streams))
	fmt.Fprintf(f, "event { name = lttng_ust_cyg_profile:func_entry; fields { uint64_t addr; uint64_t call_site; }; };\n")
	fmt.Fprintf(f, "event { name = lttng_ust_cyg_profile:func_exit; fields { uint64_t addr; uint64_t call_site; }; };\n")
	fmt.Fprintf(f, "event { name = lttng_ust_statedump:start; fields { }; };\n")
	fmt.Fprintf(f, "event { name = lttng_ust_statedump:bin_info; fields { uint64_t baddr; uint64_t memsz; string path; uint8_t is_pic; uint8_t has_build_id; uint8_t has_debug_link; }; };\n")
	fmt.Fprintf(f, "event { name = lttng_ust_statedump:end; fields { }; };\n")
	return nil
}
