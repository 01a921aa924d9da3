// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package convert

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ganboing/sifive-trace-decoder/nexus"
	"github.com/ganboing/sifive-trace-decoder/nexus/itc"
)

func TestCTFConverterAddCallAddRet(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "prog")
	c := NewCTFConverter(base, BinInfo{BaseAddr: 0x1000, MemSize: 0x2000, Path: "/bin/prog"})

	c.AddCall(0, 0x100, 0x200, 10)
	c.AddRet(0, 0x204, 0x104, 20)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(base + "_core0.ctf")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) < 8 {
		t.Fatalf("packet too short: %d bytes", len(data))
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != ctfMagic {
		t.Fatalf("magic = %#x, want %#x", magic, ctfMagic)
	}
	streamID := binary.LittleEndian.Uint32(data[4:8])
	if streamID != 0 {
		t.Fatalf("stream_id = %d, want 0", streamID)
	}

	if _, err := os.Stat(base + ".ctf.metadata"); err != nil {
		t.Fatalf("metadata file missing: %v", err)
	}
}

func TestWriteEventHeaderCompactVsExtended(t *testing.T) {
	var buf bytes.Buffer
	writeEventHeader(&buf, ctfEvFuncEntry, 100)
	if buf.Len() != 4 {
		t.Fatalf("compact header length = %d, want 4", buf.Len())
	}
	word := binary.LittleEndian.Uint32(buf.Bytes())
	if word>>compactTSBits != uint32(ctfEvFuncEntry) {
		t.Fatalf("decoded id = %d, want %d", word>>compactTSBits, ctfEvFuncEntry)
	}
	if word&compactTSMax != 100 {
		t.Fatalf("decoded ts = %d, want 100", word&compactTSMax)
	}

	buf.Reset()
	writeEventHeader(&buf, ctfEvFuncEntry, compactTSMax+1)
	if buf.Len() != 14 {
		t.Fatalf("extended header length = %d, want 14", buf.Len())
	}
	sentinel := binary.LittleEndian.Uint16(buf.Bytes()[0:2])
	if sentinel != extSentinel {
		t.Fatalf("sentinel = %#x, want %#x", sentinel, extSentinel)
	}
}

func TestEventConverterEmit(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "prog")
	c, err := NewEventConverter(base, nil)
	if err != nil {
		t.Fatalf("NewEventConverter: %v", err)
	}
	if err := c.Emit(Event{Core: 1, Timestamp: 5, PC: 0x400, Kind: EventCallRet, Key: "Dst", Value: 0x404}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(base + ".callret")
	if err != nil {
		t.Fatalf("ReadFile .callret: %v", err)
	}
	if !bytes.Contains(data, []byte("[1] 5 [CallRet] PC=0x400 Dst=[1028]")) {
		t.Fatalf("unexpected .callret content: %q", data)
	}

	all, err := os.ReadFile(base + ".events")
	if err != nil {
		t.Fatalf("ReadFile .events: %v", err)
	}
	if len(all) == 0 {
		t.Fatal(".events file is empty")
	}
}

func TestPerfConverterDefAndValue(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "prog")
	c, err := NewPerfConverter(base, nil)
	if err != nil {
		t.Fatalf("NewPerfConverter: %v", err)
	}
	if err := c.Def(0, itc.CounterDef{Index: 2, Code: 1, Event: 0x55}); err != nil {
		t.Fatalf("Def: %v", err)
	}
	if err := c.Value(0, 10, 0x1000, itc.CounterValue{Index: 2, Value: 42}); err != nil {
		t.Fatalf("Value: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(base + ".perf.2")
	if err != nil {
		t.Fatalf("ReadFile .perf.2: %v", err)
	}
	if !bytes.Contains(data, []byte("[Perf Cntr Def]")) || !bytes.Contains(data, []byte("[Value=42]")) {
		t.Fatalf("unexpected .perf.2 content: %q", data)
	}

	agg, err := os.ReadFile(base + ".perf")
	if err != nil {
		t.Fatalf("ReadFile .perf: %v", err)
	}
	if len(agg) == 0 {
		t.Fatal(".perf aggregate is empty")
	}
}
