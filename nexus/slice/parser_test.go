// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slice

import (
	"bytes"
	"io"
	"testing"

	"github.com/ganboing/sifive-trace-decoder/nexus"
)

// encodeField splits value into 6-bit little-endian MDO slices and
// tags the last slice with endTag. Fields always emit at least one
// byte, even for value==0, so that the boundary is unambiguous.
func encodeField(value uint64, endTag byte) []byte {
	var out []byte
	for {
		chunk := byte(value & 0x3f)
		value >>= 6
		if value == 0 {
			out = append(out, chunk<<2|endTag)
			return out
		}
		out = append(out, chunk<<2|tagContinue)
	}
}

// buildMessage assembles a sequence of fields into one trace message,
// marking every field end-of-field except the last, which is tagged
// end-of-message.
func buildMessage(fields ...uint64) []byte {
	var out []byte
	for i, v := range fields {
		tag := byte(tagEndOfField)
		if i == len(fields)-1 {
			tag = tagEndOfMessage
		}
		out = append(out, encodeField(v, tag)...)
	}
	return out
}

func newParser(t *testing.T, data []byte, srcBits int) *Parser {
	t.Helper()
	p, err := New(bytes.NewReader(data), int64(len(data)), srcBits)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParserSync(t *testing.T) {
	// tcode=Sync(8), reason=TraceEnable(1), f_addr=0x10000
	data := buildMessage(uint64(nexus.TCodeSync), uint64(nexus.SyncTraceEnable), 0x10000)
	p := newParser(t, data, 0)

	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Tcode != nexus.TCodeSync {
		t.Fatalf("tcode = %v, want Sync", msg.Tcode)
	}
	if msg.SyncReason != nexus.SyncTraceEnable {
		t.Fatalf("reason = %v, want TraceEnable", msg.SyncReason)
	}
	if !msg.HasFAddr || msg.FAddr != 0x10000 {
		t.Fatalf("f_addr = %#x, hasFAddr=%v, want 0x10000", msg.FAddr, msg.HasFAddr)
	}

	if _, err := p.Next(); err != io.EOF {
		t.Fatalf("second Next err = %v, want EOF", err)
	}
}

func TestParserDirectBranch(t *testing.T) {
	// S1 second message: DirectBranch{i_cnt=1}
	data := buildMessage(uint64(nexus.TCodeDirectBranch), 1)
	p := newParser(t, data, 0)

	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Tcode != nexus.TCodeDirectBranch {
		t.Fatalf("tcode = %v, want DirectBranch", msg.Tcode)
	}
	if !msg.HasICnt || msg.ICnt != 1 {
		t.Fatalf("i_cnt = %d, hasICnt=%v, want 1", msg.ICnt, msg.HasICnt)
	}
}

func TestParserIndirectBranchWSXORDelta(t *testing.T) {
	// S3: IndirectBranchWS{f_addr=0x30100, i_cnt=1}; b_type defaults to Indirect(0)
	data := buildMessage(
		uint64(nexus.TCodeIndirectBranchWS),
		uint64(nexus.SyncExitReset),
		0x30100,
		uint64(nexus.BTypeIndirect),
		1,
	)
	p := newParser(t, data, 0)

	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !msg.HasFAddr || msg.FAddr != 0x30100 {
		t.Fatalf("f_addr = %#x, want 0x30100", msg.FAddr)
	}
	if !msg.HasICnt || msg.ICnt != 1 {
		t.Fatalf("i_cnt = %d, want 1", msg.ICnt)
	}
}

func TestParserSrcBitsStripsCoreID(t *testing.T) {
	// Build by hand: tcode field end-of-field, core field end-of-field, icnt end-of-message.
	var raw []byte
	raw = append(raw, encodeField(uint64(nexus.TCodeDirectBranch), tagEndOfField)...)
	raw = append(raw, encodeField(5, tagEndOfField)...) // core id = 5
	raw = append(raw, encodeField(3, tagEndOfMessage)...)

	p := newParser(t, raw, 3) // srcbits=3 covers core ids 0-7
	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Core != 5 {
		t.Fatalf("core = %d, want 5", msg.Core)
	}
	if !msg.HasICnt || msg.ICnt != 3 {
		t.Fatalf("i_cnt = %d, want 3", msg.ICnt)
	}
}

func TestParserResyncOnReservedTag(t *testing.T) {
	var raw []byte
	// A garbage byte carrying the reserved tag, followed by a filler
	// byte that ends a (bogus, discarded) message.
	raw = append(raw, 0xAA|tagReserved)
	raw = append(raw, 0x00|tagEndOfMessage)
	// Then a well-formed Sync message.
	raw = append(raw, buildMessage(uint64(nexus.TCodeSync), uint64(nexus.SyncExitDebug), 0x50000)...)

	p := newParser(t, raw, 0)
	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next after resync: %v", err)
	}
	if msg.Tcode != nexus.TCodeSync || msg.FAddr != 0x50000 {
		t.Fatalf("got %+v, want resynced Sync at 0x50000", msg)
	}
}

func TestParserTimestampTrailer(t *testing.T) {
	data := buildMessage(uint64(nexus.TCodeDirectBranch), 1, 0x1234)
	p := newParser(t, data, 0)
	msg, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !msg.HasTimestamp || msg.TimestampRaw != 0x1234 {
		t.Fatalf("timestamp = %#x, hasTimestamp=%v, want 0x1234", msg.TimestampRaw, msg.HasTimestamp)
	}
	if msg.TSFull {
		t.Fatalf("DirectBranch timestamp should be relative (XOR), not full")
	}
}
