// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package itc

import (
	"testing"

	"github.com/ganboing/sifive-trace-decoder/nexus"
)

func writeMsg(core uint8, channel uint32, width int, data uint64, ts nexus.Timestamp) *nexus.TraceMessage {
	return &nexus.TraceMessage{
		Tcode: nexus.TCodeAuxAccessWrite, Core: core,
		ITCChannel: channel, ITCWidth: width, ITCData: data,
		HasTimestamp: true, Timestamp: ts,
	}
}

func TestRouterAccumulatesLineOnNewline(t *testing.T) {
	r := NewRouter(1, true, 0, nil)
	if !r.Feed(writeMsg(0, 1, 1, uint64('H'), 1)) {
		t.Fatal("Feed() = false, want true for print channel")
	}
	r.Feed(writeMsg(0, 1, 1, uint64('i'), 2))
	r.Feed(writeMsg(0, 1, 1, uint64('\n'), 3))

	line, ok := r.NextLine(0)
	if !ok {
		t.Fatal("NextLine() = false, want a completed line")
	}
	if line.Text != "Hi" || !line.Terminated {
		t.Fatalf("line = %+v, want text=Hi terminated=true", line)
	}
	if line.Start != 1 || line.End != 3 {
		t.Fatalf("line timestamps = (%d,%d), want (1,3)", line.Start, line.End)
	}
}

func TestRouterIgnoresOtherChannel(t *testing.T) {
	r := NewRouter(1, true, 0, nil)
	if r.Feed(writeMsg(0, 2, 1, uint64('x'), 1)) {
		t.Fatal("Feed() = true for non-print channel, want false")
	}
}

func TestRouterFlushReturnsPartialLine(t *testing.T) {
	r := NewRouter(1, true, 0, nil)
	r.Feed(writeMsg(0, 1, 1, uint64('a'), 1))
	r.Feed(writeMsg(0, 1, 1, uint64('b'), 2))

	if _, ok := r.NextLine(0); ok {
		t.Fatal("NextLine() before flush, want nothing pending")
	}
	line, ok := r.Flush(0)
	if !ok || line.Text != "ab" || line.Terminated {
		t.Fatalf("Flush() = %+v,%v, want text=ab terminated=false", line, ok)
	}
}

func TestRouterIgnoresPaddingBytes(t *testing.T) {
	r := NewRouter(1, true, 0, nil)
	// A 32-bit write carrying 'O','K', then two zero padding bytes.
	data := uint64('O') | uint64('K')<<8
	r.Feed(writeMsg(0, 1, 4, data, 1))
	r.Feed(writeMsg(0, 1, 1, uint64('\n'), 2))
	line, ok := r.NextLine(0)
	if !ok || line.Text != "OK" {
		t.Fatalf("line = %+v,%v, want text=OK", line, ok)
	}
}

func TestRouterMask(t *testing.T) {
	r := NewRouter(1, true, 0, nil)
	r.Feed(writeMsg(2, 1, 1, uint64('\n'), 1))
	if r.Mask()&(1<<2) == 0 {
		t.Fatalf("mask = %b, want bit 2 set", r.Mask())
	}
}
