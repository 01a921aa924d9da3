// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fsm

import (
	"io"
	"testing"

	"github.com/ganboing/sifive-trace-decoder/nexus"
	"github.com/ganboing/sifive-trace-decoder/nexus/walker"
)

// fakeSource replays a fixed list of messages, like a pre-decoded
// slice.Parser feed.
type fakeSource struct {
	msgs []nexus.TraceMessage
	pos  int
}

func (s *fakeSource) Next() (nexus.TraceMessage, error) {
	if s.pos >= len(s.msgs) {
		return nexus.TraceMessage{}, io.EOF
	}
	m := s.msgs[s.pos]
	s.pos++
	return m, nil
}

// fakeFetcher serves opcodes from a flat map of address->opcode, all
// 4-byte RV64 instructions.
type fakeFetcher struct {
	code map[nexus.Address]uint32
}

func (f *fakeFetcher) FetchOpcode(pc nexus.Address) (uint32, int, error) {
	op, ok := f.code[pc]
	if !ok {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return op, 64, nil
}

func TestFSMStraightLineUnderICount(t *testing.T) {
	// Sync at 0x1000 (ExitDebug) retires one instruction for free (no
	// count active yet), then a DirectBranch carrying icnt=2 covers the
	// two that follow. Three plain ADDI-shaped (non-branch) opcodes
	// should retire before the FSM needs another message.
	addi := uint32(0x00000013) // addi x0,x0,0 -- opcode 0x13, not branch-classified
	src := &fakeSource{msgs: []nexus.TraceMessage{
		{Tcode: nexus.TCodeSync, Core: 0, FAddr: 0x1000, HasFAddr: true, SyncReason: nexus.SyncExitDebug},
		{Tcode: nexus.TCodeDirectBranch, Core: 0, ICnt: 2, HasICnt: true},
	}}
	fetch := &fakeFetcher{code: map[nexus.Address]uint32{
		0x1000: addi, 0x1004: addi, 0x1008: addi,
	}}
	w := walker.New(walker.NewBank(0), nexus.TraceTypeBTM)
	f := New(src, fetch, w)

	var pcs []nexus.Address
	for i := 0; i < 3; i++ {
		inst, err := f.Next()
		if err != nil {
			t.Fatalf("Next() #%d: %v", i, err)
		}
		pcs = append(pcs, inst.PC)
	}
	want := []nexus.Address{0x1000, 0x1004, 0x1008}
	for i, pc := range want {
		if pcs[i] != pc {
			t.Fatalf("pcs = %v, want %v", pcs, want)
		}
	}

	if _, err := f.Next(); err != io.EOF {
		t.Fatalf("Next() after exhausting icount+messages = %v, want io.EOF", err)
	}
}

func TestFSMTimestampReplacesLowBitsAndWraps(t *testing.T) {
	addi := uint32(0x00000013)
	const tsSize = 4 // small width so a wrap is easy to construct
	src := &fakeSource{msgs: []nexus.TraceMessage{
		{Tcode: nexus.TCodeSync, Core: 0, FAddr: 0x1000, HasFAddr: true, SyncReason: nexus.SyncExitDebug,
			HasTimestamp: true, TSFull: true, TimestampRaw: 0x3},
		{Tcode: nexus.TCodeDirectBranch, Core: 0, ICnt: 1, HasICnt: true,
			HasTimestamp: true, TSFull: true, TimestampRaw: 0x1},
	}}
	fetch := &fakeFetcher{code: map[nexus.Address]uint32{0x1000: addi, 0x1004: addi}}
	w := walker.New(walker.NewBank(0), nexus.TraceTypeBTM)
	f := NewWithTSSize(src, fetch, w, tsSize)

	inst, err := f.Next()
	if err != nil {
		t.Fatalf("Next() #1: %v", err)
	}
	if inst.Timestamp != 0x3 {
		t.Fatalf("ts #1 = %d, want 3", inst.Timestamp)
	}

	inst, err = f.Next()
	if err != nil {
		t.Fatalf("Next() #2: %v", err)
	}
	// low 4 bits replaced with 0x1 (< previous low bits 0x3) => wrapped
	// to the next 1<<tsSize block: 0x10 + 0x1 = 0x11.
	if inst.Timestamp != 0x11 {
		t.Fatalf("ts #2 = %#x, want 0x11 (wrapped)", inst.Timestamp)
	}
}

func TestFSMJALRResolvedByIndirectMessage(t *testing.T) {
	// jalr x1, x10, 0 at 0x2000: rd=1(link), rs1=10(not link) -> call,
	// unknown next PC until an IndirectBranchWS message supplies it.
	jalr := uint32((0 << 20) | (10 << 15) | (0 << 12) | (1 << 7) | 0x67)
	src := &fakeSource{msgs: []nexus.TraceMessage{
		{Tcode: nexus.TCodeSync, Core: 0, FAddr: 0x2000, HasFAddr: true, SyncReason: nexus.SyncExitDebug},
		{Tcode: nexus.TCodeDirectBranch, Core: 0, ICnt: 1, HasICnt: true},
		{Tcode: nexus.TCodeIndirectBranchWS, Core: 0, FAddr: 0x9000, HasFAddr: true,
			SyncReason: nexus.SyncExitDebug, BType: nexus.BTypeIndirect, HasBType: true,
			ICnt: 1, HasICnt: true},
	}}
	fetch := &fakeFetcher{code: map[nexus.Address]uint32{0x2000: jalr}}
	w := walker.New(walker.NewBank(0), nexus.TraceTypeBTM)
	f := New(src, fetch, w)

	inst, err := f.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if inst.PC != 0x2000 || inst.CRFlag != nexus.CRFlagCall {
		t.Fatalf("inst = %+v, want call at 0x2000", inst)
	}

	depth := w.Bank().StackDepth(0)
	if depth != 1 {
		t.Fatalf("return stack depth = %d, want 1", depth)
	}
}
