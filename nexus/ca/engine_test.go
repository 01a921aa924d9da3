// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ca

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/ganboing/sifive-trace-decoder/nexus"
)

// buildBlock encodes one 32-word (128-byte) CA block. payload carries the
// low-30-bit word contents (word 0's high 2 bits are always discarded);
// addr is reconstructed by the caller's Engine as the XOR of the high 2
// bits of words[1:32], so addr supplies those bits directly,
// already split 2 bits per word.
func buildBlock(payload [32]uint32, addr uint64) []byte {
	var raw [32]uint32
	raw[0] = payload[0] & 0x3fffffff
	for i := 1; i < 32; i++ {
		corr := uint32((addr >> uint(2*(i-1))) & 0x3)
		raw[i] = (payload[i] & 0x3fffffff) | (corr << 30)
	}
	buf := make([]byte, 128)
	for i, w := range raw {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func TestEngineInstructionModeForcedFirstBit(t *testing.T) {
	var payload [32]uint32
	src := bytes.NewReader(buildBlock(payload, 0))
	eng, err := NewEngine(src, ModeInstruction, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	pipe, cycle, err := eng.ConsumeInstructionPipe()
	if err != nil {
		t.Fatalf("ConsumeInstructionPipe: %v", err)
	}
	if pipe != Pipe0 || cycle != 0 {
		t.Fatalf("got pipe=%v cycle=%d, want Pipe0 cycle=0 (forced first bit)", pipe, cycle)
	}
}

func TestEngineInstructionModeSecondBit(t *testing.T) {
	var payload [32]uint32
	payload[0] = 1 << 20
	src := bytes.NewReader(buildBlock(payload, 0))
	eng, err := NewEngine(src, ModeInstruction, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, _, err := eng.ConsumeInstructionPipe(); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	pipe, cycle, err := eng.ConsumeInstructionPipe()
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if pipe != Pipe1 || cycle != 4 {
		t.Fatalf("got pipe=%v cycle=%d, want Pipe1 cycle=4", pipe, cycle)
	}
}

func TestEngineInstructionModeEOFAtStreamEnd(t *testing.T) {
	var payload [32]uint32
	src := bytes.NewReader(buildBlock(payload, 0))
	eng, err := NewEngine(src, ModeInstruction, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, _, err := eng.ConsumeInstructionPipe(); err != nil {
		t.Fatalf("forced bit consume: %v", err)
	}
	if _, _, err := eng.ConsumeInstructionPipe(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF once the block is exhausted with no more blocks", err)
	}
}

func TestEngineAddressReconstruction(t *testing.T) {
	var payload [32]uint32
	src := bytes.NewReader(buildBlock(payload, 0x1234))
	eng, err := NewEngine(src, ModeInstruction, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if eng.PC() != 0x1234 {
		t.Fatalf("PC() = %#x, want 0x1234", eng.PC())
	}
}

func TestEngineVectorModeForcedFirstBitIsV0(t *testing.T) {
	var payload [32]uint32
	src := bytes.NewReader(buildBlock(payload, 0))
	eng, err := NewEngine(src, ModeVector, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	pipe, cycle, err := eng.ConsumeCAPipe()
	if err != nil {
		t.Fatalf("ConsumeCAPipe: %v", err)
	}
	if pipe != Pipe0 || cycle != 0 {
		t.Fatalf("got pipe=%v cycle=%d, want Pipe0 cycle=0 (forced first bit is V0)", pipe, cycle)
	}
}

func TestEngineVectorModeConsumeVIStart(t *testing.T) {
	var payload [32]uint32
	// word index 1, field index 2 (cycle offset 2 within that word's
	// 5-cycle span): VIStart.
	payload[1] = uint32(FlagVIStart) << 12
	src := bytes.NewReader(buildBlock(payload, 0))
	eng, err := NewEngine(src, ModeVector, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	cycle, depth, err := eng.ConsumeCAVector(FlagVIStart)
	if err != nil {
		t.Fatalf("ConsumeCAVector: %v", err)
	}
	if cycle != 5+2 || depth.Queue != 1 {
		t.Fatalf("cycle=%d depth=%+v, want cycle=7 depth.Queue=1", cycle, depth)
	}
}

func TestEngineVectorModeWrongModeMethod(t *testing.T) {
	var payload [32]uint32
	src := bytes.NewReader(buildBlock(payload, 0))
	eng, err := NewEngine(src, ModeInstruction, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, _, err := eng.ConsumeCAPipe(); err != errWrongMode {
		t.Fatalf("err = %v, want errWrongMode", err)
	}
}

type fakeSyncFetcher struct {
	ops map[nexus.Address]uint32
}

func (f *fakeSyncFetcher) FetchOpcode(pc nexus.Address) (uint32, int, error) {
	op, ok := f.ops[pc]
	if !ok {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return op, 64, nil
}

func TestSynchronizerTryMatchSucceedsAfterSteps(t *testing.T) {
	var payload [32]uint32
	payload[0] = 0x3fffffff // plenty of consumable bits
	src := bytes.NewReader(buildBlock(payload, 0x1000))
	eng, err := NewEngine(src, ModeInstruction, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	const addi = 0x00000013 // ADDI x0,x0,0: non-branch, size 4
	fetch := &fakeSyncFetcher{ops: map[nexus.Address]uint32{
		0x1000: addi,
		0x1004: addi,
		0x1008: addi,
	}}
	s := NewSynchronizer(eng, fetch)
	ok, err := s.TryMatch(0x100c)
	if err != nil {
		t.Fatalf("TryMatch: %v", err)
	}
	if !ok {
		t.Fatal("TryMatch() = false, want true after 3 straight-line steps")
	}
}

func TestSynchronizerTryMatchFailsWithinBudget(t *testing.T) {
	var payload [32]uint32
	payload[0] = 0x3fffffff
	src := bytes.NewReader(buildBlock(payload, 0x1000))
	eng, err := NewEngine(src, ModeInstruction, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	const addi = 0x00000013
	ops := make(map[nexus.Address]uint32)
	for i := 0; i < maxSyncSteps+1; i++ {
		ops[nexus.Address(0x1000+4*i)] = addi
	}
	fetch := &fakeSyncFetcher{ops: ops}
	s := NewSynchronizer(eng, fetch)
	ok, err := s.TryMatch(0x9999)
	if err != nil {
		t.Fatalf("TryMatch: %v", err)
	}
	if ok {
		t.Fatal("TryMatch() = true, want false: 0x9999 is never reached by straight-line stepping")
	}
}

func TestSynchronizerTryMatchImmediateAtStart(t *testing.T) {
	var payload [32]uint32
	src := bytes.NewReader(buildBlock(payload, 0x2000))
	eng, err := NewEngine(src, ModeInstruction, 0)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	s := NewSynchronizer(eng, &fakeSyncFetcher{})
	ok, err := s.TryMatch(0x2000)
	if err != nil {
		t.Fatalf("TryMatch: %v", err)
	}
	if !ok {
		t.Fatal("TryMatch() = false, want true when block-zero PC already matches")
	}
}
