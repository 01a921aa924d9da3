// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ca implements the cycle-accurate trace engine (spec §4.8): a
// separate 32-word-block byte stream carrying per-pipe instruction
// finish cycles (instruction mode) or vector-unit queue events (vector
// mode), plus the alignment procedure that brings it into sync with
// the instruction stream TraceFSM produces.
package ca

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/ganboing/sifive-trace-decoder/nexus"
	"github.com/ganboing/sifive-trace-decoder/nexus/riscv"
)

const (
	blockWords      = 32
	wordPayloadBits = 30
	cyclesPerWord   = wordPayloadBits / 2 // instruction mode: 2 bits/cycle
	vectorCyclesPerBlock = blockWords * 5 // vector mode: 5 cycles/word
)

// Mode selects how a block's 30-bit payload words are interpreted.
type Mode uint8

const (
	ModeInstruction Mode = iota
	ModeVector
)

// Pipe names which execution pipe an instruction-mode record reports a
// finish event for.
type Pipe uint8

const (
	Pipe0 Pipe = iota
	Pipe1
)

// VectorFlag is one bit of a vector-mode 6-bit record (spec §4.8).
type VectorFlag uint8

const (
	FlagV0      VectorFlag = 0x20
	FlagV1      VectorFlag = 0x10
	FlagVIStart VectorFlag = 0x08
	FlagVIArith VectorFlag = 0x04
	FlagVIStore VectorFlag = 0x02
	FlagVILoad  VectorFlag = 0x01
)

// DepthCounters tallies how many VIStart/VIArith/VIStore/VILoad records
// have been consumed, standing in for the vector unit's outstanding
// queue/arith/load/store depth.
type DepthCounters struct {
	Queue, Arith, Load, Store uint32
}

type vectorEntry struct {
	flags VectorFlag
	cycle uint64
}

// Engine decodes one cycle-accurate trace stream in a single mode.
// Blocks are read lazily, one at a time, as Consume* calls exhaust the
// current block.
type Engine struct {
	src  io.ReadSeeker
	mode Mode

	words    [blockWords]uint32 // 30-bit payload per word
	blockNum uint64
	first    bool
	pc       nexus.Address

	cursor int // instruction mode: bit offset 0..959; vector mode: word index 0..31

	queue    []vectorEntry
	queueCap int
	depth    DepthCounters
}

// NewEngine constructs an Engine reading blocks from src in the given
// mode, and reads the first block so PC() reports the stream's
// starting address. queueCap bounds the vector-mode event queue (spec
// §9's fixed-capacity-array allowance); 0 selects the default of 512,
// matching the reference decoder's traceQSize.
func NewEngine(src io.ReadSeeker, mode Mode, queueCap int) (*Engine, error) {
	if queueCap <= 0 {
		queueCap = 512
	}
	e := &Engine{src: src, mode: mode, queueCap: queueCap, first: true}
	if err := e.readBlock(); err != nil {
		return nil, err
	}
	return e, nil
}

// PC returns the address of the most recently read block, reconstructed
// by XORing each block's correction bits against the running value
// (spec §6's CA input stream description).
func (e *Engine) PC() nexus.Address { return e.pc }

// Mode reports the engine's decode mode.
func (e *Engine) Mode() Mode { return e.mode }

// readBlock reads the next 32-word (128-byte) block and updates pc,
// blockNum and the payload words, and resets cursor; the vector queue
// is left as it is. The first block read after
// construction or Rewind sets the low pipe0-finish bit that marks the
// start of the whole trace (ported from the reference decoder's
// special-cased first record).
func (e *Engine) readBlock() error {
	var raw [blockWords]uint32
	var buf [4]byte
	for i := 0; i < blockWords; i++ {
		if _, err := io.ReadFull(e.src, buf[:]); err != nil {
			if err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			return err
		}
		raw[i] = binary.LittleEndian.Uint32(buf[:])
	}

	var correction uint64
	e.words[0] = raw[0] & 0x3fffffff
	for i := 1; i < blockWords; i++ {
		correction |= uint64(raw[i]>>30) << uint(2*(i-1))
		e.words[i] = raw[i] & 0x3fffffff
	}

	if e.first {
		e.words[0] |= 1 << 29
		e.blockNum = 0
		e.first = false
	} else {
		e.blockNum++
	}
	e.pc ^= nexus.Address(correction)
	e.cursor = 0
	return nil
}

// Rewind seeks the underlying stream back to its start and re-reads the
// first block, as the CA/instruction synchronization procedure needs to
// retry a fast-forward attempt from scratch (spec §4.8).
func (e *Engine) Rewind() error {
	if _, err := e.src.Seek(0, io.SeekStart); err != nil {
		return err
	}
	e.first = true
	e.blockNum = 0
	e.pc = 0
	e.queue = e.queue[:0]
	e.depth = DepthCounters{}
	return e.readBlock()
}

var errWrongMode = errors.New("ca: method called on an Engine in the wrong mode")

// ConsumeInstructionPipe returns the next pipe-finish event from an
// instruction-mode stream: which pipe retired an instruction and the
// cycle (relative to the start of the whole trace) it finished in. It
// transparently reads further blocks as the current one's bits are
// exhausted.
func (e *Engine) ConsumeInstructionPipe() (pipe Pipe, cycle uint64, err error) {
	if e.mode != ModeInstruction {
		return 0, 0, errWrongMode
	}
	for {
		for e.cursor < blockWords*wordPayloadBits {
			dataIndex := e.cursor / wordPayloadBits
			bitIndex := (wordPayloadBits - 1) - (e.cursor % wordPayloadBits)
			if e.words[dataIndex]&(1<<uint(bitIndex)) != 0 {
				cycle = e.blockNum*cyclesPerWord*blockWords + uint64(e.cursor/2)
				if bitIndex&1 != 0 {
					pipe = Pipe0
				} else {
					pipe = Pipe1
				}
				e.cursor++
				return pipe, cycle, nil
			}
			e.cursor++
		}
		if err := e.readBlock(); err != nil {
			return 0, 0, err
		}
	}
}

// nextVectorRecord returns the next nonzero 30-bit vector word in the
// current block (zero words carry no events and are skipped), reading
// further blocks as needed.
func (e *Engine) nextVectorRecord() (record uint32, cycle uint64, err error) {
	for {
		for e.cursor < blockWords {
			idx := e.cursor
			if e.words[idx] != 0 {
				record = e.words[idx]
				cycle = e.blockNum*vectorCyclesPerBlock + uint64(idx*5)
				e.cursor++
				return record, cycle, nil
			}
			e.cursor++
		}
		if err := e.readBlock(); err != nil {
			return 0, 0, err
		}
	}
}

// splitVectorRecord breaks a 30-bit word into its five 6-bit records,
// one per cycle (spec §4.8).
func splitVectorRecord(record uint32) [5]VectorFlag {
	var fields [5]VectorFlag
	for i := 0; i < 5; i++ {
		fields[i] = VectorFlag((record >> uint(6*(4-i))) & 0x3f)
	}
	return fields
}

// fillQueue reads one more vector record and pushes its nonzero 6-bit
// fields onto the event queue, dropping the oldest entry if the queue
// is already at capacity.
func (e *Engine) fillQueue() error {
	record, cycle, err := e.nextVectorRecord()
	if err != nil {
		return err
	}
	for i, f := range splitVectorRecord(record) {
		if f == 0 {
			continue
		}
		if len(e.queue) >= e.queueCap {
			e.queue = e.queue[1:]
		}
		e.queue = append(e.queue, vectorEntry{flags: f, cycle: cycle + uint64(i)})
	}
	return nil
}

// compact drops queue entries whose flags have all been consumed.
func (e *Engine) compact() {
	out := e.queue[:0]
	for _, ent := range e.queue {
		if ent.flags != 0 {
			out = append(out, ent)
		}
	}
	e.queue = out
}

// ConsumeCAPipe returns the next V0/V1 pipe-finish event recorded in
// vector mode, reading and queuing further records as needed.
func (e *Engine) ConsumeCAPipe() (pipe Pipe, cycle uint64, err error) {
	if e.mode != ModeVector {
		return 0, 0, errWrongMode
	}
	for {
		for i := range e.queue {
			ent := &e.queue[i]
			if ent.flags&FlagV0 != 0 {
				ent.flags &^= FlagV0
				cycle = ent.cycle
				e.compact()
				return Pipe0, cycle, nil
			}
			if ent.flags&FlagV1 != 0 {
				ent.flags &^= FlagV1
				cycle = ent.cycle
				e.compact()
				return Pipe1, cycle, nil
			}
		}
		if err := e.fillQueue(); err != nil {
			return 0, 0, err
		}
	}
}

// ConsumeCAVector returns the next queued record carrying flag
// (VIStart/VIArith/VIStore/VILoad), along with the running depth
// tally for its kind, reading and queuing further records as needed.
func (e *Engine) ConsumeCAVector(flag VectorFlag) (cycle uint64, depth DepthCounters, err error) {
	if e.mode != ModeVector {
		return 0, DepthCounters{}, errWrongMode
	}
	switch flag {
	case FlagVIStart:
		e.depth.Queue++
	case FlagVIArith:
		e.depth.Arith++
	case FlagVIStore:
		e.depth.Store++
	case FlagVILoad:
		e.depth.Load++
	default:
		return 0, DepthCounters{}, errors.New("ca: invalid vector flag")
	}
	for {
		for i := range e.queue {
			ent := &e.queue[i]
			if ent.flags&flag != 0 {
				ent.flags &^= flag
				cycle = ent.cycle
				e.compact()
				return cycle, e.depth, nil
			}
		}
		if err := e.fillQueue(); err != nil {
			return 0, DepthCounters{}, err
		}
	}
}

// OpcodeFetcher supplies the raw opcode at an address, matching
// nexus/fsm.InstructionFetcher's shape so a single internal/elfsym
// implementation satisfies both.
type OpcodeFetcher interface {
	FetchOpcode(pc nexus.Address) (opcode uint32, archSize int, err error)
}

// maxSyncSteps bounds the fast-forward phase of synchronization (spec
// §4.8: "walking up to 30 instructions").
const maxSyncSteps = 30

// ErrCADesync describes a CA stream that could not be brought into
// alignment with the instruction stream. No function in this package
// returns it: Synchronizer.TryMatch reports a failed alignment as
// (false, nil).
var ErrCADesync = errors.New("ca: could not synchronize cycle-accurate trace with instruction trace")

// Synchronizer performs the fast-forward alignment phase of CA/
// instruction synchronization (spec §4.8). It walks the CA engine's own
// straight-line guess of the instructions starting at the block-zero
// PC -- using a one-slot inferred return-address stack in place of a
// real branch resolution -- consuming one CA pipe-finish event per
// guessed instruction, until the guessed PC matches a target the
// caller supplies or the step budget runs out.
//
// Conditional branches are guessed not-taken (straight-line fallthrough)
// since no trace information is available during fast-forward; this
// matches the common case for loop back-edges/early-exit checks seen
// near function entry, where synchronization is attempted.
type Synchronizer struct {
	eng   *Engine
	fetch OpcodeFetcher
}

// NewSynchronizer constructs a Synchronizer driving eng, fetching
// opcodes for its straight-line guess from fetch.
func NewSynchronizer(eng *Engine, fetch OpcodeFetcher) *Synchronizer {
	return &Synchronizer{eng: eng, fetch: fetch}
}

// TryMatch rewinds the CA stream, then attempts to fast-forward its
// inferred instruction pointer until it reaches target or the
// maxSyncSteps budget is exhausted. It reports whether alignment was
// found; a false result with a nil error means the caller should retry
// with a later target PC (spec §4.8's 16-instruction syncing-mode
// retry), rewinding again via the next TryMatch call.
func (s *Synchronizer) TryMatch(target nexus.Address) (bool, error) {
	if err := s.eng.Rewind(); err != nil {
		return false, err
	}
	addr := s.eng.PC()
	if addr == target {
		return true, nil
	}

	var retAddr nexus.Address
	haveRet := false
	for i := 0; i < maxSyncSteps; i++ {
		opcode, archSize, err := s.fetch.FetchOpcode(addr)
		if err != nil {
			return false, err
		}
		d := riscv.Decode(opcode, archSize)
		next, ok := guessStraightLine(addr, d, &retAddr, &haveRet)
		if !ok {
			return false, nil
		}

		if err := s.consumeOne(); err != nil {
			return false, err
		}
		addr = next
		if addr == target {
			return true, nil
		}
	}
	return false, nil
}

// consumeOne advances the engine by exactly one inferred-instruction's
// worth of CA records, independent of mode.
func (s *Synchronizer) consumeOne() error {
	if s.eng.mode == ModeInstruction {
		_, _, err := s.eng.ConsumeInstructionPipe()
		return err
	}
	_, _, err := s.eng.ConsumeCAPipe()
	return err
}

// guessStraightLine computes the statically-predicted next PC for one
// instruction, maintaining a one-slot return-address stack: a call
// overwrites the single remembered return address, and a return pops
// it if present. Indirect calls and exhausted returns can't be guessed
// and report ok=false.
func guessStraightLine(pc nexus.Address, d riscv.Decoded, retAddr *nexus.Address, haveRet *bool) (nexus.Address, bool) {
	size := nexus.Address(d.Size)
	if !d.IsBranch {
		return pc + size, true
	}

	switch d.Type {
	case riscv.InstJAL, riscv.InstCJAL, riscv.InstCJ:
		if riscv.IsLinkReg(d.Rd) {
			*retAddr = pc + size
			*haveRet = true
		}
		return addImm(pc, d.Immediate), true

	case riscv.InstJALR, riscv.InstCJALR, riscv.InstCJR:
		rdLink := riscv.IsLinkReg(d.Rd)
		rs1Link := riscv.IsLinkReg(d.Rs1)
		if !rdLink && rs1Link {
			if !*haveRet {
				return 0, false
			}
			addr := *retAddr
			*haveRet = false
			return addr, true
		}
		if rdLink {
			*retAddr = pc + size
			*haveRet = true
		}
		return 0, false

	case riscv.InstBranch, riscv.InstCBEQZ, riscv.InstCBNEZ:
		return pc + size, true

	case riscv.InstEBreak, riscv.InstECall, riscv.InstXRet:
		return 0, false

	default:
		return pc + size, true
	}
}

func addImm(pc nexus.Address, imm int32) nexus.Address {
	if imm < 0 {
		return pc - nexus.Address(-imm)
	}
	return pc + nexus.Address(imm)
}
