// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fsm implements TraceFSM (spec §4.5): the per-core state
// machine that turns the message stream from nexus/slice and the
// per-instruction resolution from nexus/walker into a flat stream of
// retired instructions.
package fsm

import (
	"io"

	"github.com/ganboing/sifive-trace-decoder/nexus"
	"github.com/ganboing/sifive-trace-decoder/nexus/riscv"
	"github.com/ganboing/sifive-trace-decoder/nexus/walker"
)

// MessageSource is the pull interface nexus/slice.Parser satisfies.
type MessageSource interface {
	Next() (nexus.TraceMessage, error)
}

// InstructionFetcher supplies the raw opcode bits at a program counter,
// along with the target's register width (32 or 64), so FSM can hand
// them to nexus/riscv.Decode. Implemented by internal/elfsym against a
// loaded executable.
type InstructionFetcher interface {
	FetchOpcode(pc nexus.Address) (opcode uint32, archSize int, err error)
}

// Instruction is one retired instruction reconstructed from the trace.
type Instruction struct {
	Core         uint8
	PC           nexus.Address
	Size         int
	CRFlag       nexus.CRFlag
	BRFlag       nexus.BRFlag
	Timestamp    nexus.Timestamp
	HasTimestamp bool
}

// state names the stage of TraceFSM's per-core pipeline. Done and
// Error are not separate per-core states: the stream-level terminal
// condition is tracked once on FSM itself (done/err), since an error
// or end of stream on one core's messages ends the whole decode.
type state uint8

const (
	stateGetFirstSync state = iota
	stateGetMsgWithCount
	stateGetNextInstruction
	stateGetNextMsg
)

type coreState struct {
	state         state
	pc            nexus.Address
	lastFaddr     nexus.Address
	haveFaddr     bool
	lastTimestamp nexus.Timestamp
	haveTimestamp bool
	curMsgTcode   nexus.TCode

	// A retiring instruction whose next PC the walker could not
	// resolve (spec §4.4's unknown-next path): the instruction itself
	// -- PC, size, call/return/branch flags -- is already fixed, only
	// its successor address is outstanding. GetNextMsg fills that in
	// from the next message's address field and the pending
	// instruction is then emitted as-is.
	hasPending  bool
	pendingPC   nexus.Address
	pendingSize int
	pendingCR   nexus.CRFlag
	pendingBR   nexus.BRFlag
}

// FSM drives one trace stream, producing retired instructions for
// however many cores appear in it (spec §5: up to walker.MaxCores).
type FSM struct {
	src    MessageSource
	fetch  InstructionFetcher
	walker *walker.Walker
	tsSize uint

	cores  [walker.MaxCores]coreState
	active uint8 // core currently being walked

	done bool
	err  error
}

// DefaultTSSize is the timestamp field width (in bits) used when the
// caller has no configured value (spec §6's "TSSize", default 40).
const DefaultTSSize = 40

// New constructs an FSM reading messages from src, fetching opcodes
// from fetch, and resolving branches with w. Timestamps are
// reconstructed assuming a DefaultTSSize-bit wire field; use NewWithTSSize
// to override it (internal/config.Settings.TSSize).
func New(src MessageSource, fetch InstructionFetcher, w *walker.Walker) *FSM {
	return NewWithTSSize(src, fetch, w, DefaultTSSize)
}

// NewWithTSSize is New with an explicit timestamp field width, in bits
// (spec §6's "TSSize"), used to reconstruct the running per-core
// timestamp from the narrower wire field (spec §4.5).
func NewWithTSSize(src MessageSource, fetch InstructionFetcher, w *walker.Walker, tsSize uint) *FSM {
	f := &FSM{src: src, fetch: fetch, walker: w, tsSize: tsSize}
	for i := range f.cores {
		f.cores[i].state = stateGetFirstSync
	}
	return f
}

// Err returns the error that stopped the stream, if Next returned
// io.EOF because of a prior unrecoverable failure rather than a clean
// end of trace.
func (f *FSM) Err() error {
	if f.err == io.EOF {
		return nil
	}
	return f.err
}

// Next returns the next retired instruction in stream order. It
// returns io.EOF once the underlying message source is exhausted.
func (f *FSM) Next() (Instruction, error) {
	if f.done {
		return Instruction{}, io.EOF
	}
	for {
		cs := &f.cores[f.active]
		switch cs.state {
		case stateGetFirstSync:
			if err := f.getFirstSync(); err != nil {
				return f.fail(err)
			}

		case stateGetMsgWithCount:
			if err := f.getMsgWithCount(); err != nil {
				return f.fail(err)
			}

		case stateGetNextInstruction:
			inst, retired, err := f.getNextInstruction(cs)
			if err != nil {
				return f.fail(err)
			}
			if retired {
				return inst, nil
			}
			// Walker could not resolve: fall through to read another
			// message for this core, unless an executable lookup miss
			// has just reset the core to GetFirstSync.
			if cs.state == stateGetNextInstruction {
				cs.state = stateGetNextMsg
			}

		case stateGetNextMsg:
			inst, retired, err := f.getNextMsg()
			if err != nil {
				return f.fail(err)
			}
			if retired {
				return inst, nil
			}
		}
	}
}

func (f *FSM) fail(err error) (Instruction, error) {
	f.done = true
	f.err = err
	if err == io.EOF {
		return Instruction{}, io.EOF
	}
	return Instruction{}, err
}

func (f *FSM) readMsg() (nexus.TraceMessage, error) {
	return f.src.Next()
}

// getFirstSync discards messages until one carries a sync reason
// allowed to start instruction retirement (spec §4.5); only Sync and
// DirectBranchWS/IndirectBranchWS-class messages carry a SyncReason.
func (f *FSM) getFirstSync() error {
	for {
		msg, err := f.readMsg()
		if err != nil {
			return err
		}
		if msg.Tcode == nexus.TCodeError {
			f.resetCore(msg.Core)
			continue
		}
		if !msg.HasFAddr || !msg.SyncReason.StartsTrace() {
			continue
		}
		core := &f.cores[msg.Core]
		core.pc = msg.FAddr
		core.lastFaddr = msg.FAddr
		core.haveFaddr = true
		f.applyTimestamp(core, &msg)
		f.walker.ObserveMessage(&msg)
		f.walker.Bank().SetCounts(&msg)
		core.curMsgTcode = msg.Tcode
		f.active = msg.Core
		core.state = stateGetNextInstruction
		return nil
	}
}

// getMsgWithCount reads messages for the active core until one sets a
// nonzero count, so GetNextInstruction has something to consume.
func (f *FSM) getMsgWithCount() error {
	for {
		msg, err := f.readMsg()
		if err != nil {
			return err
		}
		if msg.Tcode == nexus.TCodeError {
			f.resetCore(msg.Core)
			continue
		}
		f.walker.ObserveMessage(&msg)
		f.walker.Bank().SetCounts(&msg)
		core := &f.cores[msg.Core]
		core.curMsgTcode = msg.Tcode
		f.applyTimestamp(core, &msg)
		if f.walker.Bank().Current(msg.Core) != nexus.CountNone {
			f.active = msg.Core
			core.state = stateGetNextInstruction
			return nil
		}
	}
}

// getNextInstruction fetches, decodes and walks one instruction for
// the active core. retired is false if the walker could not resolve a
// next PC and needs another message (spec §4.4's unknown-next path).
func (f *FSM) getNextInstruction(cs *coreState) (inst Instruction, retired bool, err error) {
	opcode, archSize, ferr := f.fetch.FetchOpcode(cs.pc)
	if ferr == nexus.ErrAddressNotMapped {
		// Executable lookup miss (spec §7): not fatal, resync at the
		// next qualifying sync message rather than aborting the whole
		// decode.
		f.resetCore(f.active)
		return Instruction{}, false, nil
	}
	if ferr != nil {
		return Instruction{}, false, ferr
	}
	d := riscv.Decode(opcode, archSize)
	res := f.walker.Step(f.active, cs.pc, d, cs.curMsgTcode)
	if !res.HasNextPC {
		cs.hasPending = true
		cs.pendingPC = cs.pc
		cs.pendingSize = d.Size
		cs.pendingCR = res.CRFlag
		cs.pendingBR = res.BRFlag
		return Instruction{}, false, nil
	}
	inst = Instruction{
		Core:         f.active,
		PC:           cs.pc,
		Size:         d.Size,
		CRFlag:       res.CRFlag,
		BRFlag:       res.BRFlag,
		Timestamp:    cs.lastTimestamp,
		HasTimestamp: cs.haveTimestamp,
	}
	cs.pc = res.NextPC
	if f.walker.Bank().Current(f.active) == nexus.CountNone {
		cs.state = stateGetMsgWithCount
	}
	return inst, true, nil
}

// getNextMsg reads one more message to resolve a pending indirect
// branch, return, or branch-direction lookup, per spec §4.5's
// RetireMessage/GetNextMsg states: the message's own address field
// (absolute for WS-class tcodes, XOR-delta otherwise) becomes the
// resolved next PC, and the instruction that was waiting on it -- its
// own PC and flags already fixed -- is retired now.
func (f *FSM) getNextMsg() (inst Instruction, retired bool, err error) {
	msg, rerr := f.readMsg()
	if rerr != nil {
		return Instruction{}, false, rerr
	}
	if msg.Tcode == nexus.TCodeError {
		f.resetCore(msg.Core)
		return Instruction{}, false, nil
	}
	core := &f.cores[msg.Core]
	f.walker.ObserveMessage(&msg)
	f.walker.Bank().SetCounts(&msg)
	f.applyTimestamp(core, &msg)
	core.curMsgTcode = msg.Tcode

	addr, ok := resolveAddr(core.lastFaddr, &msg)
	if !ok {
		// Message carried no address (e.g. a plain ResourceFull topping
		// up icount): stay in GetNextMsg and keep reading.
		return Instruction{}, false, nil
	}
	core.lastFaddr = addr
	core.haveFaddr = true
	f.active = msg.Core

	if core.hasPending {
		inst = Instruction{
			Core:         msg.Core,
			PC:           core.pendingPC,
			Size:         core.pendingSize,
			CRFlag:       core.pendingCR,
			BRFlag:       core.pendingBR,
			Timestamp:    core.lastTimestamp,
			HasTimestamp: core.haveTimestamp,
		}
		core.hasPending = false
		core.pc = addr
		core.state = stateGetNextInstruction
		return inst, true, nil
	}

	core.pc = addr
	core.state = stateGetNextInstruction
	return Instruction{}, false, nil
}

// resolveAddr reconstructs an absolute address from a message that
// carries one: WS-class tcodes (and ICT-WS) carry it directly in
// FAddr; non-WS indirect/ICT messages carry an XOR delta in UAddr,
// already shifted right one bit by the encoder (spec §3).
func resolveAddr(lastFaddr nexus.Address, msg *nexus.TraceMessage) (nexus.Address, bool) {
	if msg.HasFAddr {
		return msg.FAddr, true
	}
	if msg.HasUAddr {
		return lastFaddr ^ nexus.Address(msg.UAddr<<1), true
	}
	return 0, false
}

// applyTimestamp reconstructs the running timestamp for core's stream
// (spec §4.5, following Trace::processTS): the wire field only ever
// carries tsSize bits, so a full (sync-type) timestamp replaces just
// the low tsSize bits of the running value, keeping its high bits; a
// relative one XORs in the delta across the full width. Either way,
// if the result goes backwards the low-order field must have wrapped,
// so 1<<tsSize is added back in.
func (f *FSM) applyTimestamp(core *coreState, msg *nexus.TraceMessage) {
	if !msg.HasTimestamp {
		return
	}
	tsSize := f.tsSize
	if tsSize == 0 {
		tsSize = DefaultTSSize
	}
	mask := uint64(1)<<tsSize - 1
	last := uint64(core.lastTimestamp)

	var result uint64
	if msg.TSFull {
		result = (last &^ mask) | (msg.TimestampRaw & mask)
	} else {
		result = last ^ msg.TimestampRaw
	}
	if core.haveTimestamp && result < last {
		result += uint64(1) << tsSize
	}
	core.lastTimestamp = nexus.Timestamp(result)
	core.haveTimestamp = true
}

// resetCore clears a core's counters, return stack and FSM state on an
// Error tcode (spec §4.5/§7): the stream may have lost synchronization,
// so retirement stops until the next qualifying sync message.
func (f *FSM) resetCore(core uint8) {
	f.walker.Bank().Reset(core)
	cs := &f.cores[core]
	*cs = coreState{state: stateGetFirstSync}
}
