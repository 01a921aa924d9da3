// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package walker implements the CounterBank and AddressWalker state
// machine (spec §4.3/§4.4): given an opcode classification from
// nexus/riscv and the current per-core counters, it computes the next
// program counter and the call/return/branch flags to attach to the
// retiring instruction.
package walker

import (
	"github.com/ganboing/sifive-trace-decoder/nexus"
	"github.com/ganboing/sifive-trace-decoder/nexus/riscv"
)

// Result is the outcome of stepping one instruction.
type Result struct {
	NextPC      nexus.Address
	HasNextPC   bool // false: walker needs another trace message before this instruction can retire
	CRFlag      nexus.CRFlag
	BRFlag      nexus.BRFlag
}

// Walker is the AddressWalker: a pure function of (pc, decoded
// instruction, counter state) to (next pc, flags), plus the trace-type
// (BTM/HTM) inference described in spec §4.4 and the §9 open question.
type Walker struct {
	bank      *Bank
	configure nexus.TraceType
	resolved  [MaxCores]nexus.TraceType // per-core mode once Auto has decided
}

// New constructs a Walker backed by bank, using traceType to select
// (or auto-infer, if TraceTypeAuto) between BTM and HTM branch
// resolution.
func New(bank *Bank, traceType nexus.TraceType) *Walker {
	w := &Walker{bank: bank, configure: traceType}
	for i := range w.resolved {
		w.resolved[i] = traceType
	}
	return w
}

// Bank returns the underlying CounterBank, so callers (TraceFSM) can
// feed it new messages and query/reset per-core state.
func (w *Walker) Bank() *Bank { return w.bank }

// ModeFor reports the currently-resolved trace type for core: the
// configured type if pinned, or the inferred one if TraceTypeAuto.
func (w *Walker) ModeFor(core uint8) nexus.TraceType {
	return w.resolved[core]
}

// promote permanently switches core to HTM. Once a history-carrying
// message is observed there is no reverting to BTM for the rest of the
// run (spec §4.4's testable property 6).
func (w *Walker) promote(core uint8) {
	if w.configure == nexus.TraceTypeAuto {
		w.resolved[core] = nexus.TraceTypeHTM
	}
}

// ObserveMessage lets the Walker watch the message stream for the
// signals that promote BTM to HTM (spec §4.4): a history-carrying
// message, or a Correlation with cdf=1.
func (w *Walker) ObserveMessage(msg *nexus.TraceMessage) {
	if msg.HasHistory {
		w.promote(msg.Core)
		return
	}
	if msg.Tcode == nexus.TCodeCorrelation && msg.CDF {
		w.promote(msg.Core)
	}
}

// Step computes the result of retiring the instruction decoded as d at
// pc on core, given the tcode of the trace message currently being
// drained (needed for the BTM direct-branch heuristic).
//
// Counters (icount and, in HTM, one history/taken/not-taken unit) are
// only consumed along the resolvable path: per spec §4.4, an
// unknown-next branch consumes nothing. The instruction is not stepped
// again: TraceFSM retires it once a later message supplies the
// address, and no counter is consumed for it.
func (w *Walker) Step(core uint8, pc nexus.Address, d riscv.Decoded, curMsgTcode nexus.TCode) Result {
	size := nexus.Address(d.Size)

	if !d.IsBranch {
		w.consumeStep(core, false)
		return Result{NextPC: pc + size, HasNextPC: true, BRFlag: nexus.BRFlagNone}
	}

	switch d.Type {
	case riscv.InstJAL, riscv.InstCJAL, riscv.InstCJ:
		w.consumeStep(core, false)
		next := addImm(pc, d.Immediate)
		cr := nexus.CRFlagNone
		if riscv.IsLinkReg(d.Rd) {
			w.bank.Push(core, pc+size)
			cr = nexus.CRFlagCall
		}
		return Result{NextPC: next, HasNextPC: true, CRFlag: cr}

	case riscv.InstJALR, riscv.InstCJALR, riscv.InstCJR:
		rdLink := riscv.IsLinkReg(d.Rd)
		rs1Link := riscv.IsLinkReg(d.Rs1)
		switch {
		case rdLink && rs1Link && d.Rd != d.Rs1:
			// swap: pop the predicted return, push a fresh one
			addr, ok := w.bank.Pop(core)
			w.bank.Push(core, pc+size)
			if !ok {
				// Stack underflow: not an error, next PC is unknown
				// until the next indirect-branch message resolves it --
				// same as the return case, not a fabricated 0.
				return Result{HasNextPC: false, CRFlag: nexus.CRFlagSwap}
			}
			w.consumeStep(core, false)
			return Result{NextPC: addr, HasNextPC: true, CRFlag: nexus.CRFlagSwap}
		case !rdLink && rs1Link:
			addr, ok := w.bank.Pop(core)
			if !ok {
				// Stack underflow: not an error, next PC is unknown.
				return Result{HasNextPC: false, CRFlag: nexus.CRFlagReturn}
			}
			w.consumeStep(core, false)
			return Result{NextPC: addr, HasNextPC: true, CRFlag: nexus.CRFlagReturn}
		case rdLink && !rs1Link:
			// Call through a register: next PC comes from the next
			// indirect-branch message. Push takes effect immediately;
			// counters are untouched until resolution (spec §4.4).
			w.bank.Push(core, pc+size)
			return Result{HasNextPC: false, CRFlag: nexus.CRFlagCall}
		default:
			return Result{HasNextPC: false, CRFlag: nexus.CRFlagNone}
		}

	case riscv.InstBranch, riscv.InstCBEQZ, riscv.InstCBNEZ:
		return w.stepConditional(core, pc, d, curMsgTcode)

	case riscv.InstEBreak, riscv.InstECall:
		return Result{HasNextPC: false, CRFlag: nexus.CRFlagException}

	case riscv.InstXRet:
		return Result{HasNextPC: false, CRFlag: nexus.CRFlagExceptionReturn}

	default:
		// Vector classes and anything else flagged IsBranch but not
		// otherwise classified: treated as non-control-flow for PC
		// purposes (none of the vector-aware classes alter control
		// flow; they are surfaced to the CA engine, not the walker).
		w.consumeStep(core, false)
		return Result{NextPC: pc + size, HasNextPC: true}
	}
}

// stepConditional resolves a conditional branch (Bxx/C.BEQZ/C.BNEZ)
// per the HTM/BTM rows of spec §4.4's table.
func (w *Walker) stepConditional(core uint8, pc nexus.Address, d riscv.Decoded, curMsgTcode nexus.TCode) Result {
	size := nexus.Address(d.Size)

	if w.resolved[core] == nexus.TraceTypeHTM || w.resolved[core] == nexus.TraceTypeAuto {
		if taken, ok := w.bank.ConsumeHistory(core); ok {
			w.consumeStep(core, true)
			if taken {
				return Result{NextPC: addImm(pc, d.Immediate), HasNextPC: true, BRFlag: nexus.BRFlagTaken}
			}
			return Result{NextPC: pc + size, HasNextPC: true, BRFlag: nexus.BRFlagNotTaken}
		}
		if w.resolved[core] == nexus.TraceTypeHTM {
			// History mode is pinned (or was inferred) but no bits
			// remain: unresolved until the next message arrives.
			return Result{HasNextPC: false, BRFlag: nexus.BRFlagUnknown}
		}
		// Auto mode hasn't seen a history message yet: fall through to
		// the BTM heuristic below.
	}

	// BTM: direction comes from whether i_cnt was just exhausted while
	// draining a DirectBranch-class message (Nexus BTM convention:
	// direct-branch messages are only emitted for taken branches).
	remaining := w.bank.ConsumeICount(core, 1)
	taken := remaining == 0 && (curMsgTcode == nexus.TCodeDirectBranch || curMsgTcode == nexus.TCodeDirectBranchWS)
	if taken {
		return Result{NextPC: addImm(pc, d.Immediate), HasNextPC: true, BRFlag: nexus.BRFlagTaken}
	}
	return Result{NextPC: pc + size, HasNextPC: true, BRFlag: nexus.BRFlagNotTaken}
}

// consumeStep consumes one unit of the count kind that Current reports
// for a retiring instruction: an icount, or a taken/not-taken unit
// unless history is true (the caller, stepConditional, has already
// consumed a history bit for this step). While history bits are
// current nothing is consumed here; those bits are consumed only by
// conditional branches.
func (w *Walker) consumeStep(core uint8, history bool) {
	switch w.bank.Current(core) {
	case nexus.CountICount:
		w.bank.ConsumeICount(core, 1)
	case nexus.CountTaken:
		if !history {
			w.bank.ConsumeTaken(core)
		}
	case nexus.CountNotTaken:
		if !history {
			w.bank.ConsumeNotTaken(core)
		}
	}
}

func addImm(pc nexus.Address, imm int32) nexus.Address {
	if imm < 0 {
		return pc - nexus.Address(-imm)
	}
	return pc + nexus.Address(imm)
}
