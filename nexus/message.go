// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nexus defines the message and enum types shared by the trace
// decoding pipeline: the tagged TraceMessage record produced by
// nexus/slice, consumed by nexus/walker and nexus/fsm, and the typed
// events handed to nexus/convert.
package nexus

// TCode discriminates the payload carried by a TraceMessage. It follows
// the IEEE-ISTO 5001 (Nexus) subset implemented by the SiFive trace
// encoder; tcodes not listed here are rejected by the parser as
// Unsupported rather than silently misparsed.
type TCode uint8

const (
	TCodeDebugStatus TCode = iota
	TCodeDeviceID
	TCodeOwnershipTrace
	TCodeDirectBranch
	TCodeIndirectBranch
	TCodeDataWrite
	TCodeDataRead
	TCodeError
	TCodeSync
	TCodeCorrelation
	TCodeDirectBranchWS
	TCodeIndirectBranchWS
	TCodeDataWriteWS
	TCodeDataReadWS
	TCodeWatchpoint
	TCodeAuxAccessWrite
	TCodeDataAcquisition
	TCodeResourceFull
	TCodeIndirectBranchHistory
	TCodeIndirectBranchHistoryWS
	TCodeInCircuitTrace
	TCodeInCircuitTraceWS
	tcodeMax
)

// Unsupported reports whether tc is outside the range this decoder
// implements. Messages with an unsupported tcode fail closed: the
// slice parser still scans past them (so resync keeps working) but
// returns them to the caller as an opaque, unparsed message.
func (tc TCode) Unsupported() bool {
	return tc >= tcodeMax
}

// SyncReason is the reason field carried by Sync and by the
// DirectBranchWS/IndirectBranchWS-class messages. Only ExitDebug and
// TraceEnable are allowed to start instruction retirement; see
// getFirstSync in nexus/fsm. ICT Control events carry no SyncReason
// and do not start instruction retirement.
type SyncReason uint8

const (
	SyncExitReset SyncReason = iota
	SyncTraceEnable
	SyncExitDebug
	SyncMsgCountOverflow
	SyncExitPowerdown
	SyncMessageContention
	SyncITCTriggerEnable
	SyncEvtiTrigger
	SyncPCSample
	SyncNumSyncReasons
)

// StartsTrace reports whether this sync reason is allowed to begin
// instruction retirement per spec §4.5.
func (r SyncReason) StartsTrace() bool {
	return r == SyncExitDebug || r == SyncTraceEnable
}

// BType qualifies the branch carried by an Indirect[WS]/IndirectHistory[WS]
// message.
type BType uint8

const (
	BTypeIndirect BType = iota
	BTypeExceptionOrInterrupt
	BTypeHardwareFlush
	BTypeExternalToCore
)

// CkSrc is the ICT event source carried by InCircuitTrace[WS] messages.
type CkSrc uint8

const (
	CkSrcExtTrig CkSrc = iota
	CkSrcWatchpoint
	CkSrcInferableCall
	CkSrcExceptionOrInterrupt
	CkSrcException
	CkSrcInterrupt
	CkSrcContext
	CkSrcPCSample
	CkSrcControl
)

// ResourceFullSubtype distinguishes the payload layered into a
// ResourceFull message per spec §3/§4.3.
type ResourceFullSubtype uint8

const (
	RFHistory ResourceFullSubtype = iota
	RFTakenCount
	RFNotTakenCount
	RFICount
)

// CRFlag marks a retired instruction as a call/return boundary or an
// exception-class event.
type CRFlag uint8

const (
	CRFlagNone CRFlag = iota
	CRFlagCall
	CRFlagReturn
	CRFlagSwap
	CRFlagException
	CRFlagExceptionReturn
	CRFlagInterrupt
)

// BRFlag marks the resolved direction of a retired branch instruction.
type BRFlag uint8

const (
	BRFlagNone BRFlag = iota
	BRFlagTaken
	BRFlagNotTaken
	BRFlagUnknown
)

// CountKind names which CounterBank field is currently active for a
// core. At most one is active at a time (spec §4.3).
type CountKind uint8

const (
	CountNone CountKind = iota
	CountICount
	CountHistory
	CountTaken
	CountNotTaken
)

// TraceType selects how AddressWalker resolves conditional branches:
// from per-branch history bits (HTM) or purely from taken-branch
// messages (BTM). Auto lets the walker infer the mode at runtime from
// the message stream, per the §9 open question.
type TraceType uint8

const (
	TraceTypeAuto TraceType = iota
	TraceTypeBTM
	TraceTypeHTM
)

// Timestamp is a Nexus trace timestamp: a counter that wraps at 1<<TSSize
// and is reconstructed from full or relative (XOR) encodings carried in
// trace messages. See TraceFSM's timestamp reconstruction (spec §4.5).
type Timestamp uint64

// Address is a target program counter value.
type Address uint64

// TraceMessage is the tagged union produced by nexus/slice. Only the
// fields relevant to Tcode are populated; the rest are zero. This
// mirrors perffile.Record's approach of one wide struct with a type
// discriminator instead of an interface hierarchy, because the set of
// message shapes is small, fixed by the wire format, and dispatched
// purely by tcode -- an interface per tcode would just be indirection
// without decoupling anything.
type TraceMessage struct {
	Tcode TCode
	Core  uint8

	// Sync / DirectBranchWS / IndirectBranchWS / InCircuitTrace[WS]
	FAddr      Address
	HasFAddr   bool
	SyncReason SyncReason

	// DirectBranch / IndirectBranch[History][WS] / Correlation
	ICnt    uint32
	HasICnt bool

	// IndirectBranch[History][WS]
	UAddr    uint64 // XOR-delta against lastFaddr, already shifted right 1
	HasUAddr bool
	BType    BType
	HasBType bool

	// IndirectBranchHistory[WS]
	History      uint64
	HistoryWidth int
	HasHistory   bool

	// ResourceFull
	RFSubtype ResourceFullSubtype
	RFValue   uint64

	// Correlation
	CDF bool // 1 => history mode continuation

	// OwnershipTrace
	Process uint64

	// AuxAccessWrite / DataAcquisition
	ITCChannel uint32
	ITCWidth   int // 1, 2 or 4 bytes
	ITCData    uint64

	// InCircuitTrace[WS]
	CkSrc   CkSrc
	CkDF    bool
	CkData0 uint64
	CkData1 uint64
	HasData1 bool

	// Common trailing field
	HasTimestamp bool
	TimestampRaw uint64
	TSFull       bool // full (sync-type) vs relative (XOR) encoding
	Timestamp    Timestamp
}
