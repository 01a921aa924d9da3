// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slice implements the Nexus trace wire format: a byte stream
// whose low 2 bits (per byte) carry an MSEO end-of-field/end-of-message
// tag and whose high 6 bits carry a little-endian MDO payload slice.
// Parser.Next decodes one TraceMessage at a time, in the style of
// perffile.Records.Next -- a single reusable cursor the caller pulls
// forward, not a fully materialized slice of messages.
package slice

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ganboing/sifive-trace-decoder/nexus"
)

// mseo tag values. Two tag bits trail every byte; the high 6 bits are
// the MDO payload slice for the field in progress.
const (
	tagContinue     = 0b00
	tagEndOfField   = 0b01
	tagReserved     = 0b10
	tagEndOfMessage = 0b11
)

// ErrReserved marks a byte carrying the reserved (0b10) MSEO tag, a
// recoverable, stream-malformed condition (spec §7). In a message's
// first field, Next resyncs to the next end-of-message tag and goes on
// to the following message without returning an error; in any later
// field, Next resyncs the same way and returns ErrReserved.
var ErrReserved = errors.New("slice: reserved MSEO tag in trace stream")

// Parser reads variable-length Nexus trace messages from a seekable
// byte stream.
//
// Parser owns no per-core state; it is purely a wire-format decoder.
// Per-core semantics (absolute vs delta PCs, counters, FSM state) live
// in nexus/walker and nexus/fsm, which consume the TraceMessage values
// Next produces.
type Parser struct {
	r    io.ReaderAt
	size int64
	pos  int64

	srcBits int // 0-8; when non-zero, strip a srcBits-wide core-id field from the prefix

	// msgStart is the stream offset at which the message being decoded
	// began.
	msgStart int64
}

// Open opens the trace file at path for reading.
func Open(path string, srcBits int) (*Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return New(f, fi.Size(), srcBits)
}

// New constructs a Parser over r, which contains size bytes, stripping
// a srcBits-wide core-id field from every message's prefix if srcBits
// is non-zero (0-8; see spec §4.1's Srcbits configuration).
func New(r io.ReaderAt, size int64, srcBits int) (*Parser, error) {
	if srcBits < 0 || srcBits > 8 {
		return nil, fmt.Errorf("slice: srcbits %d out of range [0,8]", srcBits)
	}
	return &Parser{r: r, size: size, srcBits: srcBits}, nil
}

// GetFileOffset returns the total stream size and the parser's current
// read offset, for a streaming-UI progress indicator.
func (p *Parser) GetFileOffset() (size, offset int64) {
	return p.size, p.pos
}

// GetNumBytesInSWTQ returns the number of bytes currently buffered in
// the on-target serial-wire-trace socket queue. This Parser is
// file-backed, not socket-backed (the on-target SWT transport is out
// of scope per spec §1), so it always reports zero.
func (p *Parser) GetNumBytesInSWTQ() int {
	return 0
}

func (p *Parser) readByte() (byte, error) {
	if p.pos >= p.size {
		return 0, io.EOF
	}
	var b [1]byte
	n, err := p.r.ReadAt(b[:], p.pos)
	if n == 1 {
		p.pos++
		return b[0], nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return 0, err
}

// readField accumulates MDO slices (6 bits each, LSB-first) until a
// non-continue tag is seen. It returns the assembled value, the number
// of payload bits accumulated, whether the terminating tag was
// end-of-message, and any error.
func (p *Parser) readField() (value uint64, bits int, eom bool, err error) {
	for {
		b, err := p.readByte()
		if err != nil {
			return 0, 0, false, err
		}
		tag := b & 0x3
		payload := uint64(b >> 2)
		if bits >= 64 {
			return 0, 0, false, fmt.Errorf("slice: field wider than 64 bits")
		}
		value |= payload << uint(bits)
		bits += 6
		switch tag {
		case tagContinue:
			continue
		case tagEndOfField:
			return value, bits, false, nil
		case tagEndOfMessage:
			return value, bits, true, nil
		default: // tagReserved
			return value, bits, false, ErrReserved
		}
	}
}

// resync scans forward, discarding bytes, until it consumes one whose
// MSEO tag is end-of-message. This recovers from a misaligned stream
// (spec §4.1/§7): the first partial message after a tear is dropped and
// parsing resumes cleanly at the next message boundary.
func (p *Parser) resync() error {
	for {
		b, err := p.readByte()
		if err != nil {
			return err
		}
		if b&0x3 == tagEndOfMessage {
			return nil
		}
	}
}

// Next decodes the next TraceMessage from the stream.
//
// It returns io.EOF when the stream is exhausted at a message boundary
// (a clean end of trace). A truncated final message also surfaces as
// io.EOF per spec §4.1, since there is no way to distinguish "encoder
// stopped mid-message" from "reader started mid-stream" without more
// context than the wire format carries.
func (p *Parser) Next() (nexus.TraceMessage, error) {
	var msg nexus.TraceMessage

	p.msgStart = p.pos
	tcVal, _, eom, err := p.readField()
	if err != nil {
		if err == ErrReserved {
			if rerr := p.resync(); rerr != nil {
				return msg, rerr
			}
			return p.Next()
		}
		// A truncated final message (EOF mid-field) is reported the
		// same as a clean end of stream: there is no way to tell
		// "encoder stopped here" from "reader started here" from the
		// wire format alone.
		return msg, io.EOF
	}
	msg.Tcode = nexus.TCode(tcVal)

	if p.srcBits > 0 && !eom {
		coreVal, _, eom2, err := p.readField()
		if err != nil {
			return msg, err
		}
		msg.Core = uint8(coreVal)
		eom = eom2
	}

	if msg.Tcode.Unsupported() {
		if !eom {
			if err := p.resync(); err != nil {
				return msg, err
			}
		}
		return msg, nil
	}

	if err := p.parseBody(&msg, eom); err != nil {
		if err == ErrReserved {
			if rerr := p.resync(); rerr != nil {
				return msg, rerr
			}
		}
		return msg, err
	}
	return msg, nil
}

// parseBody dispatches on tcode to decode the tcode-specific fields,
// followed by the optional trailing timestamp field common to every
// message. eom is true if the prefix (tcode, optional core id) already
// consumed the message's only field -- malformed for every tcode this
// decoder implements, since they all carry at least one payload field.
func (p *Parser) parseBody(msg *nexus.TraceMessage, eom bool) error {
	switch msg.Tcode {
	case nexus.TCodeSync, nexus.TCodeDirectBranchWS:
		return p.parseSyncLike(msg, eom, msg.Tcode == nexus.TCodeSync)
	case nexus.TCodeIndirectBranchWS:
		return p.parseIndirectWS(msg, eom, false)
	case nexus.TCodeIndirectBranchHistoryWS:
		return p.parseIndirectWS(msg, eom, true)
	case nexus.TCodeDirectBranch:
		return p.parseICnt(msg, eom)
	case nexus.TCodeIndirectBranch:
		return p.parseIndirect(msg, eom, false)
	case nexus.TCodeIndirectBranchHistory:
		return p.parseIndirect(msg, eom, true)
	case nexus.TCodeResourceFull:
		return p.parseResourceFull(msg, eom)
	case nexus.TCodeCorrelation:
		return p.parseCorrelation(msg, eom)
	case nexus.TCodeOwnershipTrace:
		return p.parseOwnershipTrace(msg, eom)
	case nexus.TCodeAuxAccessWrite, nexus.TCodeDataAcquisition:
		return p.parseITC(msg, eom)
	case nexus.TCodeInCircuitTrace:
		return p.parseICT(msg, eom, false)
	case nexus.TCodeInCircuitTraceWS:
		return p.parseICT(msg, eom, true)
	case nexus.TCodeError:
		return nil // no payload beyond the prefix; may still carry a timestamp
	default:
		// Recognized tcode (DebugStatus, DeviceID, DataWrite[WS],
		// DataRead[WS], Watchpoint): accepted on the wire per spec §3's
		// "all messages" row but not meaningful to instruction
		// reconstruction, so no payload fields are decoded.
		if !eom {
			return p.skipToEOM()
		}
		return nil
	}
}

func (p *Parser) skipToEOM() error {
	for {
		_, _, eom, err := p.readField()
		if err != nil {
			return err
		}
		if eom {
			return nil
		}
	}
}

func (p *Parser) parseTimestamp(msg *nexus.TraceMessage, eom bool) error {
	if eom {
		return nil
	}
	val, _, eom2, err := p.readField()
	if err != nil {
		return err
	}
	msg.HasTimestamp = true
	msg.TimestampRaw = val
	msg.TSFull = msg.Tcode == nexus.TCodeSync || msg.Tcode == nexus.TCodeDirectBranchWS ||
		msg.Tcode == nexus.TCodeIndirectBranchWS || msg.Tcode == nexus.TCodeIndirectBranchHistoryWS
	if !eom2 {
		return p.skipToEOM()
	}
	return nil
}

func (p *Parser) parseSyncLike(msg *nexus.TraceMessage, eom, isSync bool) error {
	reasonVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.SyncReason = nexus.SyncReason(reasonVal)

	addrVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.FAddr = nexus.Address(addrVal)
	msg.HasFAddr = true

	if !isSync && !eom {
		icntVal, _, eom2, err := p.readField()
		if err != nil {
			return err
		}
		msg.ICnt = uint32(icntVal)
		msg.HasICnt = true
		eom = eom2
	}
	return p.parseTimestamp(msg, eom)
}

func (p *Parser) parseIndirectWS(msg *nexus.TraceMessage, eom, history bool) error {
	reasonVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.SyncReason = nexus.SyncReason(reasonVal)

	addrVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.FAddr = nexus.Address(addrVal)
	msg.HasFAddr = true

	btVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.BType = nexus.BType(btVal)
	msg.HasBType = true

	if !eom {
		icntVal, _, eom2, err := p.readField()
		if err != nil {
			return err
		}
		msg.ICnt = uint32(icntVal)
		msg.HasICnt = true
		eom = eom2
	}

	if history && !eom {
		histVal, bits, eom2, err := p.readField()
		if err != nil {
			return err
		}
		msg.History = histVal
		msg.HistoryWidth = bits
		msg.HasHistory = true
		eom = eom2
	}
	return p.parseTimestamp(msg, eom)
}

func (p *Parser) parseICnt(msg *nexus.TraceMessage, eom bool) error {
	icntVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.ICnt = uint32(icntVal)
	msg.HasICnt = true
	return p.parseTimestamp(msg, eom)
}

func (p *Parser) parseIndirect(msg *nexus.TraceMessage, eom, history bool) error {
	uaddrVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.UAddr = uaddrVal
	msg.HasUAddr = true

	btVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.BType = nexus.BType(btVal)
	msg.HasBType = true

	if history {
		histVal, bits, eom2, err := p.readField()
		if err != nil {
			return err
		}
		msg.History = histVal
		msg.HistoryWidth = bits
		msg.HasHistory = true
		eom = eom2
	}

	if !eom {
		icntVal, _, eom2, err := p.readField()
		if err != nil {
			return err
		}
		msg.ICnt = uint32(icntVal)
		msg.HasICnt = true
		eom = eom2
	}
	return p.parseTimestamp(msg, eom)
}

func (p *Parser) parseResourceFull(msg *nexus.TraceMessage, eom bool) error {
	subVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.RFSubtype = nexus.ResourceFullSubtype(subVal)

	val, bits, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.RFValue = val
	if msg.RFSubtype == nexus.RFHistory {
		msg.History = val
		msg.HistoryWidth = bits
		msg.HasHistory = true
	}
	return p.parseTimestamp(msg, eom)
}

func (p *Parser) parseCorrelation(msg *nexus.TraceMessage, eom bool) error {
	cdfVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.CDF = cdfVal != 0

	icntVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.ICnt = uint32(icntVal)
	msg.HasICnt = true
	return p.parseTimestamp(msg, eom)
}

func (p *Parser) parseOwnershipTrace(msg *nexus.TraceMessage, eom bool) error {
	val, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.Process = val
	return p.parseTimestamp(msg, eom)
}

// itcWidth maps the low 2 bits of an ITC channel address to a payload
// byte width, per spec §3: 0=32b, 2=16b, 3=8b. 1 is not assigned.
func itcWidth(low2 uint64) int {
	switch low2 {
	case 0:
		return 4
	case 2:
		return 2
	case 3:
		return 1
	default:
		return 4
	}
}

func (p *Parser) parseITC(msg *nexus.TraceMessage, eom bool) error {
	chanVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.ITCWidth = itcWidth(chanVal & 0x3)
	msg.ITCChannel = uint32(chanVal >> 2)

	dataVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.ITCData = dataVal
	return p.parseTimestamp(msg, eom)
}

func (p *Parser) parseICT(msg *nexus.TraceMessage, eom, ws bool) error {
	srcVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.CkSrc = nexus.CkSrc(srcVal)

	dfVal, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.CkDF = dfVal != 0

	data0, _, eom, err := p.readField()
	if err != nil {
		return err
	}
	msg.CkData0 = data0
	if ws {
		msg.FAddr = nexus.Address(data0)
		msg.HasFAddr = true
	} else {
		msg.UAddr = data0
		msg.HasUAddr = true
	}

	if !eom {
		data1, _, eom2, err := p.readField()
		if err != nil {
			return err
		}
		msg.CkData1 = data1
		msg.HasData1 = true
		eom = eom2
	}
	return p.parseTimestamp(msg, eom)
}
