// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package itc implements the instrumentation trace channel: routing of
// AuxAccessWrite/DataAcquisition messages into per-core ASCII print
// buffers (spec §4.6, grounded on ITCPrint in the original decoder) and
// the perf-counter sub-protocol carried on a separate ITC channel
// (ITCPerfFSM, spec §4.7).
package itc

import (
	"github.com/ganboing/sifive-trace-decoder/nexus"
	"github.com/ganboing/sifive-trace-decoder/nexus/walker"
)

// Line is one completed (or force-flushed) print buffer for a core.
type Line struct {
	Text       string
	Start, End nexus.Timestamp
	HasStart   bool
	HasEnd     bool
	Terminated bool // false for a line ended by Flush rather than a newline byte
}

type coreBuf struct {
	buf        []byte
	start      nexus.Timestamp
	haveStart  bool
	lastStamp  nexus.Timestamp
	haveStamp  bool
	lines      []Line
}

// NLSFormat names a printf-style format string selected by the first
// byte of an NLS-encoded print message, for targets that send a format
// code plus a binary argument rather than raw ASCII (spec §4.6's
// NLSFormats open item). The zero value (empty Format) means: treat
// the message as ordinary ASCII bytes, which is the common case.
type NLSFormat struct {
	Code   byte
	Format string
}

// Router is the per-core instrumentation print-buffer router (ITCPrint).
type Router struct {
	channel  uint32
	haveChan bool // false: accept all channels (no itcPrintChannel configured)
	bufSize  int
	nls      map[byte]string
	cores    [walker.MaxCores]coreBuf
}

// NewRouter constructs a Router. channel selects which ITC channel
// carries print data; if hasChannel is false, every AuxAccessWrite /
// DataAcquisition message is treated as print data regardless of
// channel (spec §6's default itcPrintChannel: "all"). bufSize bounds
// each core's pending-line buffer before a line is force-terminated.
func NewRouter(channel uint32, hasChannel bool, bufSize int, nls []NLSFormat) *Router {
	if bufSize <= 0 {
		bufSize = 256
	}
	r := &Router{channel: channel, haveChan: hasChannel, bufSize: bufSize}
	if len(nls) > 0 {
		r.nls = make(map[byte]string, len(nls))
		for _, f := range nls {
			r.nls[f.Code] = f.Format
		}
	}
	return r
}

// Feed offers msg to the router. It reports whether msg was consumed
// as print data (AuxAccessWrite/DataAcquisition on the configured
// channel); callers should route unconsumed messages elsewhere (e.g.
// to the perf FSM).
func (r *Router) Feed(msg *nexus.TraceMessage) bool {
	if msg.Tcode != nexus.TCodeAuxAccessWrite && msg.Tcode != nexus.TCodeDataAcquisition {
		return false
	}
	if r.haveChan && msg.ITCChannel != r.channel {
		return false
	}
	c := &r.cores[msg.Core]
	if !c.haveStart {
		if msg.HasTimestamp {
			c.start = msg.Timestamp
		}
		c.haveStart = true
	}
	if msg.HasTimestamp {
		c.lastStamp = msg.Timestamp
		c.haveStamp = true
	}

	for i := 0; i < msg.ITCWidth; i++ {
		b := byte(msg.ITCData >> uint(8*i))
		if b == 0 {
			continue // padding byte in a short write, not a character
		}
		if b == '\n' {
			r.terminate(c, true)
			continue
		}
		c.buf = append(c.buf, b)
		if len(c.buf) >= r.bufSize {
			r.terminate(c, false)
		}
	}
	return true
}

func (r *Router) terminate(c *coreBuf, newline bool) {
	if len(c.buf) == 0 && !c.haveStart {
		return
	}
	c.lines = append(c.lines, Line{
		Text:       decodeNLS(r.nls, c.buf),
		Start:      c.start,
		HasStart:   c.haveStart,
		End:        c.lastStamp,
		HasEnd:     c.haveStamp,
		Terminated: newline,
	})
	c.buf = c.buf[:0]
	c.haveStart = false
}

// decodeNLS drops the buffer's first byte when it is a registered NLS
// format code and returns the rest as text; the format string itself
// is not applied. Otherwise the buffer is returned as plain ASCII text.
func decodeNLS(nls map[byte]string, buf []byte) string {
	if len(nls) == 0 || len(buf) == 0 {
		return string(buf)
	}
	if _, ok := nls[buf[0]]; ok {
		// A full printf-style binary-argument decode needs the target's
		// argument layout, which spec §4.6 leaves unspecified beyond
		// the format-code byte; report the raw remainder rather than
		// guessing a layout.
		return string(buf[1:])
	}
	return string(buf)
}

// NextLine pops the oldest completed line for core, if any.
func (r *Router) NextLine(core uint8) (Line, bool) {
	c := &r.cores[core]
	if len(c.lines) == 0 {
		return Line{}, false
	}
	line := c.lines[0]
	c.lines = c.lines[1:]
	return line, true
}

// Flush force-terminates any partial, un-newline-terminated buffer for
// core and returns it as a Line.
func (r *Router) Flush(core uint8) (Line, bool) {
	c := &r.cores[core]
	if len(c.buf) == 0 {
		return Line{}, false
	}
	r.terminate(c, false)
	return r.NextLine(core)
}

// Mask returns a bitmask (bit i set for core i) of cores with at least
// one completed line ready to read.
func (r *Router) Mask() uint32 {
	var mask uint32
	for i := range r.cores {
		if len(r.cores[i].lines) > 0 {
			mask |= 1 << uint(i)
		}
	}
	return mask
}
