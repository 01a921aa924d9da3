// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nxdecode decodes a Nexus/IEEE-ISTO 5001 trace file against
// its executable and prints the retired instruction stream, optionally
// also writing Event, CTF, and (when ITC perf is enabled) Perf output
// files. It is the thin CLI front end spec §1 scopes out of the
// decoder library proper, adapted from the teacher's cmd/dump.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ganboing/sifive-trace-decoder/internal/config"
	"github.com/ganboing/sifive-trace-decoder/internal/elfsym"
	"github.com/ganboing/sifive-trace-decoder/nexus"
	"github.com/ganboing/sifive-trace-decoder/nexus/ca"
	"github.com/ganboing/sifive-trace-decoder/nexus/convert"
	"github.com/ganboing/sifive-trace-decoder/nexus/fsm"
	"github.com/ganboing/sifive-trace-decoder/nexus/itc"
	"github.com/ganboing/sifive-trace-decoder/nexus/slice"
	"github.com/ganboing/sifive-trace-decoder/nexus/walker"
)

func main() {
	var (
		flagConfig = flag.String("config", "", "`path` to a .properties configuration file")
		flagRTD    = flag.String("rtd", "", "override: path of trace `file`")
		flagELF    = flag.String("elf", "", "override: path of executable `file`")
		flagOut    = flag.String("o", "", "output `prefix` for -events/-ctf (defaults to the elf path)")
		flagEvents = flag.Bool("events", false, "write Event output files")
		flagCTF    = flag.Bool("ctf", false, "write CTF output files")
	)
	flag.Parse()
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	settings := config.Settings{Bits: 40, TSSize: 40}
	if *flagConfig != "" {
		var err error
		settings, err = config.Load(*flagConfig)
		if err != nil {
			log.Fatal(err)
		}
	}
	if *flagRTD != "" {
		settings.TraceFile = *flagRTD
	}
	if *flagELF != "" {
		settings.ExecutableFile = *flagELF
	}
	if *flagEvents {
		settings.EventConversionEnable = true
	}
	if *flagCTF {
		settings.CTFEnable = true
	}
	if settings.TraceFile == "" || settings.ExecutableFile == "" {
		log.Fatal("nxdecode: both a trace file (-rtd) and an executable (-elf) are required")
	}

	exe, err := elfsym.Load(settings.ExecutableFile)
	if err != nil {
		log.Fatal(err)
	}

	parser, err := slice.Open(settings.TraceFile, settings.SrcBits)
	if err != nil {
		log.Fatal(err)
	}

	var router *itc.Router
	if settings.ITCPrintEnable {
		router = itc.NewRouter(uint32(settings.ITCPrintChannel), settings.ITCPrintChannel >= 0, settings.ITCPrintBufferSize, nil)
	}
	var perfFSM *itc.PerfFSM
	if settings.ITCPerfEnable {
		perfFSM = itc.NewPerfFSM(uint32(settings.ITCPerfChannel), uint32(settings.ITCPerfMarker))
	}
	src := &teeSource{p: parser, router: router, perf: perfFSM}

	bank := walker.NewBank(32)
	w := walker.New(bank, nexus.TraceTypeAuto)
	f := fsm.NewWithTSSize(src, exe, w, uint(settings.TSSize))

	outPrefix := *flagOut
	if outPrefix == "" {
		outPrefix = settings.ExecutableFile
	}

	var events *convert.EventConverter
	if settings.EventConversionEnable {
		events, err = convert.NewEventConverter(outPrefix, exe)
		if err != nil {
			log.Fatal(err)
		}
		defer events.Close()
	}
	var ctfConv *convert.CTFConverter
	if settings.CTFEnable {
		ctfConv = convert.NewCTFConverter(outPrefix, convert.BinInfo{Path: settings.ExecutableFile})
		defer ctfConv.Close()
	}
	var perfConv *convert.PerfConverter
	if perfFSM != nil {
		perfConv, err = convert.NewPerfConverter(outPrefix, exe)
		if err != nil {
			log.Fatal(err)
		}
		defer perfConv.Close()
	}

	var synced bool
	var sync *ca.Synchronizer
	if settings.CAFile != "" && settings.CAType != config.CATypeNone {
		mode := ca.ModeVector
		if settings.CAType == config.CATypeInstruction {
			mode = ca.ModeInstruction
		}
		caFile, err := os.Open(settings.CAFile)
		if err != nil {
			log.Fatal(err)
		}
		defer caFile.Close()
		eng, err := ca.NewEngine(caFile, mode, 0)
		if err != nil {
			log.Fatal(err)
		}
		sync = ca.NewSynchronizer(eng, exe)
	}

	for {
		inst, err := f.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}

		if sync != nil && !synced {
			ok, serr := sync.TryMatch(inst.PC)
			if serr != nil {
				log.Printf("nxdecode: CA sync error: %v", serr)
				sync = nil
			} else if ok {
				synced = true
			}
		}

		fmt.Printf("[%d] pc=0x%x size=%d cr=%v br=%v ts=%d\n",
			inst.Core, inst.PC, inst.Size, inst.CRFlag, inst.BRFlag, inst.Timestamp)

		if ctfConv != nil {
			if perfFSM != nil {
				// ITC perf instrumentation carries explicit
				// FuncEnter/FuncExit records (spec §4.7/§4.9); prefer
				// them over inferring calls from retired CRFlags.
				for _, r := range perfFSM.DrainFuncRecords(inst.Core) {
					callSite := nexus.Address(r.CallSite)
					if r.Enter {
						ctfConv.AddCall(r.Core, callSite, nexus.Address(r.PC), inst.Timestamp)
					} else {
						ctfConv.AddRet(r.Core, callSite, nexus.Address(r.PC), inst.Timestamp)
					}
				}
			} else {
				switch inst.CRFlag {
				case nexus.CRFlagCall:
					ctfConv.AddCall(inst.Core, inst.PC, inst.PC+nexus.Address(inst.Size), inst.Timestamp)
				case nexus.CRFlagReturn:
					ctfConv.AddRet(inst.Core, inst.PC, inst.PC+nexus.Address(inst.Size), inst.Timestamp)
				}
			}
		}
		if events != nil && inst.CRFlag != nexus.CRFlagNone {
			events.Emit(convert.Event{
				Core: inst.Core, Timestamp: inst.Timestamp, PC: inst.PC,
				Kind: eventKindFor(inst.CRFlag), Key: "Flag", Value: uint64(inst.CRFlag),
			})
		}
		if router != nil {
			for {
				line, ok := router.NextLine(inst.Core)
				if !ok {
					break
				}
				fmt.Printf("[%d] ITC: %s\n", inst.Core, line.Text)
			}
		}
		if perfConv != nil {
			for _, d := range perfFSM.DrainCounterDefs(inst.Core) {
				if err := perfConv.Def(inst.Core, d); err != nil {
					log.Fatal(err)
				}
			}
			for _, v := range perfFSM.DrainCounterValues(inst.Core) {
				if err := perfConv.Value(inst.Core, inst.Timestamp, inst.PC, v); err != nil {
					log.Fatal(err)
				}
			}
		}
	}
	if err := f.Err(); err != nil {
		log.Fatal(err)
	}
	if router != nil {
		for core := uint8(0); core < walker.MaxCores; core++ {
			if line, ok := router.Flush(core); ok {
				fmt.Printf("[%d] ITC: %s\n", core, line.Text)
			}
		}
	}
}

func eventKindFor(cr nexus.CRFlag) convert.EventKind {
	switch cr {
	case nexus.CRFlagCall, nexus.CRFlagReturn, nexus.CRFlagSwap:
		return convert.EventCallRet
	case nexus.CRFlagException, nexus.CRFlagExceptionReturn:
		return convert.EventException
	case nexus.CRFlagInterrupt:
		return convert.EventInterrupt
	default:
		return convert.EventControl
	}
}

// teeSource wraps a nexus/slice.Parser and, for every message it reads,
// also feeds it to the ITC print router and perf sub-FSM before
// handing it to TraceFSM -- the two sub-protocols and the main FSM all
// read the same underlying message stream (spec §4.6/§4.7), but only
// TraceFSM's consumption drives instruction retirement.
type teeSource struct {
	p      *slice.Parser
	router *itc.Router
	perf   *itc.PerfFSM
}

func (s *teeSource) Next() (nexus.TraceMessage, error) {
	msg, err := s.p.Next()
	if err != nil {
		return msg, err
	}
	if s.router != nil {
		s.router.Feed(&msg)
	}
	if s.perf != nil {
		s.perf.Feed(&msg)
	}
	return msg, nil
}
