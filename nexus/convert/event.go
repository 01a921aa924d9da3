// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package convert

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/ganboing/sifive-trace-decoder/nexus"
)

// EventKind names one of the typed, non-instruction events TraceFSM
// and nexus/itc surface alongside retired instructions (spec §4.9):
// watchpoint hits, external triggers, call/return boundaries,
// exceptions, interrupts, context switches, periodic PC samples and
// ICT control events. Each kind is partitioned into its own output
// file (spec §6's "Event output").
type EventKind uint8

const (
	EventControl EventKind = iota
	EventInterrupt
	EventException
	EventCallRet
	EventExtTrigger
	EventWatchpoint
	EventPeriodic
	EventMContext
	EventSContext
)

// suffix is the filename suffix for this kind, matching spec §6's
// "<elfbase>.{control,interrupt,...}" naming.
func (k EventKind) suffix() string {
	switch k {
	case EventControl:
		return "control"
	case EventInterrupt:
		return "interrupt"
	case EventException:
		return "exception"
	case EventCallRet:
		return "callret"
	case EventExtTrigger:
		return "trigger"
	case EventWatchpoint:
		return "watchpoint"
	case EventPeriodic:
		return "periodic"
	case EventMContext:
		return "mcontext"
	case EventSContext:
		return "scontext"
	default:
		return "events"
	}
}

func (k EventKind) String() string {
	switch k {
	case EventControl:
		return "Control"
	case EventInterrupt:
		return "Interrupt"
	case EventException:
		return "Exception"
	case EventCallRet:
		return "CallRet"
	case EventExtTrigger:
		return "ExtTrigger"
	case EventWatchpoint:
		return "Watchpoint"
	case EventPeriodic:
		return "Periodic"
	case EventMContext:
		return "MContext"
	case EventSContext:
		return "SContext"
	default:
		return "Event"
	}
}

// Event is one typed, non-instruction record produced during decode.
// Key/Value carries the kind-specific payload (destination PC for a
// call/return, channel/data for a trigger, and so on); the zero value
// of Value is valid and simply prints as 0.
type Event struct {
	Core      uint8
	Timestamp nexus.Timestamp
	PC        nexus.Address
	Kind      EventKind
	Key       string
	Value     uint64
}

// EventConverter implements spec §4.9's EventConverter: one text line
// per event, partitioned by kind into "<elfbase>.<suffix>" files plus
// a combined "<elfbase>.events" stream carrying every kind in
// timestamp order of arrival.
type EventConverter struct {
	loc     SourceLocator
	base    string
	files   map[EventKind]*bufio.Writer
	closers []io.Closer
	all     *bufio.Writer
}

// NewEventConverter creates the per-kind output files
// "<elfBase>.<suffix>" plus "<elfBase>.events", demangling/resolving
// source lines for each event's PC through loc (nil is accepted; PCs
// then render with the suffix "ffl:::0").
func NewEventConverter(elfBase string, loc SourceLocator) (*EventConverter, error) {
	c := &EventConverter{loc: loc, base: elfBase, files: make(map[EventKind]*bufio.Writer)}
	kinds := []EventKind{
		EventControl, EventInterrupt, EventException, EventCallRet,
		EventExtTrigger, EventWatchpoint, EventPeriodic, EventMContext, EventSContext,
	}
	for _, k := range kinds {
		w, err := c.open(k.suffix())
		if err != nil {
			c.Close()
			return nil, err
		}
		c.files[k] = w
	}
	w, err := c.open("events")
	if err != nil {
		c.Close()
		return nil, err
	}
	c.all = w
	return c, nil
}

func (c *EventConverter) open(suffix string) (*bufio.Writer, error) {
	f, err := os.Create(fmt.Sprintf("%s.%s", c.base, suffix))
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, f)
	return bufio.NewWriter(f), nil
}

// Emit writes ev to its kind-specific file and to the combined stream,
// per spec §6's "[core] ts [EventKind] PC=0x... Key=[value] ffl:..."
// line format.
func (c *EventConverter) Emit(ev Event) error {
	line := fmt.Sprintf("[%d] %d [%s] PC=0x%x %s=[%d] %s\n",
		ev.Core, ev.Timestamp, ev.Kind, ev.PC, ev.Key, ev.Value, ffl(c.loc, ev.PC))
	if w, ok := c.files[ev.Kind]; ok {
		if _, err := w.WriteString(line); err != nil {
			return err
		}
	}
	_, err := c.all.WriteString(line)
	return err
}

// Close flushes and closes every output file.
func (c *EventConverter) Close() error {
	var first error
	for _, w := range c.files {
		if err := w.Flush(); err != nil && first == nil {
			first = err
		}
	}
	if c.all != nil {
		if err := c.all.Flush(); err != nil && first == nil {
			first = err
		}
	}
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
