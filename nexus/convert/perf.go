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
	"github.com/ganboing/sifive-trace-decoder/nexus/itc"
)

// PerfConverter implements spec §4.9's PerfConverter: one text stream
// per counter index, plus a "<elfbase>.perf" aggregate carrying
// everything in arrival order (spec §6's "Perf output").
type PerfConverter struct {
	loc     SourceLocator
	base    string
	byIndex map[int]*bufio.Writer
	closers []io.Closer
	agg     *bufio.Writer
}

// NewPerfConverter creates the aggregate "<elfBase>.perf" output file.
// Per-index files ("<elfBase>.perf.<index>") are created lazily on
// first use, since the set of counter indices is only known from the
// trace's CounterDef records.
func NewPerfConverter(elfBase string, loc SourceLocator) (*PerfConverter, error) {
	c := &PerfConverter{loc: loc, base: elfBase, byIndex: make(map[int]*bufio.Writer)}
	f, err := os.Create(elfBase + ".perf")
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, f)
	c.agg = bufio.NewWriter(f)
	return c, nil
}

func (c *PerfConverter) indexWriter(index int) (*bufio.Writer, error) {
	if w, ok := c.byIndex[index]; ok {
		return w, nil
	}
	f, err := os.Create(fmt.Sprintf("%s.perf.%d", c.base, index))
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, f)
	w := bufio.NewWriter(f)
	c.byIndex[index] = w
	return w, nil
}

// Def writes one "[Perf Cntr Def]" record (spec §6).
func (c *PerfConverter) Def(core uint8, d itc.CounterDef) error {
	line := fmt.Sprintf("[%d] [Perf Cntr Def] [Index=%d] code=%d event=0x%x\n",
		core, d.Index, d.Code, d.Event)
	w, err := c.indexWriter(d.Index)
	if err != nil {
		return err
	}
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	_, err = c.agg.WriteString(line)
	return err
}

// Value writes one "[Perf Cntr]" record carrying a reconstructed
// counter reading (spec §6), with the PC's source location appended.
func (c *PerfConverter) Value(core uint8, ts nexus.Timestamp, pc nexus.Address, v itc.CounterValue) error {
	line := fmt.Sprintf("[%d] %d PC=0x%x [Perf Cntr] [Index=%d] [Value=%d] %s\n",
		core, ts, pc, v.Index, v.Value, ffl(c.loc, pc))
	w, err := c.indexWriter(v.Index)
	if err != nil {
		return err
	}
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	_, err = c.agg.WriteString(line)
	return err
}

// Close flushes and closes every output file.
func (c *PerfConverter) Close() error {
	var first error
	for _, w := range c.byIndex {
		if err := w.Flush(); err != nil && first == nil {
			first = err
		}
	}
	if c.agg != nil {
		if err := c.agg.Flush(); err != nil && first == nil {
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
