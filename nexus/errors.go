// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nexus

import "errors"

// ErrAddressNotMapped is returned by an InstructionFetcher (internal/
// elfsym's ExecutableLookup) when a PC falls outside every executable
// section of the loaded binary. TraceFSM treats this as a recoverable
// per-core desync (spec §7's "Executable lookup miss"): it resets the
// core back to GetFirstSync rather than aborting the whole decode. The
// miss is not reported to the caller: no warning or error is returned.
var ErrAddressNotMapped = errors.New("nexus: address not mapped in any executable section")
