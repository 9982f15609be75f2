// Copyright 2024 The mastvm Authors
// This file is part of the mastvm library.
//
// The mastvm library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The mastvm library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the mastvm library. If not, see <http://www.gnu.org/licenses/>.

package trace

import (
	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/store"
	"github.com/mastvm/mastvm/core/vm"
	"github.com/mastvm/mastvm/crypto"
)

// MemReadRecord is the result of one memory load. Word reads store all four
// limbs; element reads store the value in limb zero.
type MemReadRecord struct {
	Clk   uint32
	Ctx   uint32
	Addr  uint32
	Word  bool
	Value common.Word
}

// MemAccessKind distinguishes the entries of the full access log.
type MemAccessKind byte

const (
	MemAccessRead MemAccessKind = iota
	MemAccessWrite
)

// MemAccessRecord is one memory access, read or write. The access log is
// not consumed by replay; it feeds the auxiliary memory bus columns.
type MemAccessRecord struct {
	Clk   uint32
	Ctx   uint32
	Addr  uint32
	Kind  MemAccessKind
	Word  bool
	Value common.Word
}

// AdviceReadRecord is the result of one advice stack pop. Word pops store
// all four limbs in pop order.
type AdviceReadRecord struct {
	Clk   uint32
	Word  bool
	Value common.Word
}

// HasherRecord is the output of one hash permutation.
type HasherRecord struct {
	Clk    uint32
	Output [crypto.PermuteWidth]common.Felt
}

// OverflowKind distinguishes spills from restores in the overflow log.
type OverflowKind byte

const (
	OverflowSpill OverflowKind = iota
	OverflowRestore
)

// OverflowRecord is one overflow table mutation. Replay recomputes these
// from the stack itself; the log feeds the auxiliary overflow columns.
type OverflowRecord struct {
	Kind OverflowKind
	Row  vm.OverflowRow
}

// FrameRecord is one caller frame reinstated at a call-like node's finish.
// Replay consumes these in order, since the matching save may predate the
// fragment.
type FrameRecord struct {
	Clk   uint32
	Frame vm.CallFrame
}

// ResolutionRecord is one external-digest resolution served by the store.
type ResolutionRecord struct {
	Clk    uint32
	Digest common.Digest
	Res    store.Resolution
}

// EventRecord is one host-dispatched event and the mutation batch it
// returned. System events are not logged; their effects surface through
// the advice log.
type EventRecord struct {
	Clk       uint32
	EventID   uint32
	Mutations []vm.AdviceMutation
}

// Logs are the append-only nondeterminism records of one recording pass.
// Every decision the machine cannot re-derive from the program and its own
// prior state lands here, in execution order, so any cycle range can be
// re-executed from a boundary snapshot without the cycles before it.
type Logs struct {
	MemReads    []MemReadRecord
	MemAccesses []MemAccessRecord
	AdviceReads []AdviceReadRecord
	Hasher      []HasherRecord
	Overflow    []OverflowRecord
	Frames      []FrameRecord
	Resolutions []ResolutionRecord
	Events      []EventRecord
}

// Cursors locate a cycle boundary inside every replay-consumed log. A
// fragment starting at that boundary reads each log from its cursor on.
type Cursors struct {
	MemReads    int
	AdviceReads int
	Hasher      int
	Frames      int
	Resolutions int
}

// cursors captures the current end of every replay-consumed log.
func (l *Logs) cursors() Cursors {
	return Cursors{
		MemReads:    len(l.MemReads),
		AdviceReads: len(l.AdviceReads),
		Hasher:      len(l.Hasher),
		Frames:      len(l.Frames),
		Resolutions: len(l.Resolutions),
	}
}
