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
	"math/bits"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/vm"
	"github.com/mastvm/mastvm/params"
)

// Column indices of the trace row layout. The layout is part of the
// external contract with the constraint system; reordering columns is a
// version bump.
const (
	// System columns.
	ColClk       = 0
	ColCtx       = 1
	ColFmp       = 2
	ColInSyscall = 3
	ColFnHash0   = 4 // 4..7 hold the four digest limbs

	// Decoder columns.
	ColNode  = 8
	ColOp    = 9
	ColOpIdx = 10

	// Stack columns.
	ColStack0       = 11 // 11..26 hold the sixteen visible slots
	ColStackDepth   = 27
	ColOverflowAddr = 28

	// RowWidth is the total number of columns.
	RowWidth = 29
)

// Trace is the rectangular execution trace: one row per clock cycle, padded
// with HALT rows to a power-of-two height.
type Trace struct {
	// Rows is the row-major matrix, each row RowWidth felts wide.
	Rows [][]common.Felt

	// NumProgramRows is the count of rows produced by the program itself;
	// rows at and beyond this index are padding.
	NumProgramRows int

	// Logs are the raw replay logs of the recording pass, kept for the
	// construction of auxiliary permutation and bus columns downstream.
	Logs *Logs
}

// Length returns the padded trace height.
func (t *Trace) Length() int { return len(t.Rows) }

// Get returns the value at (row, col).
func (t *Trace) Get(row, col int) common.Felt { return t.Rows[row][col] }

// machine is the slice of the dispatcher the trace engine needs beyond the
// plain hook scope: direct access to the operand stack, the system
// registers, the continuation stack and the active forest. The engine's
// dispatcher satisfies it; anything else driving the hooks is a defect.
type machine interface {
	Stack() *vm.Stack
	System() *vm.System
	Continuations() []vm.Continuation
	CurrentContinuation() vm.Continuation
	ActiveForest() *mast.Forest
}

// fillRow writes one trace row from the machine state as it stands at the
// start of the cycle, before the cycle's state transition.
func fillRow(row []common.Felt, clk uint32, node mast.NodeID, op mast.OpCode, opIdx int, sys *vm.System, stack *vm.Stack) {
	row[ColClk] = common.Felt(clk)
	row[ColCtx] = common.Felt(sys.Ctx())
	row[ColFmp] = sys.Fmp()
	row[ColInSyscall] = boolFelt(sys.InSyscall())
	hash := sys.FnHash()
	for i := 0; i < 4; i++ {
		row[ColFnHash0+i] = hash[i]
	}
	row[ColNode] = common.Felt(uint32(node))
	row[ColOp] = common.Felt(op)
	if opIdx > 0 {
		row[ColOpIdx] = common.Felt(uint32(opIdx))
	} else {
		row[ColOpIdx] = 0
	}
	for i := 0; i < params.StackDepth; i++ {
		row[ColStack0+i] = stack.Get(i)
	}
	row[ColStackDepth] = common.NewFelt(uint64(stack.Depth()))
	row[ColOverflowAddr] = stack.OverflowAddr()
}

func boolFelt(b bool) common.Felt {
	if b {
		return 1
	}
	return 0
}

// paddedLength returns the trace height for n program rows: the next power
// of two at or above both n+1 and the minimum trace length. The +1 keeps at
// least one HALT row even for exact power-of-two executions.
func paddedLength(n int) int {
	want := n + 1
	if want < params.MinTraceLength {
		want = params.MinTraceLength
	}
	if want&(want-1) == 0 {
		return want
	}
	return 1 << bits.Len(uint(want))
}

// padRows extends the matrix from the last program row with HALT rows. The
// clock keeps incrementing; every other column freezes at its final value.
func padRows(rows [][]common.Felt, numProgram int) {
	last := rows[numProgram-1]
	for i := numProgram; i < len(rows); i++ {
		row := rows[i]
		copy(row, last)
		row[ColClk] = last[ColClk].Add(common.Felt(uint32(i - numProgram + 1)))
		row[ColNode] = common.Felt(uint32(mast.InvalidNodeID))
		row[ColOp] = common.Felt(mast.HALT)
		row[ColOpIdx] = 0
	}
}
