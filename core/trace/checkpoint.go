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
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/vm"
	"github.com/mastvm/mastvm/params"
)

// Checkpoint is the complete machine state at one fragment boundary,
// captured before the boundary cycle's transition. Seeding a dispatcher
// from it and serving nondeterminism from the logs at Cursors reproduces
// the recorded execution from this cycle on, bit for bit.
type Checkpoint struct {
	Clk uint32

	// Continuation stack, bottom first, including any forest-reinstating
	// entries. Forest is the one node ids resolve against at the boundary.
	Conts  []vm.Continuation
	Forest *mast.Forest

	// Operand stack.
	Visible  [params.StackDepth]common.Felt
	Depth    int
	Overflow []vm.OverflowRow

	// System registers, including the context allocator watermark.
	Ctx       uint32
	Fmp       common.Felt
	FnHash    common.Digest
	InSyscall bool
	NextCtx   uint32

	// Cursors into the replay-consumed logs.
	Cursors Cursors
}

// seize captures a checkpoint from a live machine at the given cycle. The
// cycle hooks fire with the executing continuation already popped, so it is
// re-appended here to complete the work list.
func seize(clk uint32, m machine, logs *Logs) Checkpoint {
	stack, sys := m.Stack(), m.System()
	return Checkpoint{
		Clk:       clk,
		Conts:     append(m.Continuations(), m.CurrentContinuation()),
		Forest:    m.ActiveForest(),
		Visible:   stack.Visible(),
		Depth:     stack.Depth(),
		Overflow:  stack.OverflowRows(),
		Ctx:       sys.Ctx(),
		Fmp:       sys.Fmp(),
		FnHash:    sys.FnHash(),
		InSyscall: sys.InSyscall(),
		NextCtx:   sys.NextCtx(),
		Cursors:   logs.cursors(),
	}
}
