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

package vm

import (
	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/params"
)

// OverflowRow is one spilled stack element. Rows form a linked list through
// PrevAddr; a row's own address is Clk+1, so address zero always means "no
// row".
type OverflowRow struct {
	Clk      uint32
	Value    common.Felt
	PrevAddr uint32
}

// addr returns the row's one-based overflow address.
func (r OverflowRow) addr() uint32 {
	return r.Clk + 1
}

// Stack is the operand stack: sixteen visible slots backed by an overflow
// table. The depth never falls below sixteen; shifting left at the floor
// pulls zeros in at the bottom.
type Stack struct {
	slots    [params.StackDepth]common.Felt // slot 0 is the top
	depth    int
	overflow []OverflowRow // oldest first
	ovflAddr uint32        // address of the newest row, 0 when empty

	onSpill   func(OverflowRow)
	onRestore func(OverflowRow)
}

// NewStack returns a stack at the floor depth with all slots zero.
func NewStack() *Stack {
	return &Stack{depth: params.StackDepth}
}

// Depth returns the total stack depth including spilled elements.
func (s *Stack) Depth() int {
	return s.depth
}

// Get returns visible slot i, 0 being the top.
func (s *Stack) Get(i int) common.Felt {
	return s.slots[i]
}

// Set overwrites visible slot i.
func (s *Stack) Set(i int, v common.Felt) {
	s.slots[i] = v
}

// GetWord reads four consecutive slots starting at i.
func (s *Stack) GetWord(i int) common.Word {
	var w common.Word
	copy(w[:], s.slots[i:i+params.WordSize])
	return w
}

// SetWord overwrites four consecutive slots starting at i.
func (s *Stack) SetWord(i int, w common.Word) {
	copy(s.slots[i:i+params.WordSize], w[:])
}

// ShiftRight makes room at position from, sliding deeper slots down and
// spilling the bottom slot into the overflow table. The vacated slot keeps
// its old value; callers overwrite it.
func (s *Stack) ShiftRight(clk uint32, from int) {
	row := OverflowRow{Clk: clk, Value: s.slots[params.StackDepth-1], PrevAddr: s.ovflAddr}
	s.overflow = append(s.overflow, row)
	s.ovflAddr = row.addr()
	s.depth++
	copy(s.slots[from+1:], s.slots[from:params.StackDepth-1])
	if s.onSpill != nil {
		s.onSpill(row)
	}
}

// ShiftLeft removes position from, sliding deeper slots up and refilling
// the bottom slot from the overflow table, or with zero at the floor.
func (s *Stack) ShiftLeft(clk uint32, from int) {
	copy(s.slots[from:], s.slots[from+1:])
	if s.depth > params.StackDepth {
		row := s.overflow[len(s.overflow)-1]
		s.overflow = s.overflow[:len(s.overflow)-1]
		s.slots[params.StackDepth-1] = row.Value
		s.ovflAddr = row.PrevAddr
		s.depth--
		if s.onRestore != nil {
			s.onRestore(row)
		}
		return
	}
	s.slots[params.StackDepth-1] = 0
}

// OverflowAddr returns the address of the newest overflow row, zero when
// the table is empty.
func (s *Stack) OverflowAddr() common.Felt {
	return common.Felt(s.ovflAddr)
}

// OverflowRows returns a copy of the live overflow rows, oldest first.
func (s *Stack) OverflowRows() []OverflowRow {
	if len(s.overflow) == 0 {
		return nil
	}
	return append([]OverflowRow(nil), s.overflow...)
}

// Visible returns the sixteen visible slots.
func (s *Stack) Visible() [params.StackDepth]common.Felt {
	return s.slots
}

// StartContext hides the current overflow table and resets the depth to
// the floor, leaving the visible slots as call arguments. It returns the
// hidden depth and rows for RestoreContext.
func (s *Stack) StartContext() (int, []OverflowRow) {
	savedDepth, savedRows := s.depth, s.overflow
	s.depth = params.StackDepth
	s.overflow = nil
	s.ovflAddr = 0
	return savedDepth, savedRows
}

// ShiftLeftAndStartContext drops the top slot in the caller's context,
// then starts a fresh context.
func (s *Stack) ShiftLeftAndStartContext(clk uint32) (int, []OverflowRow) {
	s.ShiftLeft(clk, 0)
	return s.StartContext()
}

// RestoreContext reinstates a hidden depth and overflow table saved by
// StartContext.
func (s *Stack) RestoreContext(depth int, rows []OverflowRow) {
	s.depth = depth
	s.overflow = rows
	s.ovflAddr = 0
	if len(rows) > 0 {
		s.ovflAddr = rows[len(rows)-1].addr()
	}
}

// LoadState overwrites the whole stack state. Used to seed execution from
// a reconstructed cycle boundary.
func (s *Stack) LoadState(visible [params.StackDepth]common.Felt, depth int, rows []OverflowRow) {
	s.slots = visible
	s.depth = depth
	s.overflow = append([]OverflowRow(nil), rows...)
	s.ovflAddr = 0
	if len(rows) > 0 {
		s.ovflAddr = rows[len(rows)-1].addr()
	}
}

// SetOverflowTaps installs observers for spill and restore events.
func (s *Stack) SetOverflowTaps(onSpill, onRestore func(OverflowRow)) {
	s.onSpill = onSpill
	s.onRestore = onRestore
}
