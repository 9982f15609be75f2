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

// Reserved event ids, handled in-engine without surfacing to the host.
const (
	// SysEventMapToStack reads the word at the top of the operand stack as
	// an advice map key and moves the entry onto the advice stack so the
	// entry's first value is the next one popped.
	SysEventMapToStack = params.SystemEventMask | 1

	// SysEventU64Div reads a u64 division from the operand stack, divisor
	// limbs in s0 (hi) and s1 (lo), dividend limbs in s2 (hi) and s3 (lo),
	// and pushes quotient and remainder limbs onto the advice stack in the
	// order q_lo, q_hi, r_lo, r_hi of subsequent pops.
	SysEventU64Div = params.SystemEventMask | 2

	// SysEventMerkleNode reads depth from s0, index from s1 and a tree
	// root from s2..s5, fetches the addressed node from the Merkle store
	// and pushes its limbs so the node's first limb is the next popped.
	SysEventMerkleNode = params.SystemEventMask | 3
)

// IsSystemEvent reports whether an event id belongs to the reserved range.
func IsSystemEvent(eventID uint32) bool {
	return eventID&params.SystemEventMask == params.SystemEventMask
}

// handleSystemEvent services a reserved event against the machine state.
// The operand stack is only read, never modified.
func handleSystemEvent(eventID uint32, stack *Stack, advice *AdviceProvider) error {
	switch eventID {
	case SysEventMapToStack:
		key := stack.GetWord(0)
		vals, err := advice.MapGet(key.Digest())
		if err != nil {
			return err
		}
		for i := len(vals) - 1; i >= 0; i-- {
			advice.PushStack(vals[i])
		}
		return nil

	case SysEventU64Div:
		limbs := [4]uint64{}
		for i := range limbs {
			v := uint64(stack.Get(i))
			if v > 1<<32-1 {
				return &ErrNotU32Value{Value: stack.Get(i)}
			}
			limbs[i] = v
		}
		divisor := limbs[0]<<32 | limbs[1]
		dividend := limbs[2]<<32 | limbs[3]
		if divisor == 0 {
			return ErrDivisionByZero
		}
		quot, rem := dividend/divisor, dividend%divisor
		advice.PushStack(common.Felt(rem >> 32))
		advice.PushStack(common.Felt(rem & 0xffffffff))
		advice.PushStack(common.Felt(quot >> 32))
		advice.PushStack(common.Felt(quot & 0xffffffff))
		return nil

	case SysEventMerkleNode:
		depth := uint64(stack.Get(0))
		index := uint64(stack.Get(1))
		if depth >= 64 {
			return ErrInvalidTreeIndex
		}
		var root common.Word
		for i := range root {
			root[i] = stack.Get(2 + i)
		}
		node, err := advice.Merkle().GetNode(root.Digest(), uint32(depth), index)
		if err != nil {
			return err
		}
		for i := len(node) - 1; i >= 0; i-- {
			advice.PushStack(node[i])
		}
		return nil
	}
	return ErrNoEventHandler
}
