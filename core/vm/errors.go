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
	"errors"
	"fmt"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/params"
)

// Plain sentinel errors. Failures needing diagnostic payload get a typed
// struct below instead.
var (
	ErrCycleLimitExceeded    = errors.New("maximum cycle count exceeded")
	ErrExecutionCancelled    = errors.New("execution cancelled")
	ErrDivisionByZero        = errors.New("division by zero")
	ErrAdviceStackReadFailed = errors.New("advice stack is empty")
	ErrCallerOutsideSyscall  = errors.New("caller hash requested outside a syscall")
	ErrTooManyStackInputs    = errors.New("more than 16 stack inputs")
	ErrInvalidResume         = errors.New("resume does not match the pending break")
)

// ErrNotBinaryValue is returned when a condition consumed by a split, loop
// or conditional operation is neither zero nor one.
type ErrNotBinaryValue struct {
	Value common.Felt
}

func (e *ErrNotBinaryValue) Error() string {
	return fmt.Sprintf("condition value %d is not binary", uint64(e.Value))
}

// ErrNotU32Value is returned when a u32 operation meets an operand outside
// the 32-bit range.
type ErrNotU32Value struct {
	Value common.Felt
}

func (e *ErrNotU32Value) Error() string {
	return fmt.Sprintf("value %d does not fit in 32 bits", uint64(e.Value))
}

// ErrFailedAssertion is returned when an ASSERT operation sees a value
// other than one. Msg is resolved from the forest's error-code table and
// may be empty.
type ErrFailedAssertion struct {
	Clk     uint32
	ErrCode uint64
	Msg     string
}

func (e *ErrFailedAssertion) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("assertion failed at cycle %d with code %d: %s", e.Clk, e.ErrCode, e.Msg)
	}
	return fmt.Sprintf("assertion failed at cycle %d with code %d", e.Clk, e.ErrCode)
}

// ErrInvalidFmpValue is returned when FMPUPDATE would move the frame
// pointer out of its legal window.
type ErrInvalidFmpValue struct {
	Old common.Felt
	New common.Felt
}

func (e *ErrInvalidFmpValue) Error() string {
	return fmt.Sprintf("frame pointer update %d -> %d is out of bounds", uint64(e.Old), uint64(e.New))
}

// ErrProcedureNotFound is returned when a call or dynamic target digest
// cannot be resolved by any store.
type ErrProcedureNotFound struct {
	Digest common.Digest
}

func (e *ErrProcedureNotFound) Error() string {
	return fmt.Sprintf("no procedure with digest %s", e.Digest)
}

// ErrCircularExternalNode is returned when resolving an external node
// yields another external node.
type ErrCircularExternalNode struct {
	Digest common.Digest
}

func (e *ErrCircularExternalNode) Error() string {
	return fmt.Sprintf("external node %s resolves to another external node", e.Digest)
}

// ErrSyscallTargetNotInKernel is returned when a syscall target digest is
// not a member of the program's kernel set.
type ErrSyscallTargetNotInKernel struct {
	Digest common.Digest
}

func (e *ErrSyscallTargetNotInKernel) Error() string {
	return fmt.Sprintf("syscall target %s is not in the kernel", e.Digest)
}

// ErrInvalidStackDepthOnReturn is returned when a call-like node finishes
// with a callee stack deeper than the base depth. The callee must drain
// everything it pushed before returning.
type ErrInvalidStackDepthOnReturn struct {
	Depth int
}

func (e *ErrInvalidStackDepthOnReturn) Error() string {
	return fmt.Sprintf("stack depth %d on return, want %d", e.Depth, params.StackDepth)
}

// ErrAddressOutOfBounds is returned for memory addresses at or beyond the
// 2^32 ceiling.
type ErrAddressOutOfBounds struct {
	Addr uint64
}

func (e *ErrAddressOutOfBounds) Error() string {
	return fmt.Sprintf("memory address %d is out of bounds", e.Addr)
}

// ErrUnalignedWordAccess is returned for word operations on addresses that
// are not multiples of the word size.
type ErrUnalignedWordAccess struct {
	Addr uint32
}

func (e *ErrUnalignedWordAccess) Error() string {
	return fmt.Sprintf("word access at unaligned address %d", e.Addr)
}

// ErrInvalidMemoryRange is returned for ranged reads with start beyond
// end.
type ErrInvalidMemoryRange struct {
	Start uint64
	End   uint64
}

func (e *ErrInvalidMemoryRange) Error() string {
	return fmt.Sprintf("invalid memory range %d..%d", e.Start, e.End)
}

// ErrIllegalMemoryAccess is returned when one address is written twice, or
// read and written, within a single clock cycle.
type ErrIllegalMemoryAccess struct {
	Ctx  uint32
	Addr uint32
	Clk  uint32
}

func (e *ErrIllegalMemoryAccess) Error() string {
	return fmt.Sprintf("illegal access to address %d in context %d at cycle %d", e.Addr, e.Ctx, e.Clk)
}

// ErrAdviceMapKeyNotFound is returned when an advice map lookup misses.
type ErrAdviceMapKeyNotFound struct {
	Key common.Digest
}

func (e *ErrAdviceMapKeyNotFound) Error() string {
	return fmt.Sprintf("advice map has no entry for key %s", e.Key)
}

// ErrAdviceMapKeyAlreadyPresent is returned when inserting an advice map
// key that already holds values.
type ErrAdviceMapKeyAlreadyPresent struct {
	Key common.Digest
}

func (e *ErrAdviceMapKeyAlreadyPresent) Error() string {
	return fmt.Sprintf("advice map key %s is already present", e.Key)
}

// ErrMerkleRootNotFound is returned when a Merkle store operation names an
// unknown tree root.
type ErrMerkleRootNotFound struct {
	Root common.Digest
}

func (e *ErrMerkleRootNotFound) Error() string {
	return fmt.Sprintf("merkle store has no tree with root %s", e.Root)
}

// ErrMerkleNodeNotFound is returned when a Merkle path walk meets a node
// the store does not know.
type ErrMerkleNodeNotFound struct {
	Node  common.Digest
	Depth uint32
	Index uint64
}

func (e *ErrMerkleNodeNotFound) Error() string {
	return fmt.Sprintf("merkle node %s at depth %d index %d not found", e.Node, e.Depth, e.Index)
}

// ErrEventFailed wraps a host or system event failure with the event id.
type ErrEventFailed struct {
	EventID uint32
	Err     error
}

func (e *ErrEventFailed) Error() string {
	return fmt.Sprintf("event %#x failed: %v", e.EventID, e.Err)
}

func (e *ErrEventFailed) Unwrap() error { return e.Err }

// ExecutionError attaches execution coordinates to an operation-level
// failure. OpIdx is negative for failures outside basic blocks.
type ExecutionError struct {
	NodeID mast.NodeID
	OpIdx  int
	Clk    uint32
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.OpIdx >= 0 {
		return fmt.Sprintf("execution failed at cycle %d, node %d, op %d: %v", e.Clk, e.NodeID, e.OpIdx, e.Err)
	}
	return fmt.Sprintf("execution failed at cycle %d, node %d: %v", e.Clk, e.NodeID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
