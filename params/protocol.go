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

package params

const (
	// StackDepth is the number of operand stack slots visible to
	// operations. The stack never shrinks below this depth: pops past it
	// pull from the overflow table, or shift in zeros once that is empty.
	StackDepth = 16

	// WordSize is the number of field elements per memory word. Word
	// accesses must be aligned to it.
	WordSize = 4

	// MemoryAddrCeiling bounds the memory address space; any address at or
	// above it is rejected.
	MemoryAddrCeiling uint64 = 1 << 32

	// RootContext is the execution context active at program start and
	// re-entered by syscalls.
	RootContext uint32 = 0

	// FmpBase is the initial value of the frame pointer register in every
	// fresh context.
	FmpBase uint64 = 1 << 30

	// FmpCeiling bounds the frame pointer's travel; FmpUpdate past it (or
	// below FmpMin) is rejected.
	FmpMin     uint64 = 1 << 16
	FmpCeiling uint64 = 3 << 30

	// MaxCycles is the default per-execution clock budget. Exceeding it is
	// a user-facing resource error, not an engine fault.
	MaxCycles uint32 = 1 << 29

	// MinTraceLength is the smallest trace the layout supports; shorter
	// executions are padded up to it.
	MinTraceLength = 64

	// DefaultFragmentLength is the number of cycles a single replay
	// fragment covers unless configured otherwise. Must be a power of two.
	DefaultFragmentLength = 1 << 12

	// SystemEventMask marks the event-id range reserved for events handled
	// inside the engine; any id with these top bits set never reaches the
	// host.
	SystemEventMask uint32 = 0xffff0000

	// ErrCodeNone is the assertion error code meaning "no annotation".
	ErrCodeNone uint64 = 0
)

// Version of the execution engine. Bumped on trace-layout changes since the
// layout is part of the external contract.
const (
	VersionMajor = 0
	VersionMinor = 7
	VersionPatch = 2
)
