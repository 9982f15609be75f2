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

// Package tracing defines the hook surface the execution engine reports
// through. Hooks are plain nillable function fields; the engine invokes
// only the ones that are set. Implementations must not retain the scope
// values they are handed past the call.
package tracing

import (
	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
)

// OpContext is the read-only execution state view handed to hooks.
type OpContext interface {
	// Clk returns the current clock cycle.
	Clk() uint32
	// Ctx returns the current memory context id.
	Ctx() uint32
	// StackDepth returns the full operand stack depth.
	StackDepth() int
	// StackItem returns visible stack slot i, 0 being the top.
	StackItem(i int) common.Felt
	// FnHash returns the digest of the function owning the current
	// context.
	FnHash() common.Digest
}

// Hooks is the set of callbacks the dispatcher fires while executing.
type Hooks struct {
	// OnNodeStart is called when a node is entered, before its first
	// cycle executes.
	OnNodeStart func(node mast.NodeID, kind mast.NodeKind, scope OpContext)

	// OnNodeFinish is called after a node's last cycle has executed.
	OnNodeFinish func(node mast.NodeID, kind mast.NodeKind, scope OpContext)

	// OnCycle is called once per clock cycle, before the cycle's state
	// transition, with the decoder values describing what executes.
	OnCycle func(clk uint32, node mast.NodeID, op mast.OpCode, opIdx int, scope OpContext)

	// OnOperation is called before a basic-block operation executes.
	OnOperation func(node mast.NodeID, opIdx int, op mast.Op, scope OpContext)

	// OnDecorator is called when a decorator fires. Decorators never
	// change execution state.
	OnDecorator func(node mast.NodeID, dec *mast.Decorator, scope OpContext)

	// OnEvent is called after an event's advice mutations have been
	// applied, for both host-handled and system events.
	OnEvent func(clk uint32, eventID uint32)

	// OnExecutionEnd is called once with the final error (nil on
	// success) after the last cycle.
	OnExecutionEnd func(clk uint32, err error)
}
