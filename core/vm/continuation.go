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
	"fmt"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
)

// ContKind selects the variant of a continuation stack entry.
type ContKind byte

const (
	// ContStartNode begins (or, for a basic block with OpIdx > 0,
	// resumes) execution of a node.
	ContStartNode ContKind = iota

	// ContFinishJoin emits the END cycle of a join node.
	ContFinishJoin

	// ContFinishSplit emits the END cycle of a split node.
	ContFinishSplit

	// ContFinishLoop pops the next loop condition and either re-enters
	// the body or emits the END cycle. Reenter is false when the loop was
	// skipped, in which case no condition pop is due.
	ContFinishLoop

	// ContFinishCall emits the END cycle of a call-like node and restores
	// the caller's execution context. The node kind selects the restore.
	ContFinishCall

	// ContFinishDyn emits the END cycle of a dyn node. No context switch
	// is involved.
	ContFinishDyn

	// ContAfterExit fires a node's after-exit decorators. Costs no cycle.
	ContAfterExit

	// ContEnterForest reinstates a previously active forest once a
	// resolved external subtree finishes. Costs no cycle.
	ContEnterForest
)

var contKindNames = [...]string{
	ContStartNode:   "START",
	ContFinishJoin:  "FINISH_JOIN",
	ContFinishSplit: "FINISH_SPLIT",
	ContFinishLoop:  "FINISH_LOOP",
	ContFinishCall:  "FINISH_CALL",
	ContFinishDyn:   "FINISH_DYN",
	ContAfterExit:   "AFTER_EXIT",
	ContEnterForest: "ENTER_FOREST",
}

func (k ContKind) String() string {
	if int(k) < len(contKindNames) {
		return contKindNames[k]
	}
	return fmt.Sprintf("ContKind(%d)", k)
}

// Continuation is one pending obligation on the dispatcher's control
// stack. Finish entries are pushed before their node's children start, so
// the stack always spells out the remainder of the program.
type Continuation struct {
	Kind    ContKind
	Node    mast.NodeID
	OpIdx   int          // ContStartNode on a basic block: index of the next operation
	Reenter bool         // ContFinishLoop: condition pop due
	Forest  *mast.Forest // ContEnterForest: forest to reinstate
}

func startCont(node mast.NodeID) Continuation {
	return Continuation{Kind: ContStartNode, Node: node}
}

func resumeBlockCont(node mast.NodeID, opIdx int) Continuation {
	return Continuation{Kind: ContStartNode, Node: node, OpIdx: opIdx}
}

func finishCont(kind ContKind, node mast.NodeID) Continuation {
	return Continuation{Kind: kind, Node: node}
}

func finishLoopCont(node mast.NodeID, reenter bool) Continuation {
	return Continuation{Kind: ContFinishLoop, Node: node, Reenter: reenter}
}

func afterExitCont(node mast.NodeID) Continuation {
	return Continuation{Kind: ContAfterExit, Node: node}
}

func enterForestCont(f *mast.Forest) Continuation {
	return Continuation{Kind: ContEnterForest, Forest: f}
}

func (c Continuation) String() string {
	switch c.Kind {
	case ContEnterForest:
		return c.Kind.String()
	case ContStartNode:
		if c.OpIdx > 0 {
			return fmt.Sprintf("%s(%d@%d)", c.Kind, c.Node, c.OpIdx)
		}
	}
	return fmt.Sprintf("%s(%d)", c.Kind, c.Node)
}

// BreakKind says why the dispatcher suspended.
type BreakKind byte

const (
	// BreakDone means the program ran to completion.
	BreakDone BreakKind = iota

	// BreakResolveExternal means an external node needs a forest from the
	// store. Resume with ProvideResolution.
	BreakResolveExternal

	// BreakDispatchEvent means an EMIT surfaced a non-system event.
	// Resume with ResumeEvent after consulting the host.
	BreakDispatchEvent
)

func (k BreakKind) String() string {
	switch k {
	case BreakDone:
		return "DONE"
	case BreakResolveExternal:
		return "RESOLVE_EXTERNAL"
	case BreakDispatchEvent:
		return "DISPATCH_EVENT"
	}
	return fmt.Sprintf("BreakKind(%d)", k)
}

// Break is the dispatcher's suspension value: the reason execution cannot
// proceed without outside help, plus the request payload. Node and OpIdx
// locate the suspension point for failure attribution.
type Break struct {
	Kind    BreakKind
	Digest  common.Digest // BreakResolveExternal: procedure digest to resolve
	EventID uint32        // BreakDispatchEvent: event id to dispatch
	Node    mast.NodeID
	OpIdx   int
}

// CallFrame is the caller state saved when a call-like node starts a new
// execution context and reinstated when it finishes.
type CallFrame struct {
	Ctx       uint32
	Fmp       common.Felt
	FnHash    common.Digest
	InSyscall bool
	Depth     int
	Overflow  []OverflowRow
}
