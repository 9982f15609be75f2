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

// Package mast implements the content-addressed program model: a forest of
// control-flow nodes held in an arena, deduplicated by structural digest,
// with an entrypoint and an optional kernel procedure set.
package mast

import "github.com/mastvm/mastvm/common"

// NodeID is an index into a forest's node arena.
type NodeID uint32

// InvalidNodeID is never a valid arena index.
const InvalidNodeID = NodeID(^uint32(0))

// NodeKind discriminates the node variants.
type NodeKind byte

const (
	KindBasicBlock NodeKind = iota
	KindJoin
	KindSplit
	KindLoop
	KindCall
	KindSyscall
	KindDyn
	KindDyncall
	KindExternal
)

var nodeKindToString = map[NodeKind]string{
	KindBasicBlock: "block",
	KindJoin:       "join",
	KindSplit:      "split",
	KindLoop:       "loop",
	KindCall:       "call",
	KindSyscall:    "syscall",
	KindDyn:        "dyn",
	KindDyncall:    "dyncall",
	KindExternal:   "external",
}

func (k NodeKind) String() string {
	if s, ok := nodeKindToString[k]; ok {
		return s
	}
	return "unknown"
}

// Node is one vertex of the program DAG. Nodes are immutable once their
// forest is built; all fields are read through accessors. For External
// nodes the digest field holds the foreign digest verbatim.
type Node struct {
	kind     NodeKind
	digest   common.Digest
	children [2]NodeID // kind-dependent, see accessors

	ops    []Op          // KindBasicBlock only
	opDecs []OpDecorator // sorted by OpIdx

	before []DecoratorID // fired before the node is entered
	after  []DecoratorID // fired after the node exits
}

// Kind returns the node variant.
func (n *Node) Kind() NodeKind { return n.kind }

// Digest returns the node's content-derived digest.
func (n *Node) Digest() common.Digest { return n.digest }

// First returns the first child of a Join.
func (n *Node) First() NodeID { return n.children[0] }

// Second returns the second child of a Join.
func (n *Node) Second() NodeID { return n.children[1] }

// OnTrue returns the branch of a Split taken when the condition is one.
func (n *Node) OnTrue() NodeID { return n.children[0] }

// OnFalse returns the branch of a Split taken when the condition is zero.
func (n *Node) OnFalse() NodeID { return n.children[1] }

// Body returns the body of a Loop.
func (n *Node) Body() NodeID { return n.children[0] }

// Callee returns the target of a Call or Syscall.
func (n *Node) Callee() NodeID { return n.children[0] }

// Operations returns the operation list of a basic block. Callers must not
// modify the returned slice.
func (n *Node) Operations() []Op { return n.ops }

// OpDecorators returns the block's operation-anchored decorators in
// ascending operation-index order.
func (n *Node) OpDecorators() []OpDecorator { return n.opDecs }

// BeforeEnter returns the decorators fired before the node is entered.
func (n *Node) BeforeEnter() []DecoratorID { return n.before }

// AfterExit returns the decorators fired after the node exits.
func (n *Node) AfterExit() []DecoratorID { return n.after }

// IsControl reports whether starting and finishing the node each consume a
// clock cycle. Basic blocks pay per operation instead and External nodes
// are free redirects.
func (n *Node) IsControl() bool {
	switch n.kind {
	case KindBasicBlock, KindExternal:
		return false
	}
	return true
}

// StartOp returns the decoder pseudo-opcode marking the node's start row.
func (n *Node) StartOp() OpCode {
	switch n.kind {
	case KindJoin:
		return JOIN
	case KindSplit:
		return SPLIT
	case KindLoop:
		return LOOP
	case KindCall:
		return CALL
	case KindSyscall:
		return SYSCALL
	case KindDyn:
		return DYN
	case KindDyncall:
		return DYNCALL
	}
	return NOOP
}
