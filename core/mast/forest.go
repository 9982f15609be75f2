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

package mast

import (
	"github.com/mastvm/mastvm/common"
)

// Forest is an immutable arena of nodes. Child ids always precede their
// parents, so arena order is a valid evaluation order. Forests are safe for
// concurrent readers.
type Forest struct {
	nodes      []Node
	roots      []NodeID
	decorators []Decorator
	errCodes   map[uint64]string

	byDigest map[common.Digest]NodeID
}

// NumNodes returns the arena size.
func (f *Forest) NumNodes() int {
	return len(f.nodes)
}

// Node returns the node at the given id, or nil if the id is out of range.
func (f *Forest) Node(id NodeID) *Node {
	if int(id) >= len(f.nodes) {
		return nil
	}
	return &f.nodes[id]
}

// NodeByDigest finds the node interned under the given digest.
func (f *Forest) NodeByDigest(d common.Digest) (NodeID, bool) {
	id, ok := f.byDigest[d]
	return id, ok
}

// Roots returns the forest's procedure roots. Callers must not modify the
// returned slice.
func (f *Forest) Roots() []NodeID {
	return f.roots
}

// IsRoot reports whether the given node is a procedure root.
func (f *Forest) IsRoot(id NodeID) bool {
	for _, r := range f.roots {
		if r == id {
			return true
		}
	}
	return false
}

// Decorator returns the decorator at the given id, or nil if out of range.
func (f *Forest) Decorator(id DecoratorID) *Decorator {
	if int(id) >= len(f.decorators) {
		return nil
	}
	return &f.decorators[id]
}

// NumDecorators returns the decorator arena size.
func (f *Forest) NumDecorators() int {
	return len(f.decorators)
}

// ErrorMessage resolves an assertion error code against the forest's
// error-code table.
func (f *Forest) ErrorMessage(code uint64) (string, bool) {
	msg, ok := f.errCodes[code]
	return msg, ok
}

// RootDigests returns the digests of all procedure roots in root order.
func (f *Forest) RootDigests() []common.Digest {
	out := make([]common.Digest, len(f.roots))
	for i, r := range f.roots {
		out[i] = f.nodes[r].digest
	}
	return out
}
