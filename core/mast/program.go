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
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/mastvm/mastvm/common"
)

var (
	// ErrEntrypointNotRoot is returned when a program's entrypoint is not a
	// procedure root of its forest.
	ErrEntrypointNotRoot = errors.New("mast: entrypoint is not a forest root")
)

// Program is an executable unit: a forest, the root to start from and the
// set of procedure digests syscalls may target. Immutable and safe for
// concurrent readers; the kernel set is never mutated after construction.
type Program struct {
	forest     *Forest
	entrypoint NodeID
	kernel     mapset.Set[common.Digest]
}

// NewProgram assembles a program. The entrypoint must be one of the
// forest's roots; kernel digests are deduplicated.
func NewProgram(f *Forest, entrypoint NodeID, kernel []common.Digest) (*Program, error) {
	if f.Node(entrypoint) == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNodeID, entrypoint)
	}
	if !f.IsRoot(entrypoint) {
		return nil, fmt.Errorf("%w: node %d", ErrEntrypointNotRoot, entrypoint)
	}
	set := mapset.NewThreadUnsafeSet[common.Digest]()
	for _, d := range kernel {
		set.Add(d)
	}
	return &Program{forest: f, entrypoint: entrypoint, kernel: set}, nil
}

// Forest returns the program's node forest.
func (p *Program) Forest() *Forest {
	return p.forest
}

// Entrypoint returns the node execution starts from.
func (p *Program) Entrypoint() NodeID {
	return p.entrypoint
}

// Digest returns the digest of the entrypoint, which identifies the whole
// program.
func (p *Program) Digest() common.Digest {
	return p.forest.Node(p.entrypoint).Digest()
}

// IsKernelProcedure reports whether a digest belongs to the kernel set.
func (p *Program) IsKernelProcedure(d common.Digest) bool {
	return p.kernel.Contains(d)
}

// KernelDigests returns the kernel set in deterministic ascending order.
func (p *Program) KernelDigests() []common.Digest {
	out := p.kernel.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
