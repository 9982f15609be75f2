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
	"math/bits"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/crypto"
)

var (
	// ErrInvalidTreeSize is returned when seeding a Merkle tree whose
	// leaf count is not a power of two.
	ErrInvalidTreeSize = errors.New("merkle tree leaf count is not a power of two")

	// ErrInvalidTreeIndex is returned when a leaf index does not exist at
	// the stated depth.
	ErrInvalidTreeIndex = errors.New("merkle index out of range for depth")
)

// MerkleStore is a node-addressed forest of binary Merkle trees. Interior
// nodes map a digest to its two children; roots are tracked so lookups can
// tell an unknown tree from a broken path. Updates are persistent: the old
// root and its tree stay valid.
type MerkleStore struct {
	nodes map[common.Digest][2]common.Digest
	roots mapset.Set[common.Digest]
}

// NewMerkleStore returns an empty store.
func NewMerkleStore() *MerkleStore {
	return &MerkleStore{
		nodes: make(map[common.Digest][2]common.Digest),
		roots: mapset.NewThreadUnsafeSet[common.Digest](),
	}
}

// AddTree builds a balanced tree over the leaves and returns its root.
// The leaf count must be a power of two.
func (ms *MerkleStore) AddTree(leaves []common.Word) (common.Digest, error) {
	if len(leaves) == 0 || bits.OnesCount(uint(len(leaves))) != 1 {
		return common.EmptyDigest, ErrInvalidTreeSize
	}
	level := make([]common.Digest, len(leaves))
	for i, leaf := range leaves {
		level[i] = crypto.HashLeaf(leaf)
	}
	for len(level) > 1 {
		next := make([]common.Digest, len(level)/2)
		for i := range next {
			next[i] = ms.AddNode(level[2*i], level[2*i+1])
		}
		level = next
	}
	ms.roots.Add(level[0])
	return level[0], nil
}

// AddNode registers an interior node and returns the parent digest.
func (ms *MerkleStore) AddNode(left, right common.Digest) common.Digest {
	parent := crypto.MerkleNodeHash(left, right)
	ms.nodes[parent] = [2]common.Digest{left, right}
	return parent
}

// HasRoot reports whether the digest is a known tree root.
func (ms *MerkleStore) HasRoot(root common.Digest) bool {
	return ms.roots.Contains(root)
}

func (ms *MerkleStore) checkCoords(root common.Digest, depth uint32, index uint64) error {
	if !ms.roots.Contains(root) {
		return &ErrMerkleRootNotFound{Root: root}
	}
	if depth >= 64 || index >= uint64(1)<<depth {
		return ErrInvalidTreeIndex
	}
	return nil
}

// GetNode returns the node at the given depth and index under root. Depth
// zero returns the root itself.
func (ms *MerkleStore) GetNode(root common.Digest, depth uint32, index uint64) (common.Digest, error) {
	if err := ms.checkCoords(root, depth, index); err != nil {
		return common.EmptyDigest, err
	}
	node := root
	for level := depth; level > 0; level-- {
		children, ok := ms.nodes[node]
		if !ok {
			return common.EmptyDigest, &ErrMerkleNodeNotFound{Node: node, Depth: depth - level, Index: index >> level}
		}
		node = children[(index>>(level-1))&1]
	}
	return node, nil
}

// GetPath returns the leaf at (depth, index) and its sibling path ordered
// from the leaf's sibling up to the child of the root.
func (ms *MerkleStore) GetPath(root common.Digest, depth uint32, index uint64) (common.Digest, []common.Digest, error) {
	if err := ms.checkCoords(root, depth, index); err != nil {
		return common.EmptyDigest, nil, err
	}
	siblings := make([]common.Digest, depth)
	node := root
	for level := depth; level > 0; level-- {
		children, ok := ms.nodes[node]
		if !ok {
			return common.EmptyDigest, nil, &ErrMerkleNodeNotFound{Node: node, Depth: depth - level, Index: index >> level}
		}
		bit := (index >> (level - 1)) & 1
		siblings[level-1] = children[1-bit]
		node = children[bit]
	}
	return node, siblings, nil
}

// UpdateLeaf writes a new leaf digest at (depth, index) and returns the
// root of the updated tree. The original tree is preserved.
func (ms *MerkleStore) UpdateLeaf(root common.Digest, depth uint32, index uint64, leaf common.Digest) (common.Digest, error) {
	_, siblings, err := ms.GetPath(root, depth, index)
	if err != nil {
		return common.EmptyDigest, err
	}
	node := leaf
	for level := uint32(0); level < depth; level++ {
		if (index>>level)&1 == 0 {
			node = ms.AddNode(node, siblings[level])
		} else {
			node = ms.AddNode(siblings[level], node)
		}
	}
	ms.roots.Add(node)
	return node, nil
}

// MergeRoots joins two known trees under a fresh root.
func (ms *MerkleStore) MergeRoots(left, right common.Digest) (common.Digest, error) {
	if !ms.roots.Contains(left) {
		return common.EmptyDigest, &ErrMerkleRootNotFound{Root: left}
	}
	if !ms.roots.Contains(right) {
		return common.EmptyDigest, &ErrMerkleRootNotFound{Root: right}
	}
	parent := ms.AddNode(left, right)
	ms.roots.Add(parent)
	return parent, nil
}
