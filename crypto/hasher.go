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

// Package crypto implements the node digest function of the program model.
//
// Digests are blake2b-256 hashes folded into four field elements. Every
// hash is domain separated by a single leading byte so that a basic block,
// a control node and a Merkle interior node can never collide on the same
// child material.
package crypto

import (
	"encoding/binary"
	"hash"
	"sync"

	"github.com/mastvm/mastvm/common"
	"golang.org/x/crypto/blake2b"
)

// Domain tags the kind of material being hashed.
type Domain byte

const (
	DomainBlock Domain = iota
	DomainJoin
	DomainSplit
	DomainLoop
	DomainCall
	DomainSyscall
	DomainDyn
	DomainDyncall
	DomainMerkle
	DomainLeaf
	DomainPermute
)

// PermuteWidth is the element count of the hash permutation state.
const PermuteWidth = 12

// hasher wraps a reusable blake2b state.
type hasher struct{ b hash.Hash }

var hasherPool = sync.Pool{
	New: func() interface{} {
		b, err := blake2b.New256(nil)
		if err != nil {
			panic(err) // unkeyed blake2b never fails
		}
		return &hasher{b: b}
	},
}

func newHasher() *hasher {
	h := hasherPool.Get().(*hasher)
	h.b.Reset()
	return h
}

func (h *hasher) release() {
	hasherPool.Put(h)
}

func (h *hasher) writeDomain(d Domain) {
	h.b.Write([]byte{byte(d)})
}

func (h *hasher) writeFelt(f common.Felt) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(f))
	h.b.Write(buf[:])
}

func (h *hasher) sum() common.Digest {
	var out [blake2b.Size256]byte
	h.b.Sum(out[:0])
	var d common.Digest
	for i := 0; i < 4; i++ {
		d[i] = common.NewFelt(binary.LittleEndian.Uint64(out[i*8 : i*8+8]))
	}
	return d
}

// HashElements hashes a sequence of field elements under the given domain.
// Basic block digests are computed this way from the operation encoding.
func HashElements(d Domain, elems []common.Felt) common.Digest {
	h := newHasher()
	defer h.release()
	h.writeDomain(d)
	for _, e := range elems {
		h.writeFelt(e)
	}
	return h.sum()
}

// MergeDigests combines two digests under the given domain. Control nodes
// with two children (join, split, loop body with the empty digest, call
// target with the empty digest) derive their digest this way.
func MergeDigests(d Domain, a, b common.Digest) common.Digest {
	h := newHasher()
	defer h.release()
	h.writeDomain(d)
	for i := 0; i < 4; i++ {
		h.writeFelt(a[i])
	}
	for i := 0; i < 4; i++ {
		h.writeFelt(b[i])
	}
	return h.sum()
}

// DomainDigest returns the constant digest of a bare domain tag. Dyn and
// dyncall nodes have no static children, so their digest is just the tag.
func DomainDigest(d Domain) common.Digest {
	h := newHasher()
	defer h.release()
	h.writeDomain(d)
	return h.sum()
}

// MerkleNodeHash computes the digest of a Merkle interior node from its two
// children.
func MerkleNodeHash(left, right common.Digest) common.Digest {
	return MergeDigests(DomainMerkle, left, right)
}

// HashLeaf computes the digest of a Merkle leaf holding one word.
func HashLeaf(w common.Word) common.Digest {
	return HashElements(DomainLeaf, w[:])
}

// HashBytes hashes raw bytes into a digest under the leaf domain. Used for
// content addressing of serialized blobs.
func HashBytes(data []byte) common.Digest {
	h := newHasher()
	defer h.release()
	h.writeDomain(DomainLeaf)
	h.b.Write(data)
	return h.sum()
}

// PermuteState applies the hash permutation to a 12-element sponge state.
// The output is derived from blake2b in counter mode: block i of the new
// state hashes the full input state under the permute domain with counter
// byte i. The rate portion of the state lives in elements 4..11, the
// capacity in 0..3.
func PermuteState(state [PermuteWidth]common.Felt) [PermuteWidth]common.Felt {
	var out [PermuteWidth]common.Felt
	h := newHasher()
	defer h.release()
	for block := 0; block < PermuteWidth/4; block++ {
		h.b.Reset()
		h.writeDomain(DomainPermute)
		h.b.Write([]byte{byte(block)})
		for _, e := range state {
			h.writeFelt(e)
		}
		d := h.sum()
		copy(out[block*4:], d[:])
	}
	return out
}
