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

package crypto

import (
	"testing"

	"github.com/mastvm/mastvm/common"
)

func TestHashElementsDeterministic(t *testing.T) {
	elems := []common.Felt{1, 2, 3, common.NewFelt(common.FeltModulus - 1)}
	a := HashElements(DomainBlock, elems)
	b := HashElements(DomainBlock, elems)
	if a != b {
		t.Fatalf("same input hashed to %v and %v", a, b)
	}
	if a.IsEmpty() {
		t.Fatal("digest of non-empty input is empty")
	}
}

func TestDomainSeparation(t *testing.T) {
	elems := []common.Felt{7, 7, 7, 7}
	if HashElements(DomainBlock, elems) == HashElements(DomainJoin, elems) {
		t.Fatal("different domains produced the same digest")
	}
	l, r := HashLeaf(common.Word{1}), HashLeaf(common.Word{2})
	if MergeDigests(DomainJoin, l, r) == MerkleNodeHash(l, r) {
		t.Fatal("join merge collided with merkle merge")
	}
}

func TestMergeOrderMatters(t *testing.T) {
	a := HashElements(DomainBlock, []common.Felt{1})
	b := HashElements(DomainBlock, []common.Felt{2})
	if MergeDigests(DomainJoin, a, b) == MergeDigests(DomainJoin, b, a) {
		t.Fatal("merge is commutative, node digests would be ambiguous")
	}
}

func TestDomainDigestConstants(t *testing.T) {
	dyn := DomainDigest(DomainDyn)
	dyncall := DomainDigest(DomainDyncall)
	if dyn == dyncall {
		t.Fatal("dyn and dyncall constants collide")
	}
	if dyn != DomainDigest(DomainDyn) {
		t.Fatal("domain constant is not stable")
	}
}

func TestDigestElementsCanonical(t *testing.T) {
	for i, f := range HashBytes([]byte("mastvm")) {
		if uint64(f) >= common.FeltModulus {
			t.Fatalf("digest limb %d not canonical: %#x", i, uint64(f))
		}
	}
}

func BenchmarkMergeDigests(b *testing.B) {
	l, r := HashLeaf(common.Word{1}), HashLeaf(common.Word{2})
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		l = MergeDigests(DomainJoin, l, r)
	}
	sink = l
}

var sink common.Digest
