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

package store

import (
	"testing"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testForest(t *testing.T, ops ...mast.Op) *mast.Forest {
	t.Helper()
	b := mast.NewBuilder()
	blk, err := b.AddBlock(ops)
	require.NoError(t, err)
	require.NoError(t, b.AddRoot(blk))
	f, err := b.Build()
	require.NoError(t, err)
	return f
}

func TestMemStore(t *testing.T) {
	f := testForest(t, mast.Push(1), mast.NewOp(mast.ADD))
	digest := f.Node(f.Roots()[0]).Digest()

	s := NewMemStore()
	_, err := s.Resolve(digest)
	assert.ErrorIs(t, err, ErrDigestNotFound)

	s.AddForest(f)
	assert.Equal(t, 1, s.Len())
	res, err := s.Resolve(digest)
	require.NoError(t, err)
	assert.Equal(t, f, res.Forest)
	assert.Equal(t, f.Roots()[0], res.Root)

	assert.ErrorIs(t, s.Add(f, 77), mast.ErrUnknownNodeID)
}

func TestMemStoreImport(t *testing.T) {
	f1 := testForest(t, mast.NewOp(mast.ADD))
	f2 := testForest(t, mast.NewOp(mast.MUL))

	s := NewMemStore()
	s.Import([]*mast.Forest{f1, f2})
	assert.Equal(t, 2, s.Len())

	res, err := s.Resolve(f2.Node(f2.Roots()[0]).Digest())
	require.NoError(t, err)
	assert.Equal(t, f2, res.Forest)
}

type countingResolver struct {
	inner Resolver
	calls int
}

func (c *countingResolver) Resolve(d common.Digest) (Resolution, error) {
	c.calls++
	return c.inner.Resolve(d)
}

func TestCachedResolver(t *testing.T) {
	f := testForest(t, mast.NewOp(mast.SWAP))
	digest := f.Node(f.Roots()[0]).Digest()
	mem := NewMemStore()
	counting := &countingResolver{inner: mem}
	cached, err := NewCachedResolver(counting, 16)
	require.NoError(t, err)

	// A miss is not cached.
	_, err = cached.Resolve(digest)
	assert.ErrorIs(t, err, ErrDigestNotFound)
	require.Equal(t, 1, counting.calls)

	mem.AddForest(f)
	for i := 0; i < 3; i++ {
		res, err := cached.Resolve(digest)
		require.NoError(t, err)
		assert.Equal(t, f, res.Forest)
	}
	assert.Equal(t, 2, counting.calls, "hits after the first must come from the cache")
}

func TestChainResolver(t *testing.T) {
	f1 := testForest(t, mast.NewOp(mast.ADD))
	f2 := testForest(t, mast.NewOp(mast.MUL))
	d1 := f1.Node(f1.Roots()[0]).Digest()
	d2 := f2.Node(f2.Roots()[0]).Digest()

	s1, s2 := NewMemStore(), NewMemStore()
	s1.AddForest(f1)
	s2.AddForest(f2)
	chain := ChainResolver{s1, s2}

	res, err := chain.Resolve(d2)
	require.NoError(t, err)
	assert.Equal(t, f2, res.Forest)
	res, err = chain.Resolve(d1)
	require.NoError(t, err)
	assert.Equal(t, f1, res.Forest)

	_, err = chain.Resolve(common.Digest{0xde, 0xad})
	assert.ErrorIs(t, err, ErrDigestNotFound)
}

func TestDiskStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDiskStore(dir, 1<<20)
	require.NoError(t, err)

	f := testForest(t, mast.Push(7), mast.NewOp(mast.MUL))
	digest := f.Node(f.Roots()[0]).Digest()
	require.NoError(t, s.PutForest(f))

	ok, err := s.Has(digest)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Has(common.Digest{1})
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := s.Resolve(digest)
	require.NoError(t, err)
	assert.Equal(t, digest, res.Forest.Node(res.Root).Digest())
	assert.Equal(t, f.NumNodes(), res.Forest.NumNodes())

	// Second open must be refused while the lock is held.
	_, err = OpenDiskStore(dir, 1<<20)
	assert.ErrorIs(t, err, errDatadirUsed)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "double close is a no-op")

	// Contents survive a reopen.
	s2, err := OpenDiskStore(dir, 1<<20)
	require.NoError(t, err)
	defer s2.Close()
	res, err = s2.Resolve(digest)
	require.NoError(t, err)
	assert.Equal(t, digest, res.Forest.Node(res.Root).Digest())

	_, err = s2.Resolve(common.Digest{9, 9})
	assert.ErrorIs(t, err, ErrDigestNotFound)
}
