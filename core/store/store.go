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

// Package store provides resolution of procedure digests to executable
// subtrees: an in-memory store, an LRU-cached wrapper, a chain combinator
// and a persistent disk store.
package store

import (
	"errors"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/common/prlock"
	"github.com/mastvm/mastvm/core/mast"
)

// ErrDigestNotFound is returned when no store knows the requested digest.
var ErrDigestNotFound = errors.New("store: digest not found")

// Resolution is a resolved procedure: the forest holding it plus the node
// to start from.
type Resolution struct {
	Forest *mast.Forest
	Root   mast.NodeID
}

// Resolver maps procedure digests to executable subtrees.
type Resolver interface {
	Resolve(digest common.Digest) (Resolution, error)
}

// MemStore is a map-backed resolver. Typically seeded with every library
// forest before execution starts; safe for concurrent use. Publishes that
// unblock a suspended execution take priority over bulk imports.
type MemStore struct {
	mu      *prlock.Prlock
	entries map[common.Digest]Resolution
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{mu: prlock.New(), entries: make(map[common.Digest]Resolution)}
}

// AddForest registers every root of the forest under its digest.
func (s *MemStore) AddForest(f *mast.Forest) {
	s.mu.LockHigh()
	defer s.mu.UnlockHigh()
	for _, root := range f.Roots() {
		s.entries[f.Node(root).Digest()] = Resolution{Forest: f, Root: root}
	}
}

// Add registers a single node of the forest under its digest.
func (s *MemStore) Add(f *mast.Forest, id mast.NodeID) error {
	n := f.Node(id)
	if n == nil {
		return mast.ErrUnknownNodeID
	}
	s.mu.LockHigh()
	defer s.mu.UnlockHigh()
	s.entries[n.Digest()] = Resolution{Forest: f, Root: id}
	return nil
}

// Import seeds the store with many forests at once. It runs at low lock
// priority so a concurrent AddForest answering an executing program is not
// stuck behind it.
func (s *MemStore) Import(forests []*mast.Forest) {
	s.mu.LockLow()
	defer s.mu.UnlockLow()
	for _, f := range forests {
		for _, root := range f.Roots() {
			s.entries[f.Node(root).Digest()] = Resolution{Forest: f, Root: root}
		}
	}
}

// Resolve implements Resolver.
func (s *MemStore) Resolve(digest common.Digest) (Resolution, error) {
	s.mu.LockRead()
	defer s.mu.UnlockRead()
	if res, ok := s.entries[digest]; ok {
		return res, nil
	}
	return Resolution{}, ErrDigestNotFound
}

// Len returns the number of registered digests.
func (s *MemStore) Len() int {
	s.mu.LockRead()
	defer s.mu.UnlockRead()
	return len(s.entries)
}

// ChainResolver tries each resolver in order and returns the first hit.
type ChainResolver []Resolver

// Resolve implements Resolver.
func (c ChainResolver) Resolve(digest common.Digest) (Resolution, error) {
	for _, r := range c {
		res, err := r.Resolve(digest)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrDigestNotFound) {
			return Resolution{}, err
		}
	}
	return Resolution{}, ErrDigestNotFound
}
