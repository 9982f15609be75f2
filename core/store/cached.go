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
	lru "github.com/hashicorp/golang-lru"
	"github.com/mastvm/mastvm/common"
	metrics "github.com/rcrowley/go-metrics"
)

var (
	cacheHitMeter  = metrics.NewRegisteredMeter("store/cache/hit", nil)
	cacheMissMeter = metrics.NewRegisteredMeter("store/cache/miss", nil)
)

// CachedResolver memoizes successful resolutions of a slower inner
// resolver. Misses are not cached, so digests published later are still
// found.
type CachedResolver struct {
	inner Resolver
	cache *lru.ARCCache
}

// NewCachedResolver wraps the inner resolver with an ARC cache of the given
// entry count.
func NewCachedResolver(inner Resolver, size int) (*CachedResolver, error) {
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{inner: inner, cache: cache}, nil
}

// Resolve implements Resolver.
func (c *CachedResolver) Resolve(digest common.Digest) (Resolution, error) {
	if v, ok := c.cache.Get(digest); ok {
		cacheHitMeter.Mark(1)
		return v.(Resolution), nil
	}
	res, err := c.inner.Resolve(digest)
	if err != nil {
		return Resolution{}, err
	}
	cacheMissMeter.Mark(1)
	c.cache.Add(digest, res)
	return res, nil
}
