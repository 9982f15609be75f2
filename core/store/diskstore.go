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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cockroachdb/pebble"
	"github.com/gofrs/flock"
	log "github.com/inconshreveable/log15"
	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/crypto"
	metrics "github.com/rcrowley/go-metrics"
)

var (
	diskGetTimer  = metrics.NewRegisteredTimer("store/disk/get", nil)
	diskPutTimer  = metrics.NewRegisteredTimer("store/disk/put", nil)
	diskHitMeter  = metrics.NewRegisteredMeter("store/disk/cache/hit", nil)
	diskMissMeter = metrics.NewRegisteredMeter("store/disk/cache/miss", nil)
)

// errDatadirUsed is returned when another process holds the store lock.
var errDatadirUsed = errors.New("store: datadir already in use")

// DiskStore is a persistent forest store backed by pebble. Serialized
// forests are content addressed; a second keyspace maps procedure digests
// to the blob holding them. A byte cache absorbs hot blob reads and a file
// lock prevents double opens.
type DiskStore struct {
	datadir string
	db      *pebble.DB
	cache   *fastcache.Cache
	lock    *flock.Flock

	quitLock sync.Mutex
	closed   bool

	log log.Logger
}

// OpenDiskStore opens (creating if needed) a disk store rooted at datadir.
// cacheBytes sizes the in-memory byte cache.
func OpenDiskStore(datadir string, cacheBytes int) (*DiskStore, error) {
	if err := os.MkdirAll(datadir, 0755); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(datadir, "FLOCK"))
	if locked, err := lock.TryLock(); err != nil {
		return nil, err
	} else if !locked {
		return nil, errDatadirUsed
	}
	db, err := pebble.Open(filepath.Join(datadir, "forests"), &pebble.Options{})
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	s := &DiskStore{
		datadir: datadir,
		db:      db,
		cache:   fastcache.New(cacheBytes),
		lock:    lock,
		log:     log.New("database", datadir),
	}
	s.log.Debug("Opened forest store", "cache", cacheBytes)
	return s, nil
}

// PutForest persists the forest and indexes every root digest.
func (s *DiskStore) PutForest(f *mast.Forest) error {
	defer diskPutTimer.UpdateSince(time.Now())

	enc := mast.EncodeForest(f)
	blobHash := crypto.HashBytes(enc)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(forestBlobKey(blobHash), enc, nil); err != nil {
		return err
	}
	blobRef := blobHash.Bytes()
	for _, root := range f.Roots() {
		digest := f.Node(root).Digest()
		if err := batch.Set(rootIndexKey(digest), blobRef[:], nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}
	s.cache.Set(forestBlobKey(blobHash), enc)
	s.log.Debug("Stored forest", "roots", len(f.Roots()), "blob", blobHash, "size", len(enc))
	return nil
}

// Resolve implements Resolver. The returned forest is freshly decoded;
// callers wanting decoded-forest reuse should layer a CachedResolver on
// top.
func (s *DiskStore) Resolve(digest common.Digest) (Resolution, error) {
	defer diskGetTimer.UpdateSince(time.Now())

	blobRef, err := s.get(rootIndexKey(digest))
	if err != nil {
		return Resolution{}, err
	}
	if len(blobRef) != common.DigestLength {
		return Resolution{}, fmt.Errorf("store: corrupt root index entry for %s", digest)
	}
	var blobHash [common.DigestLength]byte
	copy(blobHash[:], blobRef)
	blob, err := s.get(forestBlobKey(common.BytesToDigest(blobHash)))
	if err != nil {
		return Resolution{}, err
	}
	f, err := mast.DecodeForest(blob)
	if err != nil {
		return Resolution{}, err
	}
	id, ok := f.NodeByDigest(digest)
	if !ok {
		return Resolution{}, fmt.Errorf("store: blob for %s does not contain it", digest)
	}
	return Resolution{Forest: f, Root: id}, nil
}

// Has reports whether a procedure digest is indexed.
func (s *DiskStore) Has(digest common.Digest) (bool, error) {
	_, err := s.get(rootIndexKey(digest))
	if errors.Is(err, ErrDigestNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *DiskStore) get(key []byte) ([]byte, error) {
	if v, ok := s.cache.HasGet(nil, key); ok {
		diskHitMeter.Mark(1)
		return v, nil
	}
	diskMissMeter.Mark(1)
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrDigestNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	s.cache.Set(key, out)
	return out, nil
}

// Close releases the database and the directory lock. Safe to call twice.
func (s *DiskStore) Close() error {
	s.quitLock.Lock()
	defer s.quitLock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if lerr := s.lock.Unlock(); err == nil {
		err = lerr
	}
	return err
}
