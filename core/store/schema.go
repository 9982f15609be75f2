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

import "github.com/mastvm/mastvm/common"

// Disk store key schema. Forest blobs are content addressed; root digests
// index into them.
var (
	// forestBlobPrefix + blob hash -> serialized forest
	forestBlobPrefix = []byte("f")

	// rootIndexPrefix + procedure digest -> blob hash
	rootIndexPrefix = []byte("m")
)

func forestBlobKey(blobHash common.Digest) []byte {
	b := blobHash.Bytes()
	return append(append([]byte(nil), forestBlobPrefix...), b[:]...)
}

func rootIndexKey(digest common.Digest) []byte {
	b := digest.Bytes()
	return append(append([]byte(nil), rootIndexPrefix...), b[:]...)
}
