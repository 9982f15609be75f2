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

package common

import (
	"fmt"

	"github.com/holiman/uint256"
)

// DigestLength is the byte length of a node digest.
const DigestLength = 32

// Digest is the content address of a program node: four field elements,
// 32 bytes in total. Digests are value types and valid map keys; two nodes
// with equal digests are structurally identical by construction.
type Digest [WordSize]Felt

// EmptyDigest is the digest of nothing, used as the padding sibling when a
// digest pair is merged with only one side present.
var EmptyDigest = Digest{}

// NewDigest builds a digest from four integers, reducing each into the field.
func NewDigest(e0, e1, e2, e3 uint64) Digest {
	return Digest{NewFelt(e0), NewFelt(e1), NewFelt(e2), NewFelt(e3)}
}

// BytesToDigest interprets b as four little-endian limbs.
func BytesToDigest(b [32]byte) Digest {
	return Digest(WordFromBytes(b))
}

// HexToDigest parses a 0x-prefixed hex string into a digest. The input is
// interpreted as a 256-bit integer whose little-endian limbs become the
// digest's elements, each reduced into the field.
func HexToDigest(s string) (Digest, error) {
	z, err := uint256.FromHex(s)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	var d Digest
	for i := 0; i < WordSize; i++ {
		d[i] = NewFelt(z[i])
	}
	return d, nil
}

// Word reinterprets the digest as a stack/memory word.
func (d Digest) Word() Word { return Word(d) }

// Bytes returns the 32-byte little-endian limb encoding.
func (d Digest) Bytes() [32]byte { return Word(d).Bytes() }

// U256 returns the digest's limbs as a 256-bit integer. Mainly useful for
// formatting and ordering.
func (d Digest) U256() *uint256.Int {
	z := new(uint256.Int)
	for i := 0; i < WordSize; i++ {
		z[i] = uint64(d[i])
	}
	return z
}

// Hex returns the 0x-prefixed hexadecimal form.
func (d Digest) Hex() string { return d.U256().Hex() }

// Cmp compares two digests as 256-bit integers, giving kernel sets and test
// output a deterministic order.
func (d Digest) Cmp(other Digest) int {
	return d.U256().Cmp(other.U256())
}

// IsEmpty reports whether d is the all-zero digest.
func (d Digest) IsEmpty() bool { return d == EmptyDigest }

// String implements fmt.Stringer, shortening the digest for logs.
func (d Digest) String() string {
	h := d.Hex()
	if len(h) > 14 {
		return h[:10] + "…" + h[len(h)-4:]
	}
	return h
}

// MarshalText encodes the digest for JSON and log output.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText parses a hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := HexToDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
