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

import "encoding/binary"

// WordSize is the number of base field elements in a word.
const WordSize = 4

// Word is a group of four field elements, the unit in which memory is
// word-addressed and in which digests travel on the operand stack.
// Index 0 holds the first (lowest-addressed) element.
type Word [WordSize]Felt

// EmptyWord is the all-zero word.
var EmptyWord = Word{}

// NewWord builds a word from four integers, reducing each into the field.
func NewWord(e0, e1, e2, e3 uint64) Word {
	return Word{NewFelt(e0), NewFelt(e1), NewFelt(e2), NewFelt(e3)}
}

// WordFromBytes interprets b as four little-endian 64-bit limbs, reducing
// each into the field.
func WordFromBytes(b [32]byte) Word {
	var w Word
	for i := 0; i < WordSize; i++ {
		w[i] = NewFelt(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return w
}

// Bytes returns the 32-byte little-endian limb encoding of the word.
func (w Word) Bytes() [32]byte {
	var b [32]byte
	for i := 0; i < WordSize; i++ {
		binary.LittleEndian.PutUint64(b[i*8:], uint64(w[i]))
	}
	return b
}

// Digest reinterprets the word as a digest.
func (w Word) Digest() Digest { return Digest(w) }

// IsEmpty reports whether all four elements are zero.
func (w Word) IsEmpty() bool { return w == EmptyWord }
