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
	"math/bits"
)

const (
	// FeltModulus is the prime defining the base field, 2^64 - 2^32 + 1.
	FeltModulus uint64 = 0xffffffff00000001

	// epsilon is 2^32 - 1; 2^64 ≡ epsilon (mod FeltModulus).
	epsilon uint64 = 0xffffffff
)

// Felt is an element of the 64-bit prime field with modulus 2^64 - 2^32 + 1.
// The zero value is the field's zero. A Felt is always kept in canonical
// form, i.e. the underlying integer is strictly below the modulus.
type Felt uint64

// NewFelt returns v reduced into the field.
func NewFelt(v uint64) Felt {
	if v >= FeltModulus {
		v -= FeltModulus
	}
	return Felt(v)
}

// FeltFromInt returns the field element for a signed integer, mapping
// negatives to their additive inverse.
func FeltFromInt(v int64) Felt {
	if v >= 0 {
		return NewFelt(uint64(v))
	}
	return NewFelt(uint64(-v)).Neg()
}

// Uint64 returns the canonical integer representation.
func (a Felt) Uint64() uint64 { return uint64(a) }

// IsZero reports whether a is the additive identity.
func (a Felt) IsZero() bool { return a == 0 }

// IsOne reports whether a is the multiplicative identity.
func (a Felt) IsOne() bool { return a == 1 }

// IsBinary reports whether a is 0 or 1.
func (a Felt) IsBinary() bool { return a <= 1 }

// Add returns a + b mod p.
func (a Felt) Add(b Felt) Felt {
	s, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		s += epsilon
	}
	if s >= FeltModulus {
		s -= FeltModulus
	}
	return Felt(s)
}

// Sub returns a - b mod p.
func (a Felt) Sub(b Felt) Felt {
	d, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		d -= epsilon
	}
	return Felt(d)
}

// Neg returns -a mod p.
func (a Felt) Neg() Felt {
	if a == 0 {
		return 0
	}
	return Felt(FeltModulus - uint64(a))
}

// Mul returns a * b mod p using the 2^64 ≡ 2^32 - 1 reduction identity.
func (a Felt) Mul(b Felt) Felt {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	hiHi := hi >> 32
	hiLo := hi & epsilon

	// x = hiHi*2^96 + hiLo*2^64 + lo, with 2^96 ≡ -1 and 2^64 ≡ epsilon.
	t0, borrow := bits.Sub64(lo, hiHi, 0)
	if borrow != 0 {
		t0 -= epsilon
	}
	t1 := hiLo * epsilon
	res, carry := bits.Add64(t0, t1, 0)
	if carry != 0 {
		res += epsilon
	}
	if res >= FeltModulus {
		res -= FeltModulus
	}
	return Felt(res)
}

// Square returns a * a mod p.
func (a Felt) Square() Felt { return a.Mul(a) }

// Exp returns a^e mod p by square-and-multiply.
func (a Felt) Exp(e uint64) Felt {
	result := Felt(1)
	base := a
	for e > 0 {
		if e&1 == 1 {
			result = result.Mul(base)
		}
		base = base.Square()
		e >>= 1
	}
	return result
}

// Inv returns the multiplicative inverse of a, computed as a^(p-2).
// The inverse of zero is defined as zero; operations that must reject a
// zero divisor check before calling.
func (a Felt) Inv() Felt {
	if a == 0 {
		return 0
	}
	return a.Exp(FeltModulus - 2)
}

// Double returns 2a mod p.
func (a Felt) Double() Felt { return a.Add(a) }

// AsU32 splits a into its low and high 32-bit halves of the canonical
// representation. Both returned felts are below 2^32.
func (a Felt) AsU32() (lo, hi Felt) {
	return Felt(uint64(a) & epsilon), Felt(uint64(a) >> 32)
}

// FitsU32 reports whether the canonical representation is below 2^32.
func (a Felt) FitsU32() bool { return uint64(a) <= epsilon }

func (a Felt) String() string {
	return fmt.Sprintf("%d", uint64(a))
}
