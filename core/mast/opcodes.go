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

package mast

import "fmt"

// OpCode is a single byte identifying one operation inside a basic block.
type OpCode byte

// 0x00 range - system operations.
const (
	NOOP      OpCode = 0x00
	ASSERT    OpCode = 0x01
	FMPADD    OpCode = 0x02
	FMPUPDATE OpCode = 0x03
	CLK       OpCode = 0x04
	SDEPTH    OpCode = 0x05
	CALLER    OpCode = 0x06
	EMIT      OpCode = 0x07
)

// 0x10 range - field arithmetic.
const (
	ADD  OpCode = 0x10
	NEG  OpCode = 0x11
	MUL  OpCode = 0x12
	INV  OpCode = 0x13
	INCR OpCode = 0x14
	AND  OpCode = 0x15
	OR   OpCode = 0x16
	NOT  OpCode = 0x17
	EQ   OpCode = 0x18
	EQZ  OpCode = 0x19
	EXP  OpCode = 0x1a
)

// 0x30 range - u32 operations.
const (
	U32SPLIT  OpCode = 0x30
	U32ADD    OpCode = 0x31
	U32SUB    OpCode = 0x32
	U32MUL    OpCode = 0x33
	U32AND    OpCode = 0x34
	U32XOR    OpCode = 0x35
	U32ASSERT OpCode = 0x36
)

// 0x40 range - stack manipulation.
const (
	PAD    OpCode = 0x40
	DROP   OpCode = 0x41
	DUP0   OpCode = 0x42
	DUP1   OpCode = 0x43
	DUP2   OpCode = 0x44
	DUP3   OpCode = 0x45
	DUP7   OpCode = 0x46
	SWAP   OpCode = 0x47
	SWAPW  OpCode = 0x48
	MOVUP2 OpCode = 0x49
	MOVDN2 OpCode = 0x4a
	CSWAP  OpCode = 0x4b
)

// 0x50 range - immediates.
const (
	PUSH OpCode = 0x50
)

// 0x60 range - memory operations.
const (
	MLOAD   OpCode = 0x60
	MLOADW  OpCode = 0x61
	MSTORE  OpCode = 0x62
	MSTOREW OpCode = 0x63
	MSTREAM OpCode = 0x64
)

// 0x70 range - advice injection.
const (
	ADVPOP  OpCode = 0x70
	ADVPOPW OpCode = 0x71
)

// 0x80 range - crypto.
const (
	HPERM OpCode = 0x80
)

// 0xd0 range - decoder pseudo-opcodes. These never appear inside a basic
// block; the trace decoder columns use them to mark node starts, finishes
// and padding.
const (
	JOIN    OpCode = 0xd0
	SPLIT   OpCode = 0xd1
	LOOP    OpCode = 0xd2
	REPEAT  OpCode = 0xd3
	END     OpCode = 0xd4
	CALL    OpCode = 0xd5
	SYSCALL OpCode = 0xd6
	DYN     OpCode = 0xd7
	DYNCALL OpCode = 0xd8
	HALT    OpCode = 0xdf
)

var opCodeToString = map[OpCode]string{
	NOOP:      "NOOP",
	ASSERT:    "ASSERT",
	FMPADD:    "FMPADD",
	FMPUPDATE: "FMPUPDATE",
	CLK:       "CLK",
	SDEPTH:    "SDEPTH",
	CALLER:    "CALLER",
	EMIT:      "EMIT",

	ADD:  "ADD",
	NEG:  "NEG",
	MUL:  "MUL",
	INV:  "INV",
	INCR: "INCR",
	AND:  "AND",
	OR:   "OR",
	NOT:  "NOT",
	EQ:   "EQ",
	EQZ:  "EQZ",
	EXP:  "EXP",

	U32SPLIT:  "U32SPLIT",
	U32ADD:    "U32ADD",
	U32SUB:    "U32SUB",
	U32MUL:    "U32MUL",
	U32AND:    "U32AND",
	U32XOR:    "U32XOR",
	U32ASSERT: "U32ASSERT",

	PAD:    "PAD",
	DROP:   "DROP",
	DUP0:   "DUP0",
	DUP1:   "DUP1",
	DUP2:   "DUP2",
	DUP3:   "DUP3",
	DUP7:   "DUP7",
	SWAP:   "SWAP",
	SWAPW:  "SWAPW",
	MOVUP2: "MOVUP2",
	MOVDN2: "MOVDN2",
	CSWAP:  "CSWAP",

	PUSH: "PUSH",

	MLOAD:   "MLOAD",
	MLOADW:  "MLOADW",
	MSTORE:  "MSTORE",
	MSTOREW: "MSTOREW",
	MSTREAM: "MSTREAM",

	ADVPOP:  "ADVPOP",
	ADVPOPW: "ADVPOPW",

	HPERM: "HPERM",

	JOIN:    "JOIN",
	SPLIT:   "SPLIT",
	LOOP:    "LOOP",
	REPEAT:  "REPEAT",
	END:     "END",
	CALL:    "CALL",
	SYSCALL: "SYSCALL",
	DYN:     "DYN",
	DYNCALL: "DYNCALL",
	HALT:    "HALT",
}

var stringToOp = func() map[string]OpCode {
	m := make(map[string]OpCode, len(opCodeToString))
	for op, name := range opCodeToString {
		m[name] = op
	}
	return m
}()

func (op OpCode) String() string {
	if s, ok := opCodeToString[op]; ok {
		return s
	}
	return fmt.Sprintf("opcode %#x not defined", int(op))
}

// StringToOp finds the opcode whose string representation is stated as input.
func StringToOp(str string) OpCode {
	return stringToOp[str]
}

// Valid reports whether the opcode is defined.
func (op OpCode) Valid() bool {
	_, ok := opCodeToString[op]
	return ok
}

// IsPseudo reports whether the opcode is a decoder pseudo-opcode, which may
// appear in trace rows but never inside a basic block.
func (op OpCode) IsPseudo() bool {
	return op >= JOIN
}

// HasImmediate reports whether the opcode carries an immediate value.
func (op OpCode) HasImmediate() bool {
	switch op {
	case PUSH, ASSERT, EMIT:
		return true
	}
	return false
}
