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

import (
	"fmt"
	"strings"

	"github.com/mastvm/mastvm/common"
)

// Op is one operation inside a basic block. Imm is meaningful only for
// opcodes with HasImmediate: the pushed value for PUSH, the error code for
// ASSERT and the event id for EMIT.
type Op struct {
	Code OpCode
	Imm  common.Felt
}

// NewOp returns an operation without an immediate.
func NewOp(code OpCode) Op {
	return Op{Code: code}
}

// Push returns a PUSH operation carrying the given value.
func Push(v common.Felt) Op {
	return Op{Code: PUSH, Imm: v}
}

// Assert returns an ASSERT operation annotated with an error code. Code zero
// means no annotation.
func Assert(errCode uint32) Op {
	return Op{Code: ASSERT, Imm: common.Felt(errCode)}
}

// Emit returns an EMIT operation carrying an event id.
func Emit(eventID uint32) Op {
	return Op{Code: EMIT, Imm: common.Felt(eventID)}
}

func (op Op) String() string {
	if op.Code.HasImmediate() {
		return fmt.Sprintf("%s(%d)", op.Code, uint64(op.Imm))
	}
	return op.Code.String()
}

// EventID returns the immediate of an EMIT operation.
func (op Op) EventID() uint32 {
	return uint32(op.Imm)
}

// ErrCode returns the immediate of an ASSERT operation.
func (op Op) ErrCode() uint64 {
	return uint64(op.Imm)
}

// encodeOps flattens an operation list into field elements for hashing.
// Every operation contributes exactly two elements (opcode, immediate) after
// a leading length element, so distinct lists never alias.
func encodeOps(ops []Op) []common.Felt {
	out := make([]common.Felt, 0, 1+2*len(ops))
	out = append(out, common.Felt(len(ops)))
	for _, op := range ops {
		out = append(out, common.Felt(op.Code), op.Imm)
	}
	return out
}

// OpsString renders an operation list in assembly-listing form.
func OpsString(ops []Op) string {
	var sb strings.Builder
	for i, op := range ops {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(op.String())
	}
	return sb.String()
}
