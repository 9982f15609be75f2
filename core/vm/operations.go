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

package vm

import (
	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/params"
)

// opFunc executes one operation against the machine. The dispatcher has
// already emitted the cycle's trace row; the function only applies the
// state transition.
type opFunc func(d *Dispatcher, op mast.Op) error

// jumpTable maps opcodes to their implementations. Pseudo-opcodes have no
// entry; the dispatcher executes those directly.
var jumpTable [256]opFunc

func init() {
	for code, fn := range map[mast.OpCode]opFunc{
		mast.NOOP:      opNoop,
		mast.ASSERT:    opAssert,
		mast.FMPADD:    opFmpAdd,
		mast.FMPUPDATE: opFmpUpdate,
		mast.CLK:       opClk,
		mast.SDEPTH:    opSDepth,
		mast.CALLER:    opCaller,
		mast.EMIT:      opEmit,

		mast.ADD:  opAdd,
		mast.NEG:  opNeg,
		mast.MUL:  opMul,
		mast.INV:  opInv,
		mast.INCR: opIncr,
		mast.AND:  opAnd,
		mast.OR:   opOr,
		mast.NOT:  opNot,
		mast.EQ:   opEq,
		mast.EQZ:  opEqz,
		mast.EXP:  opExp,

		mast.U32SPLIT:  opU32Split,
		mast.U32ADD:    opU32Add,
		mast.U32SUB:    opU32Sub,
		mast.U32MUL:    opU32Mul,
		mast.U32AND:    opU32And,
		mast.U32XOR:    opU32Xor,
		mast.U32ASSERT: opU32Assert,

		mast.PAD:    opPad,
		mast.DROP:   opDrop,
		mast.DUP0:   makeDup(0),
		mast.DUP1:   makeDup(1),
		mast.DUP2:   makeDup(2),
		mast.DUP3:   makeDup(3),
		mast.DUP7:   makeDup(7),
		mast.SWAP:   opSwap,
		mast.SWAPW:  opSwapW,
		mast.MOVUP2: opMovUp2,
		mast.MOVDN2: opMovDn2,
		mast.CSWAP:  opCSwap,

		mast.PUSH: opPush,

		mast.MLOAD:   opMLoad,
		mast.MLOADW:  opMLoadW,
		mast.MSTORE:  opMStore,
		mast.MSTOREW: opMStoreW,
		mast.MSTREAM: opMStream,

		mast.ADVPOP:  opAdvPop,
		mast.ADVPOPW: opAdvPopW,

		mast.HPERM: opHPerm,
	} {
		jumpTable[code] = fn
	}
}

// System operations.

func opNoop(d *Dispatcher, op mast.Op) error {
	return nil
}

func opAssert(d *Dispatcher, op mast.Op) error {
	if !d.stack.Get(0).IsOne() {
		code := op.ErrCode()
		msg, _ := d.forest.ErrorMessage(code)
		return &ErrFailedAssertion{Clk: d.sys.Clk(), ErrCode: code, Msg: msg}
	}
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func opFmpAdd(d *Dispatcher, op mast.Op) error {
	d.stack.Set(0, d.stack.Get(0).Add(d.sys.Fmp()))
	return nil
}

func opFmpUpdate(d *Dispatcher, op mast.Op) error {
	old := d.sys.Fmp()
	next := old.Add(d.stack.Get(0))
	if uint64(next) < params.FmpMin || uint64(next) >= params.FmpCeiling {
		return &ErrInvalidFmpValue{Old: old, New: next}
	}
	d.sys.SetFmp(next)
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func opClk(d *Dispatcher, op mast.Op) error {
	clk := d.sys.Clk()
	d.stack.ShiftRight(clk, 0)
	d.stack.Set(0, common.Felt(clk))
	return nil
}

func opSDepth(d *Dispatcher, op mast.Op) error {
	depth := d.stack.Depth()
	d.stack.ShiftRight(d.sys.Clk(), 0)
	d.stack.Set(0, common.NewFelt(uint64(depth)))
	return nil
}

func opCaller(d *Dispatcher, op mast.Op) error {
	if !d.sys.InSyscall() {
		return ErrCallerOutsideSyscall
	}
	d.stack.SetWord(0, d.sys.FnHash().Word())
	return nil
}

func opEmit(d *Dispatcher, op mast.Op) error {
	eventID := op.EventID()
	clk := d.sys.Clk()
	deferred, err := d.backend.Emit(clk, eventID, d.stack)
	if err != nil {
		return &ErrEventFailed{EventID: eventID, Err: err}
	}
	if d.hooks.OnEvent != nil {
		d.hooks.OnEvent(clk, eventID)
	}
	if deferred {
		d.pending = &Break{Kind: BreakDispatchEvent, EventID: eventID}
	}
	return nil
}

// Field operations.

func opAdd(d *Dispatcher, op mast.Op) error {
	d.stack.Set(1, d.stack.Get(1).Add(d.stack.Get(0)))
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func opNeg(d *Dispatcher, op mast.Op) error {
	d.stack.Set(0, d.stack.Get(0).Neg())
	return nil
}

func opMul(d *Dispatcher, op mast.Op) error {
	d.stack.Set(1, d.stack.Get(1).Mul(d.stack.Get(0)))
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func opInv(d *Dispatcher, op mast.Op) error {
	v := d.stack.Get(0)
	if v.IsZero() {
		return ErrDivisionByZero
	}
	d.stack.Set(0, v.Inv())
	return nil
}

func opIncr(d *Dispatcher, op mast.Op) error {
	d.stack.Set(0, d.stack.Get(0).Add(1))
	return nil
}

func binaryOperand(d *Dispatcher, i int) (common.Felt, error) {
	v := d.stack.Get(i)
	if !v.IsBinary() {
		return 0, &ErrNotBinaryValue{Value: v}
	}
	return v, nil
}

func opAnd(d *Dispatcher, op mast.Op) error {
	b, err := binaryOperand(d, 0)
	if err != nil {
		return err
	}
	a, err := binaryOperand(d, 1)
	if err != nil {
		return err
	}
	d.stack.Set(1, a.Mul(b))
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func opOr(d *Dispatcher, op mast.Op) error {
	b, err := binaryOperand(d, 0)
	if err != nil {
		return err
	}
	a, err := binaryOperand(d, 1)
	if err != nil {
		return err
	}
	d.stack.Set(1, a.Add(b).Sub(a.Mul(b)))
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func opNot(d *Dispatcher, op mast.Op) error {
	a, err := binaryOperand(d, 0)
	if err != nil {
		return err
	}
	d.stack.Set(0, common.Felt(1).Sub(a))
	return nil
}

func opEq(d *Dispatcher, op mast.Op) error {
	var res common.Felt
	if d.stack.Get(0) == d.stack.Get(1) {
		res = 1
	}
	d.stack.Set(1, res)
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func opEqz(d *Dispatcher, op mast.Op) error {
	var res common.Felt
	if d.stack.Get(0).IsZero() {
		res = 1
	}
	d.stack.Set(0, res)
	return nil
}

func opExp(d *Dispatcher, op mast.Op) error {
	exp := d.stack.Get(0)
	base := d.stack.Get(1)
	d.stack.Set(1, base.Exp(exp.Uint64()))
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

// U32 operations. Operands must already be in u32 range; out-of-range
// values fail instead of wrapping silently.

func u32Operand(d *Dispatcher, i int) (uint64, error) {
	v := d.stack.Get(i)
	if !v.FitsU32() {
		return 0, &ErrNotU32Value{Value: v}
	}
	return v.Uint64(), nil
}

func opU32Split(d *Dispatcher, op mast.Op) error {
	lo, hi := d.stack.Get(0).AsU32()
	d.stack.ShiftRight(d.sys.Clk(), 0)
	d.stack.Set(0, hi)
	d.stack.Set(1, lo)
	return nil
}

func opU32Add(d *Dispatcher, op mast.Op) error {
	b, err := u32Operand(d, 0)
	if err != nil {
		return err
	}
	a, err := u32Operand(d, 1)
	if err != nil {
		return err
	}
	sum := a + b
	d.stack.Set(0, common.Felt(sum>>32))
	d.stack.Set(1, common.Felt(sum&0xffffffff))
	return nil
}

func opU32Sub(d *Dispatcher, op mast.Op) error {
	b, err := u32Operand(d, 0)
	if err != nil {
		return err
	}
	a, err := u32Operand(d, 1)
	if err != nil {
		return err
	}
	var borrow common.Felt
	if a < b {
		borrow = 1
	}
	d.stack.Set(0, borrow)
	d.stack.Set(1, common.Felt((a-b)&0xffffffff))
	return nil
}

func opU32Mul(d *Dispatcher, op mast.Op) error {
	b, err := u32Operand(d, 0)
	if err != nil {
		return err
	}
	a, err := u32Operand(d, 1)
	if err != nil {
		return err
	}
	prod := a * b
	d.stack.Set(0, common.Felt(prod>>32))
	d.stack.Set(1, common.Felt(prod&0xffffffff))
	return nil
}

func opU32And(d *Dispatcher, op mast.Op) error {
	b, err := u32Operand(d, 0)
	if err != nil {
		return err
	}
	a, err := u32Operand(d, 1)
	if err != nil {
		return err
	}
	d.stack.Set(1, common.Felt(a&b))
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func opU32Xor(d *Dispatcher, op mast.Op) error {
	b, err := u32Operand(d, 0)
	if err != nil {
		return err
	}
	a, err := u32Operand(d, 1)
	if err != nil {
		return err
	}
	d.stack.Set(1, common.Felt(a^b))
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func opU32Assert(d *Dispatcher, op mast.Op) error {
	if _, err := u32Operand(d, 0); err != nil {
		return err
	}
	return nil
}

// Stack operations.

func opPad(d *Dispatcher, op mast.Op) error {
	d.stack.ShiftRight(d.sys.Clk(), 0)
	d.stack.Set(0, 0)
	return nil
}

func opDrop(d *Dispatcher, op mast.Op) error {
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	return nil
}

func makeDup(n int) opFunc {
	return func(d *Dispatcher, op mast.Op) error {
		v := d.stack.Get(n)
		d.stack.ShiftRight(d.sys.Clk(), 0)
		d.stack.Set(0, v)
		return nil
	}
}

func opSwap(d *Dispatcher, op mast.Op) error {
	a, b := d.stack.Get(0), d.stack.Get(1)
	d.stack.Set(0, b)
	d.stack.Set(1, a)
	return nil
}

func opSwapW(d *Dispatcher, op mast.Op) error {
	w0, w1 := d.stack.GetWord(0), d.stack.GetWord(4)
	d.stack.SetWord(0, w1)
	d.stack.SetWord(4, w0)
	return nil
}

func opMovUp2(d *Dispatcher, op mast.Op) error {
	v := d.stack.Get(2)
	d.stack.Set(2, d.stack.Get(1))
	d.stack.Set(1, d.stack.Get(0))
	d.stack.Set(0, v)
	return nil
}

func opMovDn2(d *Dispatcher, op mast.Op) error {
	v := d.stack.Get(0)
	d.stack.Set(0, d.stack.Get(1))
	d.stack.Set(1, d.stack.Get(2))
	d.stack.Set(2, v)
	return nil
}

func opCSwap(d *Dispatcher, op mast.Op) error {
	cond, err := binaryOperand(d, 0)
	if err != nil {
		return err
	}
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	if cond.IsOne() {
		a, b := d.stack.Get(0), d.stack.Get(1)
		d.stack.Set(0, b)
		d.stack.Set(1, a)
	}
	return nil
}

// Immediates.

func opPush(d *Dispatcher, op mast.Op) error {
	d.stack.ShiftRight(d.sys.Clk(), 0)
	d.stack.Set(0, op.Imm)
	return nil
}

// Memory operations. Addresses travel as felts; the backend validates
// them against the ceiling and alignment rules.

func opMLoad(d *Dispatcher, op mast.Op) error {
	v, err := d.backend.MemLoad(d.sys.Ctx(), d.stack.Get(0), d.sys.Clk())
	if err != nil {
		return err
	}
	d.stack.Set(0, v)
	return nil
}

func opMLoadW(d *Dispatcher, op mast.Op) error {
	clk := d.sys.Clk()
	w, err := d.backend.MemLoadWord(d.sys.Ctx(), d.stack.Get(0), clk)
	if err != nil {
		return err
	}
	d.stack.ShiftLeft(clk, 0)
	d.stack.SetWord(0, w)
	return nil
}

func opMStore(d *Dispatcher, op mast.Op) error {
	addr := d.stack.Get(0)
	clk := d.sys.Clk()
	d.stack.ShiftLeft(clk, 0)
	if err := d.backend.MemStore(d.sys.Ctx(), addr, clk, d.stack.Get(0)); err != nil {
		return err
	}
	d.stack.ShiftLeft(clk, 0)
	return nil
}

func opMStoreW(d *Dispatcher, op mast.Op) error {
	addr := d.stack.Get(0)
	clk := d.sys.Clk()
	d.stack.ShiftLeft(clk, 0)
	return d.backend.MemStoreWord(d.sys.Ctx(), addr, clk, d.stack.GetWord(0))
}

func opMStream(d *Dispatcher, op mast.Op) error {
	addr := d.stack.Get(8)
	clk := d.sys.Clk()
	ctx := d.sys.Ctx()
	w0, err := d.backend.MemLoadWord(ctx, addr, clk)
	if err != nil {
		return err
	}
	w1, err := d.backend.MemLoadWord(ctx, addr.Add(params.WordSize), clk)
	if err != nil {
		return err
	}
	d.stack.SetWord(0, w0)
	d.stack.SetWord(4, w1)
	d.stack.Set(8, addr.Add(2*params.WordSize))
	return nil
}

// Advice operations.

func opAdvPop(d *Dispatcher, op mast.Op) error {
	v, err := d.backend.AdvicePop()
	if err != nil {
		return err
	}
	d.stack.ShiftRight(d.sys.Clk(), 0)
	d.stack.Set(0, v)
	return nil
}

func opAdvPopW(d *Dispatcher, op mast.Op) error {
	w, err := d.backend.AdvicePopWord()
	if err != nil {
		return err
	}
	d.stack.SetWord(0, w)
	return nil
}

// Crypto operations.

func opHPerm(d *Dispatcher, op mast.Op) error {
	var state [12]common.Felt
	for i := range state {
		state[i] = d.stack.Get(i)
	}
	out := d.backend.Permute(state)
	for i, v := range out {
		d.stack.Set(i, v)
	}
	return nil
}
