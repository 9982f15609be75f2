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

package trace

import (
	"fmt"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/vm"
	"github.com/mastvm/mastvm/core/vm/tracing"
	"github.com/mastvm/mastvm/crypto"
)

// consistencyPanic prefixes every replay divergence message. A divergence
// between the recorded execution and its replay is an engine defect, never
// a user-program fault, so it aborts instead of surfacing as an error.
const consistencyPanic = "trace replay consistency violation: "

// replayBackend serves every nondeterministic response from the recorded
// logs. It never touches memory, the advice provider or the host; writes
// are absorbed, reads are looked up. Each fragment owns one, with cursors
// positioned at its boundary.
type replayBackend struct {
	logs *Logs
	cur  Cursors
}

func (b *replayBackend) nextMemRead(ctx uint32, addr common.Felt, clk uint32, word bool) common.Word {
	if b.cur.MemReads >= len(b.logs.MemReads) {
		panic(consistencyPanic + "memory read log exhausted")
	}
	rec := b.logs.MemReads[b.cur.MemReads]
	b.cur.MemReads++
	if rec.Clk != clk || rec.Ctx != ctx || rec.Addr != uint32(addr) || rec.Word != word {
		panic(fmt.Sprintf("%smemory read mismatch: logged (clk %d ctx %d addr %d word %t), replayed (clk %d ctx %d addr %d word %t)",
			consistencyPanic, rec.Clk, rec.Ctx, rec.Addr, rec.Word, clk, ctx, uint32(addr), word))
	}
	return rec.Value
}

func (b *replayBackend) MemLoad(ctx uint32, addr common.Felt, clk uint32) (common.Felt, error) {
	return b.nextMemRead(ctx, addr, clk, false)[0], nil
}

func (b *replayBackend) MemLoadWord(ctx uint32, addr common.Felt, clk uint32) (common.Word, error) {
	return b.nextMemRead(ctx, addr, clk, true), nil
}

// Writes carry no information a later cycle will read back, since every
// read is served from the log. They are absorbed.

func (b *replayBackend) MemStore(ctx uint32, addr common.Felt, clk uint32, v common.Felt) error {
	return nil
}

func (b *replayBackend) MemStoreWord(ctx uint32, addr common.Felt, clk uint32, w common.Word) error {
	return nil
}

func (b *replayBackend) AdvicePop() (common.Felt, error) {
	rec := b.nextAdviceRead(false)
	return rec.Value[0], nil
}

func (b *replayBackend) AdvicePopWord() (common.Word, error) {
	rec := b.nextAdviceRead(true)
	return rec.Value, nil
}

func (b *replayBackend) nextAdviceRead(word bool) AdviceReadRecord {
	if b.cur.AdviceReads >= len(b.logs.AdviceReads) {
		panic(consistencyPanic + "advice log exhausted")
	}
	rec := b.logs.AdviceReads[b.cur.AdviceReads]
	b.cur.AdviceReads++
	if rec.Word != word {
		panic(consistencyPanic + "advice read shape mismatch")
	}
	return rec
}

func (b *replayBackend) Permute(state [crypto.PermuteWidth]common.Felt) [crypto.PermuteWidth]common.Felt {
	if b.cur.Hasher >= len(b.logs.Hasher) {
		panic(consistencyPanic + "hasher log exhausted")
	}
	rec := b.logs.Hasher[b.cur.Hasher]
	b.cur.Hasher++
	return rec.Output
}

// SaveFrame is absorbed: the matching restore is served from the frame log,
// which also covers restores whose save predates the fragment.
func (b *replayBackend) SaveFrame(f vm.CallFrame) {}

func (b *replayBackend) RestoreFrame() (vm.CallFrame, error) {
	if b.cur.Frames >= len(b.logs.Frames) {
		panic(consistencyPanic + "frame log exhausted")
	}
	rec := b.logs.Frames[b.cur.Frames]
	b.cur.Frames++
	return rec.Frame, nil
}

// Emit never defers during replay. System-event and host-event effects
// reach the machine only through advice reads, and those come from the log.
func (b *replayBackend) Emit(clk uint32, eventID uint32, stack *vm.Stack) (bool, error) {
	return false, nil
}

func (b *replayBackend) nextResolution(digest common.Digest) ResolutionRecord {
	if b.cur.Resolutions >= len(b.logs.Resolutions) {
		panic(consistencyPanic + "resolution log exhausted")
	}
	rec := b.logs.Resolutions[b.cur.Resolutions]
	b.cur.Resolutions++
	if rec.Digest != digest {
		panic(fmt.Sprintf("%sresolution mismatch: logged %s, replayed %s", consistencyPanic, rec.Digest, digest))
	}
	return rec
}

// replayFragment re-executes the cycle range [cp.Clk, endClk) from the
// boundary snapshot and fills rows, one per cycle. It shares nothing
// mutable with other fragments: the program and logs are read-only and the
// row slice is this fragment's private window of the matrix.
func replayFragment(prog *mast.Program, cp Checkpoint, logs *Logs, endClk uint32, rows [][]common.Felt) error {
	stack := vm.NewStack()
	stack.LoadState(cp.Visible, cp.Depth, cp.Overflow)
	sys := vm.NewSystem()
	sys.LoadState(cp.Clk, cp.Ctx, cp.Fmp, cp.FnHash, cp.InSyscall, cp.NextCtx)
	backend := &replayBackend{logs: logs, cur: cp.Cursors}

	rowIdx := 0
	hooks := &tracing.Hooks{
		OnCycle: func(clk uint32, node mast.NodeID, op mast.OpCode, opIdx int, scope tracing.OpContext) {
			m := scope.(machine)
			if rowIdx >= len(rows) || clk != cp.Clk+uint32(rowIdx) {
				panic(fmt.Sprintf("%sclock skew at replayed cycle %d, fragment start %d row %d", consistencyPanic, clk, cp.Clk, rowIdx))
			}
			fillRow(rows[rowIdx], clk, node, op, opIdx, m.System(), m.Stack())
			rowIdx++
		},
	}

	d := vm.NewDispatcher(prog, stack, sys, backend, hooks, 0)
	d.LoadContinuations(cp.Conts)
	if cp.Forest != nil {
		d.SetActiveForest(cp.Forest)
	}

	for sys.Clk() < endClk {
		brk, err := d.Step()
		if err != nil {
			return err
		}
		if brk == nil {
			continue
		}
		switch brk.Kind {
		case vm.BreakDone:
			panic(fmt.Sprintf("%sfragment [%d, %d) completed early at cycle %d", consistencyPanic, cp.Clk, endClk, sys.Clk()))
		case vm.BreakResolveExternal:
			rec := backend.nextResolution(brk.Digest)
			if err := d.ProvideResolution(rec.Res.Forest, rec.Res.Root); err != nil {
				return err
			}
		case vm.BreakDispatchEvent:
			panic(consistencyPanic + "host event dispatched during replay")
		}
	}
	if rowIdx != len(rows) {
		panic(fmt.Sprintf("%sfragment [%d, %d) produced %d rows, want %d", consistencyPanic, cp.Clk, endClk, rowIdx, len(rows)))
	}
	return nil
}
