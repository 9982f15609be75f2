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
	"context"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/store"
	"github.com/mastvm/mastvm/core/vm"
	"github.com/mastvm/mastvm/params"
)

func mustAdd[T any](t *testing.T) func(T, error) T {
	return func(v T, err error) T {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}

// scenarioProgram is join(block[mul], join(block[add], block[swap])): seven
// cycles, with cycle 4 landing mid-traversal on the swap operation while
// both join finishes are still pending.
func scenarioProgram(t *testing.T) (*mast.Program, mast.NodeID) {
	t.Helper()
	b := mast.NewBuilder()
	mul := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.MUL)}))
	add := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.ADD)}))
	swap := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.SWAP)}))
	inner := mustAdd[mast.NodeID](t)(b.AddJoin(add, swap))
	entry := mustAdd[mast.NodeID](t)(b.AddJoin(mul, inner))
	require.NoError(t, b.AddRoot(entry))
	f, err := b.Build()
	require.NoError(t, err)
	prog, err := mast.NewProgram(f, entry, nil)
	require.NoError(t, err)
	return prog, swap
}

func referenceTrace(t *testing.T, prog *mast.Program, inputs vm.StackInputs, advice *vm.AdviceInputs, vmCfg vm.Config) *Trace {
	t.Helper()
	tr, _, err := Execute(context.Background(), prog, inputs, advice, vmCfg, Config{FragmentLength: params.MaxCycles})
	require.NoError(t, err)
	return tr
}

func TestScenarioTraceShape(t *testing.T) {
	prog, _ := scenarioProgram(t)
	tr, res, err := Execute(context.Background(), prog, vm.StackInputs{3, 4, 5}, nil, vm.Config{}, Config{FragmentLength: 4})
	require.NoError(t, err)

	assert.Equal(t, uint32(7), res.Cycles)
	assert.Equal(t, 7, tr.NumProgramRows)
	assert.Equal(t, params.MinTraceLength, tr.Length(), "short traces pad to the minimum height")

	// Decoder column spells out the traversal.
	wantOps := []mast.OpCode{mast.JOIN, mast.MUL, mast.JOIN, mast.ADD, mast.SWAP, mast.END, mast.END}
	for i, op := range wantOps {
		assert.Equal(t, common.Felt(op), tr.Get(i, ColOp), "row %d", i)
	}
	for i := tr.NumProgramRows; i < tr.Length(); i++ {
		assert.Equal(t, common.Felt(mast.HALT), tr.Get(i, ColOp), "padding row %d", i)
	}
}

func TestScenarioFragmentBoundaryState(t *testing.T) {
	prog, swap := scenarioProgram(t)
	inputs := vm.StackInputs{3, 4, 5}

	rec := NewRecorder(4)
	cfg := vm.Config{
		Hooks:       rec.Hooks(nil),
		WrapBackend: func(b vm.Backend) vm.Backend { return rec.WrapBackend(b) },
	}
	_, err := vm.NewProcessor(&cfg).Run(context.Background(), prog, inputs, nil)
	require.NoError(t, err)

	cps := rec.Checkpoints()
	require.Len(t, cps, 2, "cycles 0 and 4")
	cp := cps[1]
	assert.Equal(t, uint32(4), cp.Clk)

	// Mid-traversal: the swap block is about to execute, with both join
	// finishes still pending underneath it.
	require.Len(t, cp.Conts, 3)
	assert.Equal(t, vm.ContFinishJoin, cp.Conts[0].Kind)
	assert.Equal(t, vm.ContFinishJoin, cp.Conts[1].Kind)
	assert.Equal(t, vm.ContStartNode, cp.Conts[2].Kind)
	assert.Equal(t, swap, cp.Conts[2].Node)

	// The reconstructed state must match what the single pass held: the
	// reference trace's row 4 is exactly that state.
	ref := referenceTrace(t, prog, inputs, nil, vm.Config{})
	assert.Equal(t, common.Felt(4), ref.Get(4, ColClk))
	for i := 0; i < params.StackDepth; i++ {
		assert.Equal(t, ref.Get(4, ColStack0+i), cp.Visible[i], "stack slot %d", i)
	}
	assert.Equal(t, ref.Get(4, ColStackDepth), common.NewFelt(uint64(cp.Depth)))
	assert.Equal(t, ref.Get(4, ColCtx), common.Felt(cp.Ctx))
	assert.Equal(t, ref.Get(4, ColFmp), cp.Fmp)
}

func TestClockColumn(t *testing.T) {
	prog, _ := scenarioProgram(t)
	tr := referenceTrace(t, prog, vm.StackInputs{3, 4, 5}, nil, vm.Config{})
	for i := 0; i < tr.Length(); i++ {
		assert.Equal(t, common.Felt(uint32(i)), tr.Get(i, ColClk), "row %d", i)
	}
}

func TestStackDepthFloor(t *testing.T) {
	// Drain an already-empty stack; depth must never drop below sixteen.
	b := mast.NewBuilder()
	blk := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.NewOp(mast.DROP), mast.NewOp(mast.DROP), mast.NewOp(mast.DROP),
		mast.NewOp(mast.DROP), mast.NewOp(mast.DROP), mast.NewOp(mast.DROP),
	}))
	require.NoError(t, b.AddRoot(blk))
	f, err := b.Build()
	require.NoError(t, err)
	prog, err := mast.NewProgram(f, blk, nil)
	require.NoError(t, err)

	tr := referenceTrace(t, prog, vm.StackInputs{1, 2}, nil, vm.Config{})
	for i := 0; i < tr.NumProgramRows; i++ {
		depth := uint64(tr.Get(i, ColStackDepth))
		assert.GreaterOrEqual(t, depth, uint64(params.StackDepth), "row %d", i)
	}
}

func TestScenarioFragmentSizeIndependence(t *testing.T) {
	prog, _ := scenarioProgram(t)
	require.NoError(t, CheckConsistency(context.Background(), prog, vm.StackInputs{3, 4, 5}, nil, vm.Config{}))
}

// richProgram exercises every replay-logged subsystem: both join flavors,
// split, loop, call, syscall, dyn, external resolution, element and word
// memory traffic, advice pops, the hash permutation, a reserved system
// event and a host event, plus overflow spills and restores.
func richProgram(t *testing.T) (*mast.Program, *vm.AdviceInputs, vm.Config) {
	t.Helper()

	// Library forest behind an external reference.
	lb := mast.NewBuilder()
	libProc := mustAdd[mast.NodeID](t)(lb.AddBlock([]mast.Op{mast.NewOp(mast.PAD), mast.NewOp(mast.DROP)}))
	require.NoError(t, lb.AddRoot(libProc))
	lib, err := lb.Build()
	require.NoError(t, err)
	resolver := store.NewMemStore()
	resolver.AddForest(lib)

	b := mast.NewBuilder()

	// Memory setup and loop over it.
	setupMem := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.Push(5), mast.Push(6), mast.NewOp(mast.MUL), mast.Push(12), mast.NewOp(mast.MSTORE),
	}))
	loopBody := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.Push(12), mast.NewOp(mast.MLOAD), mast.NewOp(mast.DROP), mast.Push(0),
	}))
	loop := mustAdd[mast.NodeID](t)(b.AddLoop(loopBody))

	// Conditional call.
	callee := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.Push(3), mast.Push(1), mast.NewOp(mast.U32ADD), mast.NewOp(mast.DROP), mast.NewOp(mast.DROP),
	}))
	onTrue := mustAdd[mast.NodeID](t)(b.AddCall(callee))
	onFalse := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.NOOP)}))
	split := mustAdd[mast.NodeID](t)(b.AddSplit(onTrue, onFalse))

	// System event plus advice drain, then a permutation.
	divide := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.Emit(vm.SysEventU64Div),
		mast.NewOp(mast.ADVPOP), mast.NewOp(mast.ADVPOP),
		mast.NewOp(mast.ADVPOP), mast.NewOp(mast.ADVPOP),
		mast.NewOp(mast.ADD), mast.NewOp(mast.ADD), mast.NewOp(mast.ADD),
	}))
	permute := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.HPERM), mast.NewOp(mast.DROP)}))

	// Dynamic dispatch through memory.
	dynTarget := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(123), mast.NewOp(mast.DROP)}))
	setupDyn := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.NewOp(mast.ADVPOPW), mast.Push(8), mast.NewOp(mast.MSTOREW), mast.Push(8),
	}))
	dyn := mustAdd[mast.NodeID](t)(b.AddDyn())

	// Kernel procedure reached by syscall.
	kernelProc := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.CALLER)}))
	syscall := mustAdd[mast.NodeID](t)(b.AddSyscall(kernelProc))

	// External reference into the library forest.
	ext := mustAdd[mast.NodeID](t)(b.AddExternal(lib.Node(libProc).Digest()))

	// Host event feeding the advice stack.
	const hostEvent = 0x42
	hosted := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.Emit(hostEvent), mast.NewOp(mast.ADVPOP), mast.NewOp(mast.DROP),
	}))

	seq := []mast.NodeID{setupMem, loop, split, divide, permute, setupDyn, dyn, syscall, ext, hosted}
	entry := seq[len(seq)-1]
	for i := len(seq) - 2; i >= 0; i-- {
		entry = mustAdd[mast.NodeID](t)(b.AddJoin(seq[i], entry))
	}
	require.NoError(t, b.AddRoot(entry))
	require.NoError(t, b.AddRoot(dynTarget))
	f, err := b.Build()
	require.NoError(t, err)
	prog, err := mast.NewProgram(f, entry, []common.Digest{f.Node(kernelProc).Digest()})
	require.NoError(t, err)

	digest := f.Node(dynTarget).Digest()
	advice := &vm.AdviceInputs{Stack: []common.Felt{digest[0], digest[1], digest[2], digest[3]}}

	host := vm.NewHandlerHost()
	host.Register(hostEvent, func(ctx context.Context, state vm.StateSnapshot) ([]vm.AdviceMutation, error) {
		return []vm.AdviceMutation{vm.PushStackMutation(777)}, nil
	})

	return prog, advice, vm.Config{Host: host, Resolver: resolver}
}

// richInputs leaves 1 on top for the loop and the split, then divisor and
// dividend limbs for the u64 division.
func richInputs() vm.StackInputs {
	return vm.StackInputs{1, 1, 0, 7, 0, 9}
}

func TestRichProgramConsistency(t *testing.T) {
	prog, advice, vmCfg := richProgram(t)
	require.NoError(t, CheckConsistency(context.Background(), prog, richInputs(), advice, vmCfg))
}

func TestRichProgramOutputsMatchPlainRun(t *testing.T) {
	prog, advice, vmCfg := richProgram(t)

	plain, err := vm.NewProcessor(&vmCfg).Run(context.Background(), prog, richInputs(), advice)
	require.NoError(t, err)

	_, traced, err := Execute(context.Background(), prog, richInputs(), advice, vmCfg, Config{FragmentLength: 3})
	require.NoError(t, err)

	assert.Equal(t, plain.Outputs, traced.Outputs)
	assert.Equal(t, plain.Cycles, traced.Cycles)
}

func TestFragmentLengthsDoNotChangeTheMatrix(t *testing.T) {
	prog, advice, vmCfg := richProgram(t)
	ref := referenceTrace(t, prog, richInputs(), advice, vmCfg)

	for _, f := range []uint32{1, 2, 3, 5, 7, 16, 64, 1000} {
		tr, _, err := Execute(context.Background(), prog, richInputs(), advice, vmCfg, Config{FragmentLength: f})
		require.NoError(t, err, "fragment length %d", f)
		require.NoError(t, diffTraces(ref, tr), "fragment length %d", f)
	}
}

func TestTracePaddingContinuesClock(t *testing.T) {
	prog, advice, vmCfg := richProgram(t)
	tr := referenceTrace(t, prog, richInputs(), advice, vmCfg)

	require.True(t, tr.Length() >= params.MinTraceLength)
	require.Zero(t, tr.Length()&(tr.Length()-1), "height must be a power of two")
	last := tr.Rows[tr.NumProgramRows-1]
	for i := tr.NumProgramRows; i < tr.Length(); i++ {
		assert.Equal(t, common.Felt(uint32(i)), tr.Get(i, ColClk))
		assert.Equal(t, common.Felt(mast.HALT), tr.Get(i, ColOp))
		assert.Equal(t, last[ColStackDepth], tr.Get(i, ColStackDepth))
	}
}

// randomOps is the operation alphabet for fuzzed blocks: every entry is
// total, so generated programs cannot fail.
var randomOps = []mast.OpCode{
	mast.NOOP, mast.PAD, mast.DROP, mast.DUP0, mast.DUP1, mast.DUP2, mast.DUP3,
	mast.DUP7, mast.SWAP, mast.SWAPW, mast.MOVUP2, mast.MOVDN2, mast.ADD,
	mast.NEG, mast.MUL, mast.INCR, mast.EQ, mast.EQZ, mast.CLK, mast.SDEPTH,
}

func randomBlock(t *testing.T, f *fuzz.Fuzzer, b *mast.Builder) mast.NodeID {
	var n uint8
	f.Fuzz(&n)
	count := int(n%6) + 1
	ops := make([]mast.Op, 0, count)
	for i := 0; i < count; i++ {
		var pick uint16
		f.Fuzz(&pick)
		if pick%4 == 0 {
			var imm uint32
			f.Fuzz(&imm)
			ops = append(ops, mast.Push(common.Felt(imm)))
			continue
		}
		ops = append(ops, mast.NewOp(randomOps[int(pick)%len(randomOps)]))
	}
	return mustAdd[mast.NodeID](t)(b.AddBlock(ops))
}

func randomNode(t *testing.T, f *fuzz.Fuzzer, b *mast.Builder, depth int) mast.NodeID {
	if depth == 0 {
		return randomBlock(t, f, b)
	}
	var pick uint8
	f.Fuzz(&pick)
	switch pick % 4 {
	case 0:
		return randomBlock(t, f, b)
	case 1:
		first := randomNode(t, f, b, depth-1)
		second := randomNode(t, f, b, depth-1)
		return mustAdd[mast.NodeID](t)(b.AddJoin(first, second))
	case 2:
		// A pushed condition keeps the split total.
		var cond uint8
		f.Fuzz(&cond)
		push := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(common.Felt(cond % 2))}))
		onTrue := randomNode(t, f, b, depth-1)
		onFalse := randomNode(t, f, b, depth-1)
		split := mustAdd[mast.NodeID](t)(b.AddSplit(onTrue, onFalse))
		return mustAdd[mast.NodeID](t)(b.AddJoin(push, split))
	default:
		// One guaranteed iteration: the body's tail pushes the exit
		// condition.
		enter := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(1)}))
		tail := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(0)}))
		body := mustAdd[mast.NodeID](t)(b.AddJoin(randomNode(t, f, b, depth-1), tail))
		loop := mustAdd[mast.NodeID](t)(b.AddLoop(body))
		return mustAdd[mast.NodeID](t)(b.AddJoin(enter, loop))
	}
}

func TestRandomProgramEquivalence(t *testing.T) {
	for seed := int64(1); seed <= 6; seed++ {
		f := fuzz.NewWithSeed(seed)
		b := mast.NewBuilder()
		entry := randomNode(t, f, b, 3)
		require.NoError(t, b.AddRoot(entry))
		forest, err := b.Build()
		require.NoError(t, err)
		prog, err := mast.NewProgram(forest, entry, nil)
		require.NoError(t, err)

		require.NoError(t, CheckConsistency(context.Background(), prog, vm.StackInputs{2, 4, 8}, nil, vm.Config{}),
			"seed %d", seed)
	}
}
