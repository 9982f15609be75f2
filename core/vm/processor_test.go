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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/store"
	"github.com/mastvm/mastvm/core/vm/tracing"
	"github.com/mastvm/mastvm/params"
)

// testHooksOnCycle records the clock value of every cycle hook.
func testHooksOnCycle(clks *[]uint32) *tracing.Hooks {
	return &tracing.Hooks{
		OnCycle: func(clk uint32, node mast.NodeID, op mast.OpCode, opIdx int, scope tracing.OpContext) {
			*clks = append(*clks, clk)
		},
	}
}

// buildProgram assembles a single-root program through the forest builder.
func buildProgram(t *testing.T, kernel []common.Digest, build func(b *mast.Builder) mast.NodeID) *mast.Program {
	t.Helper()
	b := mast.NewBuilder()
	entry := build(b)
	require.NoError(t, b.AddRoot(entry))
	f, err := b.Build()
	require.NoError(t, err)
	prog, err := mast.NewProgram(f, entry, kernel)
	require.NoError(t, err)
	return prog
}

func mustAdd[T any](t *testing.T) func(T, error) T {
	return func(v T, err error) T {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}

func runProgram(t *testing.T, prog *mast.Program, inputs StackInputs, cfg *Config) (*ExecutionResult, error) {
	t.Helper()
	return NewProcessor(cfg).Run(context.Background(), prog, inputs, nil)
}

func TestJoinOfBlocks(t *testing.T) {
	// join(block[mul], join(block[add], block[swap]))
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		mul := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.MUL)}))
		add := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.ADD)}))
		swap := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.SWAP)}))
		inner := mustAdd[mast.NodeID](t)(b.AddJoin(add, swap))
		return mustAdd[mast.NodeID](t)(b.AddJoin(mul, inner))
	})

	res, err := runProgram(t, prog, StackInputs{3, 4, 5}, nil)
	require.NoError(t, err)

	// mul: 3*4 = 12; add: 12+5 = 17; swap moves it to slot 1.
	assert.Equal(t, uint32(7), res.Cycles, "JOIN mul JOIN add swap END END")
	assert.Equal(t, common.Felt(0), res.Outputs.Get(0))
	assert.Equal(t, common.Felt(17), res.Outputs.Get(1))
	assert.Equal(t, params.StackDepth, res.Outputs.Depth)
}

func TestSplitTakesBranches(t *testing.T) {
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		onTrue := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(11)}))
		onFalse := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(22)}))
		return mustAdd[mast.NodeID](t)(b.AddSplit(onTrue, onFalse))
	})

	res, err := runProgram(t, prog, StackInputs{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Felt(11), res.Outputs.Top())
	assert.Equal(t, uint32(3), res.Cycles, "SPLIT push END")

	res, err = runProgram(t, prog, StackInputs{0}, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Felt(22), res.Outputs.Top())
}

func TestSplitRejectsNonBinaryCondition(t *testing.T) {
	// Pushing 2 then branching must fail with the non-binary error.
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		push := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(2)}))
		onTrue := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.NOOP)}))
		onFalse := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.DROP)}))
		split := mustAdd[mast.NodeID](t)(b.AddSplit(onTrue, onFalse))
		return mustAdd[mast.NodeID](t)(b.AddJoin(push, split))
	})

	_, err := runProgram(t, prog, nil, nil)
	var notBinary *ErrNotBinaryValue
	require.ErrorAs(t, err, &notBinary)
	assert.Equal(t, common.Felt(2), notBinary.Value)

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, uint32(2), ee.Clk, "JOIN, push, then the failing SPLIT")
}

func TestLoopIterates(t *testing.T) {
	// Conditions come off the seeded stack: two iterations, then stop.
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		body := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.NOOP)}))
		return mustAdd[mast.NodeID](t)(b.AddLoop(body))
	})

	res, err := runProgram(t, prog, StackInputs{1, 1, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), res.Cycles, "LOOP noop REPEAT noop END")
	assert.Equal(t, params.StackDepth, res.Outputs.Depth)
}

func TestLoopSkipped(t *testing.T) {
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		body := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.NOOP)}))
		return mustAdd[mast.NodeID](t)(b.AddLoop(body))
	})

	res, err := runProgram(t, prog, StackInputs{0}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), res.Cycles, "LOOP END")
}

func TestCallIsolatesContext(t *testing.T) {
	// The caller stores 99 at address 0 of its context; the callee reads
	// address 0 of a fresh context and must see zero.
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		callee := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
			mast.Push(0),
			mast.NewOp(mast.MLOAD),
			mast.NewOp(mast.EQZ),
			mast.NewOp(mast.ASSERT),
		}))
		call := mustAdd[mast.NodeID](t)(b.AddCall(callee))
		caller := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
			mast.Push(99),
			mast.Push(0),
			mast.NewOp(mast.MSTORE),
		}))
		check := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
			mast.Push(0),
			mast.NewOp(mast.MLOAD),
		}))
		return mustAdd[mast.NodeID](t)(b.AddJoin(mustAdd[mast.NodeID](t)(b.AddJoin(caller, call)), check))
	})

	res, err := runProgram(t, prog, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Felt(99), res.Outputs.Top(), "caller context survives the call")
}

func TestCallRestoresStackContext(t *testing.T) {
	// Deepen the caller stack past the overflow boundary, call, return, and
	// drain: the spilled value must come back intact.
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		deepen := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(77)}))
		callee := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.NOOP)}))
		call := mustAdd[mast.NodeID](t)(b.AddCall(callee))
		drain := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.DROP)}))
		return mustAdd[mast.NodeID](t)(b.AddJoin(mustAdd[mast.NodeID](t)(b.AddJoin(deepen, call)), drain))
	})

	res, err := runProgram(t, prog, StackInputs{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, params.StackDepth, res.Outputs.Depth)
	// Push 77 spilled the 16; drop after the call restores it.
	assert.Equal(t, common.Felt(16), res.Outputs.Get(15))
	assert.Equal(t, common.Felt(1), res.Outputs.Get(0))
}

func TestSyscallRequiresKernelMembership(t *testing.T) {
	build := func(kernel []common.Digest) (*mast.Program, common.Digest) {
		b := mast.NewBuilder()
		callee, err := b.AddBlock([]mast.Op{mast.NewOp(mast.NOOP)})
		require.NoError(t, err)
		sys, err := b.AddSyscall(callee)
		require.NoError(t, err)
		require.NoError(t, b.AddRoot(sys))
		f, err := b.Build()
		require.NoError(t, err)
		digest := f.Node(callee).Digest()
		prog, err := mast.NewProgram(f, sys, kernel)
		require.NoError(t, err)
		return prog, digest
	}

	prog, digest := build(nil)
	_, err := runProgram(t, prog, nil, nil)
	var notKernel *ErrSyscallTargetNotInKernel
	require.ErrorAs(t, err, &notKernel)
	assert.Equal(t, digest, notKernel.Digest)

	prog, _ = build([]common.Digest{digest})
	res, err := runProgram(t, prog, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), res.Cycles, "SYSCALL noop END")
}

func TestSyscallRunsInRootContext(t *testing.T) {
	// The caller plants a value in root-context memory; the kernel
	// procedure reads it back through a syscall, proving syscalls re-enter
	// context zero rather than allocating a fresh one.
	b := mast.NewBuilder()
	kernelProc := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.Push(4),
		mast.NewOp(mast.MLOAD),
		mast.NewOp(mast.SWAP),
		mast.NewOp(mast.DROP),
	}))
	sys := mustAdd[mast.NodeID](t)(b.AddSyscall(kernelProc))
	body := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.Push(55),
		mast.Push(4),
		mast.NewOp(mast.MSTORE),
	}))
	entry := mustAdd[mast.NodeID](t)(b.AddJoin(body, sys))
	require.NoError(t, b.AddRoot(entry))
	f, err := b.Build()
	require.NoError(t, err)
	prog, err := mast.NewProgram(f, entry, []common.Digest{f.Node(kernelProc).Digest()})
	require.NoError(t, err)

	res, err := runProgram(t, prog, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Felt(55), res.Outputs.Get(0), "syscall reads the root context")
}

func TestDynJumpsThroughMemory(t *testing.T) {
	// The target digest is written to memory word 8; dyn pops the address
	// and jumps to the node carrying that digest.
	b := mast.NewBuilder()
	target := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(123)}))
	dyn := mustAdd[mast.NodeID](t)(b.AddDyn())
	setup := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
		mast.NewOp(mast.ADVPOPW),
		mast.Push(8),
		mast.NewOp(mast.MSTOREW),
		mast.Push(8),
	}))
	entry := mustAdd[mast.NodeID](t)(b.AddJoin(setup, dyn))
	require.NoError(t, b.AddRoot(entry))
	require.NoError(t, b.AddRoot(target))
	f, err := b.Build()
	require.NoError(t, err)
	prog, err := mast.NewProgram(f, entry, nil)
	require.NoError(t, err)

	digest := f.Node(target).Digest()
	advice := &AdviceInputs{Stack: []common.Felt{digest[0], digest[1], digest[2], digest[3]}}
	res, err := NewProcessor(nil).Run(context.Background(), prog, StackInputs{5, 6, 7, 8}, advice)
	require.NoError(t, err)
	assert.Equal(t, common.Felt(123), res.Outputs.Top())
}

func TestCycleBudget(t *testing.T) {
	// The body feeds the loop a fresh 1 every iteration, so only the
	// budget stops it.
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		body := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(1)}))
		return mustAdd[mast.NodeID](t)(b.AddLoop(body))
	})

	_, err := runProgram(t, prog, StackInputs{1}, &Config{MaxCycles: 100})
	require.ErrorIs(t, err, ErrCycleLimitExceeded)
}

func TestExternalNodeResolution(t *testing.T) {
	// Library forest with the real procedure.
	lb := mast.NewBuilder()
	proc := mustAdd[mast.NodeID](t)(lb.AddBlock([]mast.Op{mast.Push(9), mast.NewOp(mast.ADD)}))
	require.NoError(t, lb.AddRoot(proc))
	lib, err := lb.Build()
	require.NoError(t, err)
	procDigest := lib.Node(proc).Digest()

	resolver := store.NewMemStore()
	resolver.AddForest(lib)

	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		ext := mustAdd[mast.NodeID](t)(b.AddExternal(procDigest))
		after := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.INCR)}))
		return mustAdd[mast.NodeID](t)(b.AddJoin(ext, after))
	})

	res, err := runProgram(t, prog, StackInputs{1, 2}, &Config{Resolver: resolver})
	require.NoError(t, err)
	assert.Equal(t, common.Felt(11), res.Outputs.Top(), "9+1, then incr")
	assert.Equal(t, uint32(5), res.Cycles, "external adds no cycles")

	// Without a resolver the same program cannot run.
	_, err = runProgram(t, prog, StackInputs{1, 2}, nil)
	var notFound *ErrProcedureNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, procDigest, notFound.Digest)
}

func TestCircularExternalResolution(t *testing.T) {
	// A store whose resolution of d is itself an external node.
	cb := mast.NewBuilder()
	ext2 := mustAdd[mast.NodeID](t)(cb.AddExternal(common.Digest{9, 9, 9, 9}))
	require.NoError(t, cb.AddRoot(ext2))
	circular, err := cb.Build()
	require.NoError(t, err)

	resolver := store.NewMemStore()
	require.NoError(t, resolver.Add(circular, ext2))

	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		return mustAdd[mast.NodeID](t)(b.AddExternal(circular.Node(ext2).Digest()))
	})

	_, err = runProgram(t, prog, nil, &Config{Resolver: resolver})
	var circ *ErrCircularExternalNode
	require.ErrorAs(t, err, &circ)
}

func TestSystemEventU64Div(t *testing.T) {
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		return mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
			mast.Emit(SysEventU64Div),
			mast.NewOp(mast.ADVPOP), // q_lo
			mast.NewOp(mast.ADVPOP), // q_hi
		}))
	})

	// Stack: s0 divisor hi, s1 divisor lo, s2 dividend hi, s3 dividend lo.
	res, err := runProgram(t, prog, StackInputs{0, 10, 0, 105}, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Felt(0), res.Outputs.Get(0), "quotient high limb")
	assert.Equal(t, common.Felt(10), res.Outputs.Get(1), "quotient low limb")
}

func TestHostEventAppliesMutations(t *testing.T) {
	const eventID = 0x1234
	host := NewHandlerHost()
	host.Register(eventID, func(ctx context.Context, state StateSnapshot) ([]AdviceMutation, error) {
		return []AdviceMutation{PushStackMutation(41), PushStackMutation(7)}, nil
	})

	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		return mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{
			mast.Emit(eventID),
			mast.NewOp(mast.ADVPOP),
			mast.NewOp(mast.ADVPOP),
			mast.NewOp(mast.ADD),
		}))
	})

	res, err := runProgram(t, prog, nil, &Config{Host: host})
	require.NoError(t, err)
	assert.Equal(t, common.Felt(48), res.Outputs.Top())
}

func TestHostEventBatchIsAtomic(t *testing.T) {
	const eventID = 0x2345
	key := common.Digest{1, 2, 3, 4}
	host := NewHandlerHost()
	host.Register(eventID, func(ctx context.Context, state StateSnapshot) ([]AdviceMutation, error) {
		// The second insert collides with the first: nothing may land.
		return []AdviceMutation{
			PushStackMutation(5),
			InsertMapMutation(key, []common.Felt{1}),
			InsertMapMutation(key, []common.Felt{2}),
		}, nil
	})

	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		return mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Emit(eventID)}))
	})

	_, err := runProgram(t, prog, nil, &Config{Host: host})
	var evErr *ErrEventFailed
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, uint32(eventID), evErr.EventID)
	var dup *ErrAdviceMapKeyAlreadyPresent
	require.ErrorAs(t, err, &dup)
}

func TestUnhandledHostEvent(t *testing.T) {
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		return mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Emit(0x77)}))
	})

	_, err := runProgram(t, prog, nil, nil)
	require.ErrorIs(t, err, ErrNoEventHandler)
}

func TestAssertFailureCarriesMessage(t *testing.T) {
	b := mast.NewBuilder()
	blk := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Assert(7)}))
	b.SetErrorMessage(7, "balance check failed")
	require.NoError(t, b.AddRoot(blk))
	f, err := b.Build()
	require.NoError(t, err)
	prog, err := mast.NewProgram(f, blk, nil)
	require.NoError(t, err)

	_, err = runProgram(t, prog, StackInputs{0}, nil)
	var failed *ErrFailedAssertion
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, uint64(7), failed.ErrCode)
	assert.Equal(t, "balance check failed", failed.Msg)
}

func TestProcessorCancel(t *testing.T) {
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		body := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(1)}))
		return mustAdd[mast.NodeID](t)(b.AddLoop(body))
	})

	p := NewProcessor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, prog, StackInputs{1}, nil)
	require.ErrorIs(t, err, ErrExecutionCancelled)
}

func TestClockMonotonicity(t *testing.T) {
	prog := buildProgram(t, nil, func(b *mast.Builder) mast.NodeID {
		blk := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.Push(3), mast.Push(4), mast.NewOp(mast.MUL), mast.NewOp(mast.DROP)}))
		loopBody := mustAdd[mast.NodeID](t)(b.AddBlock([]mast.Op{mast.NewOp(mast.DROP), mast.Push(0)}))
		loop := mustAdd[mast.NodeID](t)(b.AddLoop(loopBody))
		return mustAdd[mast.NodeID](t)(b.AddJoin(blk, loop))
	})

	var clks []uint32
	cfg := &Config{Hooks: testHooksOnCycle(&clks)}
	res, err := runProgram(t, prog, StackInputs{1}, cfg)
	require.NoError(t, err)
	require.Len(t, clks, int(res.Cycles))
	for i, clk := range clks {
		assert.Equal(t, uint32(i), clk, "clock must advance by exactly one per cycle")
	}
}
