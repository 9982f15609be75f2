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
	"errors"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/crypto"
)

// errNoCallFrame is returned when a frame restore finds no saved frame.
// The continuation discipline makes this unreachable for well-formed
// programs.
var errNoCallFrame = errors.New("call frame restore without saved frame")

// Backend mediates every machine interaction whose result is not a pure
// function of the visible state: memory traffic, advice reads, hash
// permutations, call frame switches and event side effects. A recording
// run logs these results; a replaying run serves them back, which is what
// lets trace fragments re-execute independently and byte-identically.
type Backend interface {
	// MemLoad reads one element from memory at addr in context ctx. The
	// address is validated against the address ceiling.
	MemLoad(ctx uint32, addr common.Felt, clk uint32) (common.Felt, error)

	// MemLoadWord reads the word starting at addr, which must be
	// word-aligned.
	MemLoadWord(ctx uint32, addr common.Felt, clk uint32) (common.Word, error)

	// MemStore writes one element.
	MemStore(ctx uint32, addr common.Felt, clk uint32, v common.Felt) error

	// MemStoreWord writes a word at a word-aligned address.
	MemStoreWord(ctx uint32, addr common.Felt, clk uint32, w common.Word) error

	// AdvicePop pops the top of the advice stack.
	AdvicePop() (common.Felt, error)

	// AdvicePopWord pops four advice felts as one word.
	AdvicePopWord() (common.Word, error)

	// Permute applies the hash permutation to a 12-element state.
	Permute(state [12]common.Felt) [12]common.Felt

	// SaveFrame stores the caller state of a starting call.
	SaveFrame(f CallFrame)

	// RestoreFrame returns the most recently saved, not yet restored
	// frame.
	RestoreFrame() (CallFrame, error)

	// Emit services an event. Reserved system events are resolved
	// against the advice provider and report deferred false. For other
	// ids, deferred true tells the dispatcher to suspend so the host can
	// answer; a backend that already knows the outcome reports false.
	Emit(clk uint32, eventID uint32, stack *Stack) (deferred bool, err error)
}

// LiveBackend executes against real state: a context-partitioned memory,
// an advice provider and an in-process call frame stack. It is the
// backend of ordinary sequential runs and the inner layer of recording
// runs.
type LiveBackend struct {
	mem    *Memory
	advice *AdviceProvider
	frames []CallFrame
}

// NewLiveBackend builds a live backend over fresh memory and the given
// advice provider.
func NewLiveBackend(advice *AdviceProvider) *LiveBackend {
	return &LiveBackend{
		mem:    NewMemory(),
		advice: advice,
	}
}

// Memory exposes the backing memory, for host snapshots and output
// inspection.
func (b *LiveBackend) Memory() *Memory { return b.mem }

// Advice exposes the backing advice provider.
func (b *LiveBackend) Advice() *AdviceProvider { return b.advice }

func (b *LiveBackend) MemLoad(ctx uint32, addr common.Felt, clk uint32) (common.Felt, error) {
	return b.mem.Read(ctx, addr, clk)
}

func (b *LiveBackend) MemLoadWord(ctx uint32, addr common.Felt, clk uint32) (common.Word, error) {
	return b.mem.ReadWord(ctx, addr, clk)
}

func (b *LiveBackend) MemStore(ctx uint32, addr common.Felt, clk uint32, v common.Felt) error {
	return b.mem.Write(ctx, addr, v, clk)
}

func (b *LiveBackend) MemStoreWord(ctx uint32, addr common.Felt, clk uint32, w common.Word) error {
	return b.mem.WriteWord(ctx, addr, w, clk)
}

func (b *LiveBackend) AdvicePop() (common.Felt, error) {
	return b.advice.PopStack()
}

func (b *LiveBackend) AdvicePopWord() (common.Word, error) {
	return b.advice.PopWord()
}

func (b *LiveBackend) Permute(state [12]common.Felt) [12]common.Felt {
	return crypto.PermuteState(state)
}

func (b *LiveBackend) SaveFrame(f CallFrame) {
	b.frames = append(b.frames, f)
}

func (b *LiveBackend) RestoreFrame() (CallFrame, error) {
	if len(b.frames) == 0 {
		return CallFrame{}, errNoCallFrame
	}
	f := b.frames[len(b.frames)-1]
	b.frames = b.frames[:len(b.frames)-1]
	return f, nil
}

func (b *LiveBackend) Emit(clk uint32, eventID uint32, stack *Stack) (bool, error) {
	if IsSystemEvent(eventID) {
		return false, handleSystemEvent(eventID, stack, b.advice)
	}
	return true, nil
}
