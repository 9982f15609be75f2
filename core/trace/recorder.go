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

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/store"
	"github.com/mastvm/mastvm/core/vm"
	"github.com/mastvm/mastvm/core/vm/tracing"
	"github.com/mastvm/mastvm/crypto"
)

// Recorder taps a sequential execution and writes the replay logs and
// fragment boundary checkpoints. It plugs into the processor through three
// seams: the tracing hooks, the backend wrapper and the resolver/host
// wrappers. One recorder serves one execution.
type Recorder struct {
	fragLen     uint32
	logs        *Logs
	checkpoints []Checkpoint

	curClk uint32
	tapped bool
}

// NewRecorder returns a recorder cutting checkpoints every fragLen cycles.
func NewRecorder(fragLen uint32) *Recorder {
	return &Recorder{fragLen: fragLen, logs: new(Logs)}
}

// Logs returns the recorded nondeterminism logs.
func (r *Recorder) Logs() *Logs { return r.logs }

// Checkpoints returns the boundary snapshots, in cycle order. The snapshot
// at cycle zero is always present.
func (r *Recorder) Checkpoints() []Checkpoint { return r.checkpoints }

// Hooks returns the tracing hooks the recorded execution must run under.
// The user's hooks, if any, keep firing after the recorder's.
func (r *Recorder) Hooks(user *tracing.Hooks) *tracing.Hooks {
	h := &tracing.Hooks{OnCycle: r.onCycle}
	if user == nil {
		return h
	}
	merged := *user
	merged.OnCycle = func(clk uint32, node mast.NodeID, op mast.OpCode, opIdx int, scope tracing.OpContext) {
		r.onCycle(clk, node, op, opIdx, scope)
		if user.OnCycle != nil {
			user.OnCycle(clk, node, op, opIdx, scope)
		}
	}
	return &merged
}

func (r *Recorder) onCycle(clk uint32, node mast.NodeID, op mast.OpCode, opIdx int, scope tracing.OpContext) {
	m, ok := scope.(machine)
	if !ok {
		panic(consistencyPanic + "recorder hook fired outside the engine dispatcher")
	}
	r.curClk = clk
	if !r.tapped {
		m.Stack().SetOverflowTaps(r.onSpill, r.onRestore)
		r.tapped = true
	}
	if clk%r.fragLen == 0 {
		r.checkpoints = append(r.checkpoints, seize(clk, m, r.logs))
	}
}

func (r *Recorder) onSpill(row vm.OverflowRow) {
	r.logs.Overflow = append(r.logs.Overflow, OverflowRecord{Kind: OverflowSpill, Row: row})
}

func (r *Recorder) onRestore(row vm.OverflowRow) {
	r.logs.Overflow = append(r.logs.Overflow, OverflowRecord{Kind: OverflowRestore, Row: row})
}

// WrapBackend interposes the recording layer over the live backend.
func (r *Recorder) WrapBackend(b vm.Backend) vm.Backend {
	return &recordingBackend{inner: b, rec: r}
}

// WrapResolver interposes the recording layer over the resolver. A nil
// resolver stays nil; failed resolutions abort the run and need no log.
func (r *Recorder) WrapResolver(inner store.Resolver) store.Resolver {
	if inner == nil {
		return nil
	}
	return &recordingResolver{inner: inner, rec: r}
}

// WrapHost interposes the recording layer over the host, logging every
// successful event dispatch with its mutation batch.
func (r *Recorder) WrapHost(inner vm.Host) vm.Host {
	return &recordingHost{inner: inner, rec: r}
}

// recordingBackend forwards every call to the live backend and appends the
// result to the logs.
type recordingBackend struct {
	inner vm.Backend
	rec   *Recorder
}

func (b *recordingBackend) MemLoad(ctx uint32, addr common.Felt, clk uint32) (common.Felt, error) {
	v, err := b.inner.MemLoad(ctx, addr, clk)
	if err != nil {
		return 0, err
	}
	value := common.Word{v}
	b.rec.logs.MemReads = append(b.rec.logs.MemReads, MemReadRecord{
		Clk: clk, Ctx: ctx, Addr: uint32(addr), Value: value,
	})
	b.rec.logs.MemAccesses = append(b.rec.logs.MemAccesses, MemAccessRecord{
		Clk: clk, Ctx: ctx, Addr: uint32(addr), Kind: MemAccessRead, Value: value,
	})
	return v, nil
}

func (b *recordingBackend) MemLoadWord(ctx uint32, addr common.Felt, clk uint32) (common.Word, error) {
	w, err := b.inner.MemLoadWord(ctx, addr, clk)
	if err != nil {
		return common.EmptyWord, err
	}
	b.rec.logs.MemReads = append(b.rec.logs.MemReads, MemReadRecord{
		Clk: clk, Ctx: ctx, Addr: uint32(addr), Word: true, Value: w,
	})
	b.rec.logs.MemAccesses = append(b.rec.logs.MemAccesses, MemAccessRecord{
		Clk: clk, Ctx: ctx, Addr: uint32(addr), Kind: MemAccessRead, Word: true, Value: w,
	})
	return w, nil
}

func (b *recordingBackend) MemStore(ctx uint32, addr common.Felt, clk uint32, v common.Felt) error {
	if err := b.inner.MemStore(ctx, addr, clk, v); err != nil {
		return err
	}
	b.rec.logs.MemAccesses = append(b.rec.logs.MemAccesses, MemAccessRecord{
		Clk: clk, Ctx: ctx, Addr: uint32(addr), Kind: MemAccessWrite, Value: common.Word{v},
	})
	return nil
}

func (b *recordingBackend) MemStoreWord(ctx uint32, addr common.Felt, clk uint32, w common.Word) error {
	if err := b.inner.MemStoreWord(ctx, addr, clk, w); err != nil {
		return err
	}
	b.rec.logs.MemAccesses = append(b.rec.logs.MemAccesses, MemAccessRecord{
		Clk: clk, Ctx: ctx, Addr: uint32(addr), Kind: MemAccessWrite, Word: true, Value: w,
	})
	return nil
}

func (b *recordingBackend) AdvicePop() (common.Felt, error) {
	v, err := b.inner.AdvicePop()
	if err != nil {
		return 0, err
	}
	b.rec.logs.AdviceReads = append(b.rec.logs.AdviceReads, AdviceReadRecord{
		Clk: b.rec.curClk, Value: common.Word{v},
	})
	return v, nil
}

func (b *recordingBackend) AdvicePopWord() (common.Word, error) {
	w, err := b.inner.AdvicePopWord()
	if err != nil {
		return common.EmptyWord, err
	}
	b.rec.logs.AdviceReads = append(b.rec.logs.AdviceReads, AdviceReadRecord{
		Clk: b.rec.curClk, Word: true, Value: w,
	})
	return w, nil
}

func (b *recordingBackend) Permute(state [crypto.PermuteWidth]common.Felt) [crypto.PermuteWidth]common.Felt {
	out := b.inner.Permute(state)
	b.rec.logs.Hasher = append(b.rec.logs.Hasher, HasherRecord{Clk: b.rec.curClk, Output: out})
	return out
}

func (b *recordingBackend) SaveFrame(f vm.CallFrame) {
	b.inner.SaveFrame(f)
}

func (b *recordingBackend) RestoreFrame() (vm.CallFrame, error) {
	f, err := b.inner.RestoreFrame()
	if err != nil {
		return vm.CallFrame{}, err
	}
	b.rec.logs.Frames = append(b.rec.logs.Frames, FrameRecord{Clk: b.rec.curClk, Frame: f})
	return f, nil
}

func (b *recordingBackend) Emit(clk uint32, eventID uint32, stack *vm.Stack) (bool, error) {
	return b.inner.Emit(clk, eventID, stack)
}

// recordingResolver logs every successful resolution the store serves.
type recordingResolver struct {
	inner store.Resolver
	rec   *Recorder
}

func (r *recordingResolver) Resolve(digest common.Digest) (store.Resolution, error) {
	res, err := r.inner.Resolve(digest)
	if err != nil {
		return store.Resolution{}, err
	}
	r.rec.logs.Resolutions = append(r.rec.logs.Resolutions, ResolutionRecord{
		Clk: r.rec.curClk, Digest: digest, Res: res,
	})
	return res, nil
}

// recordingHost logs every successful event dispatch.
type recordingHost struct {
	inner vm.Host
	rec   *Recorder
}

func (h *recordingHost) OnEvent(ctx context.Context, state vm.StateSnapshot, eventID uint32) ([]vm.AdviceMutation, error) {
	muts, err := h.inner.OnEvent(ctx, state, eventID)
	if err != nil {
		return nil, err
	}
	h.rec.logs.Events = append(h.rec.logs.Events, EventRecord{
		Clk: h.rec.curClk, EventID: eventID, Mutations: muts,
	})
	return muts, nil
}
