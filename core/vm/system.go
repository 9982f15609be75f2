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
	"github.com/mastvm/mastvm/params"
)

// System holds the machine registers. Only the dispatcher's context-switch
// logic mutates ctx, fmp, fnHash and inSyscall; the clock advances once
// per cycle.
type System struct {
	clk       uint32
	ctx       uint32
	fmp       common.Felt
	fnHash    common.Digest
	inSyscall bool

	nextCtx uint32 // allocator for fresh context ids
}

// NewSystem returns registers for a fresh execution in the root context.
func NewSystem() *System {
	return &System{
		ctx:     params.RootContext,
		fmp:     common.Felt(params.FmpBase),
		nextCtx: params.RootContext + 1,
	}
}

// Clk returns the current clock cycle.
func (s *System) Clk() uint32 { return s.clk }

// AdvanceClk moves the clock forward one cycle.
func (s *System) AdvanceClk() { s.clk++ }

// Ctx returns the active context id.
func (s *System) Ctx() uint32 { return s.ctx }

// SetCtx switches the active context.
func (s *System) SetCtx(ctx uint32) { s.ctx = ctx }

// AllocateContext returns a fresh, never used context id.
func (s *System) AllocateContext() uint32 {
	id := s.nextCtx
	s.nextCtx++
	return id
}

// Fmp returns the frame pointer.
func (s *System) Fmp() common.Felt { return s.fmp }

// SetFmp overwrites the frame pointer without bounds checking. The bounds
// are enforced where user code moves it, in FMPUPDATE.
func (s *System) SetFmp(v common.Felt) { s.fmp = v }

// FnHash returns the digest of the function owning the current context.
func (s *System) FnHash() common.Digest { return s.fnHash }

// SetFnHash overwrites the function digest register.
func (s *System) SetFnHash(d common.Digest) { s.fnHash = d }

// InSyscall reports whether execution is inside a kernel call.
func (s *System) InSyscall() bool { return s.inSyscall }

// SetInSyscall flips the syscall flag.
func (s *System) SetInSyscall(v bool) { s.inSyscall = v }

// NextCtx returns the context allocator's watermark.
func (s *System) NextCtx() uint32 { return s.nextCtx }

// LoadState overwrites all registers. Used to seed execution from a
// reconstructed cycle boundary.
func (s *System) LoadState(clk, ctx uint32, fmp common.Felt, fnHash common.Digest, inSyscall bool, nextCtx uint32) {
	s.clk = clk
	s.ctx = ctx
	s.fmp = fmp
	s.fnHash = fnHash
	s.inSyscall = inSyscall
	s.nextCtx = nextCtx
}
