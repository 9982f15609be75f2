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
	"sort"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/params"
)

type accessKind byte

const (
	accessRead accessKind = iota
	accessWrite
)

type memAccess struct {
	clk  uint32
	kind accessKind
}

// contextMemory is one context's address space: sparse, zero-default, with
// per-cycle access bookkeeping enforcing the one-access rule.
type contextMemory struct {
	data     map[uint32]common.Felt
	accessed map[uint32]memAccess // last access per address
}

// Memory is word-addressable storage partitioned by context id. Unset
// addresses read as zero. Within one clock cycle an address may be read
// many times, but any write excludes every other access.
type Memory struct {
	ctxs map[uint32]*contextMemory
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{ctxs: make(map[uint32]*contextMemory)}
}

func (m *Memory) context(ctx uint32) *contextMemory {
	cm, ok := m.ctxs[ctx]
	if !ok {
		cm = &contextMemory{
			data:     make(map[uint32]common.Felt),
			accessed: make(map[uint32]memAccess),
		}
		m.ctxs[ctx] = cm
	}
	return cm
}

// checkAddr validates a raw address against the address ceiling.
func checkAddr(addr common.Felt) (uint32, error) {
	if uint64(addr) >= params.MemoryAddrCeiling {
		return 0, &ErrAddressOutOfBounds{Addr: uint64(addr)}
	}
	return uint32(addr), nil
}

// checkWordAddr additionally requires word alignment.
func checkWordAddr(addr common.Felt) (uint32, error) {
	a, err := checkAddr(addr)
	if err != nil {
		return 0, err
	}
	if a%params.WordSize != 0 {
		return 0, &ErrUnalignedWordAccess{Addr: a}
	}
	return a, nil
}

func (cm *contextMemory) touch(ctx, addr, clk uint32, kind accessKind) error {
	if last, ok := cm.accessed[addr]; ok && last.clk == clk {
		if kind == accessWrite || last.kind == accessWrite {
			return &ErrIllegalMemoryAccess{Ctx: ctx, Addr: addr, Clk: clk}
		}
	}
	cm.accessed[addr] = memAccess{clk: clk, kind: kind}
	return nil
}

// Read returns the element at addr in the given context.
func (m *Memory) Read(ctx uint32, addr common.Felt, clk uint32) (common.Felt, error) {
	a, err := checkAddr(addr)
	if err != nil {
		return 0, err
	}
	cm := m.context(ctx)
	if err := cm.touch(ctx, a, clk, accessRead); err != nil {
		return 0, err
	}
	return cm.data[a], nil
}

// ReadWord returns the word at the aligned address addr.
func (m *Memory) ReadWord(ctx uint32, addr common.Felt, clk uint32) (common.Word, error) {
	a, err := checkWordAddr(addr)
	if err != nil {
		return common.EmptyWord, err
	}
	cm := m.context(ctx)
	var w common.Word
	for i := uint32(0); i < params.WordSize; i++ {
		if err := cm.touch(ctx, a+i, clk, accessRead); err != nil {
			return common.EmptyWord, err
		}
		w[i] = cm.data[a+i]
	}
	return w, nil
}

// Write stores an element at addr in the given context.
func (m *Memory) Write(ctx uint32, addr common.Felt, v common.Felt, clk uint32) error {
	a, err := checkAddr(addr)
	if err != nil {
		return err
	}
	cm := m.context(ctx)
	if err := cm.touch(ctx, a, clk, accessWrite); err != nil {
		return err
	}
	cm.data[a] = v
	return nil
}

// WriteWord stores a word at the aligned address addr.
func (m *Memory) WriteWord(ctx uint32, addr common.Felt, w common.Word, clk uint32) error {
	a, err := checkWordAddr(addr)
	if err != nil {
		return err
	}
	cm := m.context(ctx)
	for i := uint32(0); i < params.WordSize; i++ {
		if err := cm.touch(ctx, a+i, clk, accessWrite); err != nil {
			return err
		}
		cm.data[a+i] = w[i]
	}
	return nil
}

// ReadRange returns the elements in [start, end). It performs no access
// bookkeeping; the range read serves hosts and debuggers, not program
// operations.
func (m *Memory) ReadRange(ctx uint32, start, end common.Felt) ([]common.Felt, error) {
	if uint64(start) > uint64(end) {
		return nil, &ErrInvalidMemoryRange{Start: uint64(start), End: uint64(end)}
	}
	if uint64(end) > params.MemoryAddrCeiling {
		return nil, &ErrAddressOutOfBounds{Addr: uint64(end)}
	}
	cm := m.context(ctx)
	out := make([]common.Felt, 0, uint64(end)-uint64(start))
	for a := uint64(start); a < uint64(end); a++ {
		out = append(out, cm.data[uint32(a)])
	}
	return out, nil
}

// ContextSize returns the number of set addresses in a context.
func (m *Memory) ContextSize(ctx uint32) int {
	if cm, ok := m.ctxs[ctx]; ok {
		return len(cm.data)
	}
	return 0
}

// MemEntry is one set address within a context.
type MemEntry struct {
	Addr  uint32
	Value common.Felt
}

// Dump returns a context's set addresses in ascending order. Test helper
// and divergence diagnostics.
func (m *Memory) Dump(ctx uint32) []MemEntry {
	cm, ok := m.ctxs[ctx]
	if !ok {
		return nil
	}
	out := make([]MemEntry, 0, len(cm.data))
	for a, v := range cm.data {
		out = append(out, MemEntry{Addr: a, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
