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
)

// AdviceInputs seeds the nondeterministic inputs of an execution. Stack[0]
// is the first value popped. Map values are keyed by digest and copied on
// seeding. Each entry of Trees becomes one Merkle tree; its leaf count must
// be a power of two.
type AdviceInputs struct {
	Stack []common.Felt
	Map   map[common.Digest][]common.Felt
	Trees [][]common.Word
}

// AdviceProvider holds the out-of-band inputs a program can draw on: a
// value stack, a key-value map, and a Merkle store. All three are mutable
// during execution, by advice-reading operations and by host mutations.
type AdviceProvider struct {
	stack  []common.Felt // top of the stack is the last element
	values map[common.Digest][]common.Felt
	merkle *MerkleStore
}

// NewAdviceProvider builds a provider from the given inputs. A nil inputs
// yields an empty provider.
func NewAdviceProvider(inputs *AdviceInputs) (*AdviceProvider, error) {
	ap := &AdviceProvider{
		values: make(map[common.Digest][]common.Felt),
		merkle: NewMerkleStore(),
	}
	if inputs == nil {
		return ap, nil
	}
	ap.stack = make([]common.Felt, len(inputs.Stack))
	for i, v := range inputs.Stack {
		ap.stack[len(inputs.Stack)-1-i] = v
	}
	for key, vals := range inputs.Map {
		ap.values[key] = append([]common.Felt(nil), vals...)
	}
	for _, leaves := range inputs.Trees {
		if _, err := ap.merkle.AddTree(leaves); err != nil {
			return nil, err
		}
	}
	return ap, nil
}

// StackDepth returns the number of felts on the advice stack.
func (ap *AdviceProvider) StackDepth() int {
	return len(ap.stack)
}

// PushStack pushes a felt onto the advice stack.
func (ap *AdviceProvider) PushStack(v common.Felt) {
	ap.stack = append(ap.stack, v)
}

// PopStack removes and returns the top of the advice stack.
func (ap *AdviceProvider) PopStack() (common.Felt, error) {
	if len(ap.stack) == 0 {
		return 0, ErrAdviceStackReadFailed
	}
	v := ap.stack[len(ap.stack)-1]
	ap.stack = ap.stack[:len(ap.stack)-1]
	return v, nil
}

// PopWord removes four felts from the advice stack and returns them as a
// word, first popped felt in slot zero.
func (ap *AdviceProvider) PopWord() (common.Word, error) {
	var w common.Word
	for i := range w {
		v, err := ap.PopStack()
		if err != nil {
			return common.EmptyWord, err
		}
		w[i] = v
	}
	return w, nil
}

// MapGet returns the values stored under key. The returned slice is shared;
// callers must not modify it.
func (ap *AdviceProvider) MapGet(key common.Digest) ([]common.Felt, error) {
	vals, ok := ap.values[key]
	if !ok {
		return nil, &ErrAdviceMapKeyNotFound{Key: key}
	}
	return vals, nil
}

// MapHas reports whether key is present in the advice map.
func (ap *AdviceProvider) MapHas(key common.Digest) bool {
	_, ok := ap.values[key]
	return ok
}

// MapInsert stores values under key. Inserting an existing key fails, so a
// key's values never change once bound.
func (ap *AdviceProvider) MapInsert(key common.Digest, vals []common.Felt) error {
	if _, ok := ap.values[key]; ok {
		return &ErrAdviceMapKeyAlreadyPresent{Key: key}
	}
	ap.values[key] = append([]common.Felt(nil), vals...)
	return nil
}

// Merkle returns the provider's Merkle store.
func (ap *AdviceProvider) Merkle() *MerkleStore {
	return ap.merkle
}
