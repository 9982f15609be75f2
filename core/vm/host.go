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
	"errors"
	"fmt"

	"github.com/mastvm/mastvm/common"
)

// ErrNoEventHandler is returned by hosts that have no handler bound for a
// dispatched event id.
var ErrNoEventHandler = errors.New("no handler for event")

// StateSnapshot is the read-only view of machine state a host receives
// alongside a dispatched event.
type StateSnapshot struct {
	Clk    uint32
	Ctx    uint32
	FnHash common.Digest
	Stack  []common.Felt // visible operand stack, top first
}

// MutationKind selects the variant of an AdviceMutation.
type MutationKind byte

const (
	MutPushStack MutationKind = iota
	MutInsertMap
	MutInsertMerkleNode
)

// AdviceMutation is one host-requested change to the advice provider.
// A batch of mutations is validated as a whole and applied atomically:
// either every mutation lands or none do.
type AdviceMutation struct {
	Kind   MutationKind
	Value  common.Felt   // MutPushStack
	Key    common.Digest // MutInsertMap
	Values []common.Felt // MutInsertMap
	Left   common.Digest // MutInsertMerkleNode
	Right  common.Digest // MutInsertMerkleNode
}

// PushStackMutation pushes one felt onto the advice stack.
func PushStackMutation(v common.Felt) AdviceMutation {
	return AdviceMutation{Kind: MutPushStack, Value: v}
}

// InsertMapMutation binds values to key in the advice map.
func InsertMapMutation(key common.Digest, vals []common.Felt) AdviceMutation {
	return AdviceMutation{Kind: MutInsertMap, Key: key, Values: vals}
}

// InsertMerkleNodeMutation registers an interior Merkle node.
func InsertMerkleNodeMutation(left, right common.Digest) AdviceMutation {
	return AdviceMutation{Kind: MutInsertMerkleNode, Left: left, Right: right}
}

// ApplyMutations applies a batch to the advice provider. The batch is
// validated up front; on error nothing is applied.
func ApplyMutations(ap *AdviceProvider, muts []AdviceMutation) error {
	seen := make(map[common.Digest]struct{})
	for _, m := range muts {
		if m.Kind != MutInsertMap {
			continue
		}
		if ap.MapHas(m.Key) {
			return &ErrAdviceMapKeyAlreadyPresent{Key: m.Key}
		}
		if _, dup := seen[m.Key]; dup {
			return &ErrAdviceMapKeyAlreadyPresent{Key: m.Key}
		}
		seen[m.Key] = struct{}{}
	}
	for _, m := range muts {
		switch m.Kind {
		case MutPushStack:
			ap.PushStack(m.Value)
		case MutInsertMap:
			if err := ap.MapInsert(m.Key, m.Values); err != nil {
				return err
			}
		case MutInsertMerkleNode:
			ap.merkle.AddNode(m.Left, m.Right)
		default:
			return fmt.Errorf("unknown mutation kind %d", m.Kind)
		}
	}
	return nil
}

// Host supplies the machine's nondeterministic responses. OnEvent is called
// for every EMIT whose id is not a reserved system event; the returned
// mutations are applied to the advice provider before execution resumes.
type Host interface {
	OnEvent(ctx context.Context, state StateSnapshot, eventID uint32) ([]AdviceMutation, error)
}

// NoopHost rejects every event. It is the default host of a processor.
type NoopHost struct{}

func (NoopHost) OnEvent(ctx context.Context, state StateSnapshot, eventID uint32) ([]AdviceMutation, error) {
	return nil, ErrNoEventHandler
}

// EventHandler handles a single event id for a HandlerHost.
type EventHandler func(ctx context.Context, state StateSnapshot) ([]AdviceMutation, error)

// HandlerHost dispatches events to registered handler functions.
type HandlerHost struct {
	handlers map[uint32]EventHandler
}

// NewHandlerHost returns a host with no handlers bound.
func NewHandlerHost() *HandlerHost {
	return &HandlerHost{handlers: make(map[uint32]EventHandler)}
}

// Register binds a handler to an event id, replacing any previous binding.
func (h *HandlerHost) Register(eventID uint32, fn EventHandler) {
	h.handlers[eventID] = fn
}

func (h *HandlerHost) OnEvent(ctx context.Context, state StateSnapshot, eventID uint32) ([]AdviceMutation, error) {
	fn, ok := h.handlers[eventID]
	if !ok {
		return nil, ErrNoEventHandler
	}
	return fn(ctx, state)
}
