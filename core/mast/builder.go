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

package mast

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/crypto"
)

var (
	// ErrUnknownNodeID is returned when a child or root reference does not
	// name an existing arena node.
	ErrUnknownNodeID = errors.New("mast: unknown node id")

	// ErrForestFrozen is returned when a builder is used after Build.
	ErrForestFrozen = errors.New("mast: forest already built")

	// ErrInvalidOperation is returned when a basic block contains an
	// undefined or pseudo opcode.
	ErrInvalidOperation = errors.New("mast: invalid operation in basic block")
)

// Builder assembles a forest node by node. Structurally identical subtrees
// are interned: adding the same subtree twice returns the first id. The
// interning key is the node digest extended with a decorator fingerprint,
// so decorated nodes never collapse into their undecorated twins.
type Builder struct {
	nodes      []Node
	decorators []Decorator
	roots      []NodeID
	errCodes   map[uint64]string

	interned     map[fingerprint]NodeID
	decoInterned map[Decorator]DecoratorID
	built        bool
}

// fingerprint keys the interning table. The kind keeps an external
// reference distinct from a local node carrying the same digest.
type fingerprint struct {
	kind   NodeKind
	digest common.Digest
	deco   uint64
}

// NewBuilder returns an empty forest builder.
func NewBuilder() *Builder {
	return &Builder{
		errCodes:     make(map[uint64]string),
		interned:     make(map[fingerprint]NodeID),
		decoInterned: make(map[Decorator]DecoratorID),
	}
}

func (b *Builder) intern(n Node) NodeID {
	fp := fingerprint{kind: n.kind, digest: n.digest, deco: decoFingerprint(&n)}
	if id, ok := b.interned[fp]; ok {
		return id
	}
	id := NodeID(len(b.nodes))
	b.nodes = append(b.nodes, n)
	b.interned[fp] = id
	return id
}

func decoFingerprint(n *Node) uint64 {
	if len(n.before) == 0 && len(n.after) == 0 && len(n.opDecs) == 0 {
		return 0
	}
	h := fnv.New64a()
	var buf [4]byte
	put := func(v uint32) {
		buf[0], buf[1], buf[2], buf[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		h.Write(buf[:])
	}
	for _, d := range n.before {
		put(uint32(d))
	}
	h.Write([]byte{0xff})
	for _, d := range n.after {
		put(uint32(d))
	}
	h.Write([]byte{0xfe})
	for _, od := range n.opDecs {
		put(od.OpIdx)
		put(uint32(od.ID))
	}
	return h.Sum64()
}

func (b *Builder) checkChild(id NodeID) error {
	if int(id) >= len(b.nodes) {
		return fmt.Errorf("%w: %d", ErrUnknownNodeID, id)
	}
	return nil
}

// AddBlock adds a basic block node. An empty operation list becomes a
// single NOOP so every block occupies at least one cycle.
func (b *Builder) AddBlock(ops []Op) (NodeID, error) {
	return b.AddAnnotatedBlock(ops, nil, nil, nil)
}

// AddAnnotatedBlock adds a basic block with decorators anchored at
// operation indices and before/after the block itself.
func (b *Builder) AddAnnotatedBlock(ops []Op, opDecs []OpDecorator, before, after []DecoratorID) (NodeID, error) {
	if b.built {
		return InvalidNodeID, ErrForestFrozen
	}
	if len(ops) == 0 {
		ops = []Op{NewOp(NOOP)}
	}
	cooked := make([]Op, len(ops))
	for i, op := range ops {
		if !op.Code.Valid() || op.Code.IsPseudo() {
			return InvalidNodeID, fmt.Errorf("%w: %#x at index %d", ErrInvalidOperation, byte(op.Code), i)
		}
		cooked[i] = Op{Code: op.Code, Imm: common.NewFelt(uint64(op.Imm))}
	}
	for _, od := range opDecs {
		if int(od.OpIdx) >= len(cooked) {
			return InvalidNodeID, fmt.Errorf("mast: op decorator index %d past block of %d operations", od.OpIdx, len(cooked))
		}
		if err := b.checkDecorator(od.ID); err != nil {
			return InvalidNodeID, err
		}
	}
	if err := b.checkDecorators(before, after); err != nil {
		return InvalidNodeID, err
	}
	sorted := append([]OpDecorator(nil), opDecs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OpIdx < sorted[j].OpIdx })

	n := Node{
		kind:   KindBasicBlock,
		digest: crypto.HashElements(crypto.DomainBlock, encodeOps(cooked)),
		ops:    cooked,
		opDecs: sorted,
		before: append([]DecoratorID(nil), before...),
		after:  append([]DecoratorID(nil), after...),
	}
	return b.intern(n), nil
}

// AddJoin adds a sequential composition of two children.
func (b *Builder) AddJoin(first, second NodeID) (NodeID, error) {
	return b.addControl(KindJoin, crypto.DomainJoin, first, second)
}

// AddSplit adds a binary branch. The first child runs when the popped
// condition is one, the second when it is zero.
func (b *Builder) AddSplit(onTrue, onFalse NodeID) (NodeID, error) {
	return b.addControl(KindSplit, crypto.DomainSplit, onTrue, onFalse)
}

// AddLoop adds a loop around the given body.
func (b *Builder) AddLoop(body NodeID) (NodeID, error) {
	return b.addControl(KindLoop, crypto.DomainLoop, body, InvalidNodeID)
}

// AddCall adds a call into a fresh execution context.
func (b *Builder) AddCall(target NodeID) (NodeID, error) {
	return b.addControl(KindCall, crypto.DomainCall, target, InvalidNodeID)
}

// AddSyscall adds a kernel call. Kernel membership of the target digest is
// checked at execution time against the program, not here.
func (b *Builder) AddSyscall(target NodeID) (NodeID, error) {
	return b.addControl(KindSyscall, crypto.DomainSyscall, target, InvalidNodeID)
}

func (b *Builder) addControl(kind NodeKind, domain crypto.Domain, c0, c1 NodeID) (NodeID, error) {
	if b.built {
		return InvalidNodeID, ErrForestFrozen
	}
	if err := b.checkChild(c0); err != nil {
		return InvalidNodeID, err
	}
	second := common.EmptyDigest
	if c1 != InvalidNodeID {
		if err := b.checkChild(c1); err != nil {
			return InvalidNodeID, err
		}
		second = b.nodes[c1].digest
	}
	n := Node{
		kind:     kind,
		digest:   crypto.MergeDigests(domain, b.nodes[c0].digest, second),
		children: [2]NodeID{c0, c1},
	}
	return b.intern(n), nil
}

// AddDyn adds a dynamic jump whose target digest is read from the stack at
// execution time.
func (b *Builder) AddDyn() (NodeID, error) {
	if b.built {
		return InvalidNodeID, ErrForestFrozen
	}
	return b.intern(Node{kind: KindDyn, digest: crypto.DomainDigest(crypto.DomainDyn)}), nil
}

// AddDyncall adds a dynamic call; like AddDyn but entered in a fresh
// execution context with the caller's context saved.
func (b *Builder) AddDyncall() (NodeID, error) {
	if b.built {
		return InvalidNodeID, ErrForestFrozen
	}
	return b.intern(Node{kind: KindDyncall, digest: crypto.DomainDigest(crypto.DomainDyncall)}), nil
}

// AddExternal adds a reference to a subtree stored outside this forest. The
// node's digest is the foreign digest itself.
func (b *Builder) AddExternal(digest common.Digest) (NodeID, error) {
	if b.built {
		return InvalidNodeID, ErrForestFrozen
	}
	return b.intern(Node{kind: KindExternal, digest: digest}), nil
}

// AddDecorator interns a decorator and returns its id.
func (b *Builder) AddDecorator(d Decorator) DecoratorID {
	if id, ok := b.decoInterned[d]; ok {
		return id
	}
	id := DecoratorID(len(b.decorators))
	b.decorators = append(b.decorators, d)
	b.decoInterned[d] = id
	return id
}

func (b *Builder) checkDecorator(id DecoratorID) error {
	if int(id) >= len(b.decorators) {
		return fmt.Errorf("mast: unknown decorator id %d", id)
	}
	return nil
}

func (b *Builder) checkDecorators(lists ...[]DecoratorID) error {
	for _, list := range lists {
		for _, id := range list {
			if err := b.checkDecorator(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// AnnotateNode returns a copy of the given node with before/after
// decorators appended. The original node is left untouched; the copy is
// interned like any other node.
func (b *Builder) AnnotateNode(id NodeID, before, after []DecoratorID) (NodeID, error) {
	if b.built {
		return InvalidNodeID, ErrForestFrozen
	}
	if err := b.checkChild(id); err != nil {
		return InvalidNodeID, err
	}
	if err := b.checkDecorators(before, after); err != nil {
		return InvalidNodeID, err
	}
	n := b.nodes[id]
	n.before = append(append([]DecoratorID(nil), n.before...), before...)
	n.after = append(append([]DecoratorID(nil), n.after...), after...)
	return b.intern(n), nil
}

// AddRoot marks a node as a procedure root. Adding the same root twice is a
// no-op.
func (b *Builder) AddRoot(id NodeID) error {
	if b.built {
		return ErrForestFrozen
	}
	if err := b.checkChild(id); err != nil {
		return err
	}
	for _, r := range b.roots {
		if r == id {
			return nil
		}
	}
	b.roots = append(b.roots, id)
	return nil
}

// SetErrorMessage binds an assertion error code to a diagnostic message.
func (b *Builder) SetErrorMessage(code uint64, msg string) {
	b.errCodes[code] = msg
}

// Build freezes the builder and returns the finished forest. The builder
// must not be used afterwards.
func (b *Builder) Build() (*Forest, error) {
	if b.built {
		return nil, ErrForestFrozen
	}
	b.built = true

	// Local nodes win over external references to the same digest, so
	// digest lookups resolve to executable code whenever the forest has it.
	byDigest := make(map[common.Digest]NodeID, len(b.nodes))
	for i := range b.nodes {
		if b.nodes[i].kind == KindExternal {
			continue
		}
		d := b.nodes[i].digest
		if _, ok := byDigest[d]; !ok {
			byDigest[d] = NodeID(i)
		}
	}
	for i := range b.nodes {
		if b.nodes[i].kind != KindExternal {
			continue
		}
		d := b.nodes[i].digest
		if _, ok := byDigest[d]; !ok {
			byDigest[d] = NodeID(i)
		}
	}
	f := &Forest{
		nodes:      b.nodes,
		roots:      b.roots,
		decorators: b.decorators,
		errCodes:   b.errCodes,
		byDigest:   byDigest,
	}
	return f, nil
}
