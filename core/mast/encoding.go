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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/golang/snappy"
	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/crypto"
)

// Forest container format: a four byte magic, one version byte, then a
// snappy-compressed body. The body stores the decorator table, the node
// arena in order (child ids always refer backwards), the roots and the
// error-code table. Node digests are recomputed on decode, so only
// External nodes serialize theirs; decoding is id-stable.

var forestMagic = []byte("MASF")

const encodingVersion = 1

var (
	// ErrInvalidContainer is returned when a serialized forest cannot be
	// parsed.
	ErrInvalidContainer = errors.New("mast: invalid forest container")

	// ErrUnknownVersion is returned for container versions this build does
	// not understand.
	ErrUnknownVersion = errors.New("mast: unknown container version")
)

// EncodeForest serializes a forest into the container format.
func EncodeForest(f *Forest) []byte {
	var body []byte

	body = binary.AppendUvarint(body, uint64(len(f.decorators)))
	for _, d := range f.decorators {
		body = append(body, byte(d.Kind))
		body = appendString(body, d.Context)
		body = binary.AppendUvarint(body, uint64(d.TraceID))
	}

	body = binary.AppendUvarint(body, uint64(len(f.nodes)))
	for i := range f.nodes {
		body = appendNode(body, &f.nodes[i])
	}

	body = binary.AppendUvarint(body, uint64(len(f.roots)))
	for _, r := range f.roots {
		body = binary.AppendUvarint(body, uint64(r))
	}

	codes := make([]uint64, 0, len(f.errCodes))
	for c := range f.errCodes {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	body = binary.AppendUvarint(body, uint64(len(codes)))
	for _, c := range codes {
		body = binary.AppendUvarint(body, c)
		body = appendString(body, f.errCodes[c])
	}

	compressed := snappy.Encode(nil, body)
	out := make([]byte, 0, len(forestMagic)+1+len(compressed))
	out = append(out, forestMagic...)
	out = append(out, encodingVersion)
	return append(out, compressed...)
}

func appendNode(body []byte, n *Node) []byte {
	body = append(body, byte(n.kind))
	switch n.kind {
	case KindBasicBlock:
		body = binary.AppendUvarint(body, uint64(len(n.ops)))
		for _, op := range n.ops {
			body = append(body, byte(op.Code))
			if op.Code.HasImmediate() {
				body = binary.AppendUvarint(body, uint64(op.Imm))
			}
		}
		body = binary.AppendUvarint(body, uint64(len(n.opDecs)))
		for _, od := range n.opDecs {
			body = binary.AppendUvarint(body, uint64(od.OpIdx))
			body = binary.AppendUvarint(body, uint64(od.ID))
		}
	case KindJoin, KindSplit:
		body = binary.AppendUvarint(body, uint64(n.children[0]))
		body = binary.AppendUvarint(body, uint64(n.children[1]))
	case KindLoop, KindCall, KindSyscall:
		body = binary.AppendUvarint(body, uint64(n.children[0]))
	case KindDyn, KindDyncall:
		// no payload
	case KindExternal:
		raw := n.digest.Bytes()
		body = append(body, raw[:]...)
	}
	body = appendIDList(body, n.before)
	body = appendIDList(body, n.after)
	return body
}

func appendIDList(body []byte, ids []DecoratorID) []byte {
	body = binary.AppendUvarint(body, uint64(len(ids)))
	for _, id := range ids {
		body = binary.AppendUvarint(body, uint64(id))
	}
	return body
}

func appendString(body []byte, s string) []byte {
	body = binary.AppendUvarint(body, uint64(len(s)))
	return append(body, s...)
}

// DecodeForest parses a serialized forest, recomputing node digests and
// validating every internal reference.
func DecodeForest(data []byte) (*Forest, error) {
	if len(data) < len(forestMagic)+1 || !bytes.Equal(data[:len(forestMagic)], forestMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidContainer)
	}
	if v := data[len(forestMagic)]; v != encodingVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, v)
	}
	body, err := snappy.Decode(nil, data[len(forestMagic)+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}
	d := &forestDecoder{r: bytes.NewReader(body)}

	decoCount, err := d.count()
	if err != nil {
		return nil, err
	}
	decorators := make([]Decorator, decoCount)
	for i := 0; i < decoCount; i++ {
		kind, err := d.r.ReadByte()
		if err != nil {
			return nil, d.corrupt("truncated decorator table")
		}
		if DecoratorKind(kind) > DecoTrace {
			return nil, d.corrupt("decorator kind %#x", kind)
		}
		ctx, err := d.str()
		if err != nil {
			return nil, err
		}
		traceID, err := d.u32()
		if err != nil {
			return nil, err
		}
		decorators[i] = Decorator{Kind: DecoratorKind(kind), Context: ctx, TraceID: traceID}
	}
	d.numDecorators = decoCount

	nodeCount, err := d.count()
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, nodeCount)
	for i := 0; i < nodeCount; i++ {
		n, err := d.node(nodes)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	rootCount, err := d.count()
	if err != nil {
		return nil, err
	}
	roots := make([]NodeID, rootCount)
	for i := 0; i < rootCount; i++ {
		id, err := d.nodeRef(len(nodes))
		if err != nil {
			return nil, err
		}
		roots[i] = id
	}

	errCount, err := d.count()
	if err != nil {
		return nil, err
	}
	errCodes := make(map[uint64]string, errCount)
	for i := 0; i < errCount; i++ {
		code, err := binary.ReadUvarint(d.r)
		if err != nil {
			return nil, d.corrupt("truncated error table")
		}
		msg, err := d.str()
		if err != nil {
			return nil, err
		}
		errCodes[code] = msg
	}
	if d.r.Len() != 0 {
		return nil, d.corrupt("%d trailing bytes", d.r.Len())
	}

	// Same preference as Builder.Build: local nodes shadow external
	// references with equal digests.
	byDigest := make(map[common.Digest]NodeID, len(nodes))
	for i := range nodes {
		if nodes[i].kind == KindExternal {
			continue
		}
		if _, ok := byDigest[nodes[i].digest]; !ok {
			byDigest[nodes[i].digest] = NodeID(i)
		}
	}
	for i := range nodes {
		if nodes[i].kind != KindExternal {
			continue
		}
		if _, ok := byDigest[nodes[i].digest]; !ok {
			byDigest[nodes[i].digest] = NodeID(i)
		}
	}
	return &Forest{
		nodes:      nodes,
		roots:      roots,
		decorators: decorators,
		errCodes:   errCodes,
		byDigest:   byDigest,
	}, nil
}

type forestDecoder struct {
	r             *bytes.Reader
	numDecorators int
}

func (d *forestDecoder) corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidContainer, fmt.Sprintf(format, args...))
}

func (d *forestDecoder) count() (int, error) {
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, d.corrupt("truncated count")
	}
	if v > uint64(d.r.Len()) {
		return 0, d.corrupt("count %d exceeds remaining input", v)
	}
	return int(v), nil
}

func (d *forestDecoder) u32() (uint32, error) {
	v, err := binary.ReadUvarint(d.r)
	if err != nil || v > uint64(^uint32(0)) {
		return 0, d.corrupt("bad 32-bit value")
	}
	return uint32(v), nil
}

func (d *forestDecoder) str() (string, error) {
	n, err := d.count()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", d.corrupt("truncated string")
	}
	return string(buf), nil
}

func (d *forestDecoder) nodeRef(limit int) (NodeID, error) {
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		return InvalidNodeID, d.corrupt("truncated node reference")
	}
	if v >= uint64(limit) {
		return InvalidNodeID, d.corrupt("forward node reference %d", v)
	}
	return NodeID(v), nil
}

func (d *forestDecoder) idList() ([]DecoratorID, error) {
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]DecoratorID, n)
	for i := 0; i < n; i++ {
		v, err := d.u32()
		if err != nil {
			return nil, err
		}
		if int(v) >= d.numDecorators {
			return nil, d.corrupt("decorator id %d out of range", v)
		}
		out[i] = DecoratorID(v)
	}
	return out, nil
}

func (d *forestDecoder) node(prior []Node) (Node, error) {
	var n Node
	kind, err := d.r.ReadByte()
	if err != nil {
		return n, d.corrupt("truncated node table")
	}
	n.kind = NodeKind(kind)
	switch n.kind {
	case KindBasicBlock:
		opCount, err := d.count()
		if err != nil {
			return n, err
		}
		if opCount == 0 {
			return n, d.corrupt("empty basic block")
		}
		n.ops = make([]Op, opCount)
		for i := 0; i < opCount; i++ {
			code, err := d.r.ReadByte()
			if err != nil {
				return n, d.corrupt("truncated block")
			}
			op := Op{Code: OpCode(code)}
			if !op.Code.Valid() || op.Code.IsPseudo() {
				return n, d.corrupt("opcode %#x inside block", code)
			}
			if op.Code.HasImmediate() {
				imm, err := binary.ReadUvarint(d.r)
				if err != nil {
					return n, d.corrupt("truncated immediate")
				}
				op.Imm = common.NewFelt(imm)
			}
			n.ops[i] = op
		}
		odCount, err := d.count()
		if err != nil {
			return n, err
		}
		for i := 0; i < odCount; i++ {
			opIdx, err := d.u32()
			if err != nil {
				return n, err
			}
			rawID, err := d.u32()
			if err != nil {
				return n, err
			}
			if int(opIdx) >= opCount {
				return n, d.corrupt("op decorator index %d past block end", opIdx)
			}
			if int(rawID) >= d.numDecorators {
				return n, d.corrupt("decorator id %d out of range", rawID)
			}
			n.opDecs = append(n.opDecs, OpDecorator{OpIdx: opIdx, ID: DecoratorID(rawID)})
		}
		n.digest = crypto.HashElements(crypto.DomainBlock, encodeOps(n.ops))
	case KindJoin, KindSplit:
		c0, err := d.nodeRef(len(prior))
		if err != nil {
			return n, err
		}
		c1, err := d.nodeRef(len(prior))
		if err != nil {
			return n, err
		}
		n.children = [2]NodeID{c0, c1}
		domain := crypto.DomainJoin
		if n.kind == KindSplit {
			domain = crypto.DomainSplit
		}
		n.digest = crypto.MergeDigests(domain, prior[c0].digest, prior[c1].digest)
	case KindLoop, KindCall, KindSyscall:
		c0, err := d.nodeRef(len(prior))
		if err != nil {
			return n, err
		}
		n.children = [2]NodeID{c0, InvalidNodeID}
		var domain crypto.Domain
		switch n.kind {
		case KindLoop:
			domain = crypto.DomainLoop
		case KindCall:
			domain = crypto.DomainCall
		default:
			domain = crypto.DomainSyscall
		}
		n.digest = crypto.MergeDigests(domain, prior[c0].digest, common.EmptyDigest)
	case KindDyn:
		n.digest = crypto.DomainDigest(crypto.DomainDyn)
	case KindDyncall:
		n.digest = crypto.DomainDigest(crypto.DomainDyncall)
	case KindExternal:
		var raw [common.DigestLength]byte
		if _, err := io.ReadFull(d.r, raw[:]); err != nil {
			return n, d.corrupt("truncated external digest")
		}
		n.digest = common.BytesToDigest(raw)
	default:
		return n, d.corrupt("node kind %#x", kind)
	}
	if n.before, err = d.idList(); err != nil {
		return n, err
	}
	if n.after, err = d.idList(); err != nil {
		return n, err
	}
	return n, nil
}
