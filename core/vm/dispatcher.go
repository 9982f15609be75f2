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
	"fmt"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/vm/tracing"
	"github.com/mastvm/mastvm/params"
)

// Dispatcher drives a program through its continuation stack one clock
// cycle at a time. Step executes exactly one cycle; work that costs no
// cycle (external redirects, forest switches, decorator firing) runs
// inside the same call. When the machine cannot proceed without outside
// help it parks a Break and returns it; the owner answers through
// ProvideResolution or ResumeEvent and calls Step again.
type Dispatcher struct {
	prog      *mast.Program
	forest    *mast.Forest // forest the continuation node ids resolve against
	stack     *Stack
	sys       *System
	backend   Backend
	hooks     *tracing.Hooks
	maxCycles uint32

	conts   []Continuation
	current Continuation // entry being executed by the step in flight
	pending *Break
}

// NewDispatcher builds a dispatcher positioned at the program entrypoint.
// A zero maxCycles selects the protocol ceiling.
func NewDispatcher(prog *mast.Program, stack *Stack, sys *System, backend Backend, hooks *tracing.Hooks, maxCycles uint32) *Dispatcher {
	if hooks == nil {
		hooks = new(tracing.Hooks)
	}
	if maxCycles == 0 || maxCycles > params.MaxCycles {
		maxCycles = params.MaxCycles
	}
	d := &Dispatcher{
		prog:      prog,
		forest:    prog.Forest(),
		stack:     stack,
		sys:       sys,
		backend:   backend,
		hooks:     hooks,
		maxCycles: maxCycles,
	}
	d.conts = append(d.conts, startCont(prog.Entrypoint()))
	return d
}

// OpContext implementation, handed to hooks as the scope.

func (d *Dispatcher) Clk() uint32                 { return d.sys.Clk() }
func (d *Dispatcher) Ctx() uint32                 { return d.sys.Ctx() }
func (d *Dispatcher) StackDepth() int             { return d.stack.Depth() }
func (d *Dispatcher) StackItem(i int) common.Felt { return d.stack.Get(i) }
func (d *Dispatcher) FnHash() common.Digest       { return d.sys.FnHash() }

// Stack returns the operand stack.
func (d *Dispatcher) Stack() *Stack { return d.stack }

// System returns the system registers.
func (d *Dispatcher) System() *System { return d.sys }

// Program returns the executing program.
func (d *Dispatcher) Program() *mast.Program { return d.prog }

// ActiveForest returns the forest node ids currently resolve against.
func (d *Dispatcher) ActiveForest() *mast.Forest { return d.forest }

// SetActiveForest overrides the active forest. Used when seeding a
// dispatcher from a cycle boundary snapshot.
func (d *Dispatcher) SetActiveForest(f *mast.Forest) { d.forest = f }

// CurrentContinuation returns the entry the step in flight is executing.
// It is popped before the cycle hooks fire, so a hook reconstructing the
// full work list appends it on top of Continuations.
func (d *Dispatcher) CurrentContinuation() Continuation { return d.current }

// Continuations returns a copy of the continuation stack, bottom first.
func (d *Dispatcher) Continuations() []Continuation {
	return append([]Continuation(nil), d.conts...)
}

// LoadContinuations replaces the continuation stack. Used when seeding a
// dispatcher from a cycle boundary snapshot.
func (d *Dispatcher) LoadContinuations(conts []Continuation) {
	d.conts = append(d.conts[:0], conts...)
}

// Done reports whether the program has run out of continuations.
func (d *Dispatcher) Done() bool {
	return len(d.conts) == 0
}

func (d *Dispatcher) push(c Continuation) {
	d.conts = append(d.conts, c)
}

// Step executes exactly one clock cycle, or suspends. A non-nil Break
// reports either completion or a request the owner must answer before the
// next Step.
func (d *Dispatcher) Step() (*Break, error) {
	if d.pending != nil {
		return nil, ErrInvalidResume
	}
	for {
		if len(d.conts) == 0 {
			return &Break{Kind: BreakDone}, nil
		}
		c := d.conts[len(d.conts)-1]
		d.conts = d.conts[:len(d.conts)-1]
		d.current = c

		switch c.Kind {
		case ContEnterForest:
			d.forest = c.Forest
			continue

		case ContAfterExit:
			node := d.forest.Node(c.Node)
			d.fireDecorators(c.Node, node.AfterExit())
			if d.hooks.OnNodeFinish != nil {
				d.hooks.OnNodeFinish(c.Node, node.Kind(), d)
			}
			continue

		case ContStartNode:
			node := d.forest.Node(c.Node)
			if node == nil {
				return nil, d.fail(c.Node, -1, fmt.Errorf("%w: %d", mast.ErrUnknownNodeID, c.Node))
			}
			if node.Kind() == mast.KindExternal {
				d.redirectExternal(c.Node, node)
				if d.pending != nil {
					return d.pending, nil
				}
				continue
			}
			if node.Kind() == mast.KindBasicBlock {
				return d.stepBlock(c, node)
			}
			return d.stepControlStart(c.Node, node)

		case ContFinishJoin, ContFinishSplit, ContFinishDyn:
			return d.stepFinishPlain(c)

		case ContFinishLoop:
			return d.stepFinishLoop(c)

		case ContFinishCall:
			return d.stepFinishCall(c)

		default:
			return nil, d.fail(c.Node, -1, fmt.Errorf("unknown continuation kind %d", c.Kind))
		}
	}
}

// beginCycle enforces the cycle ceiling and emits the row hook with the
// state as it stands before this cycle's transition.
func (d *Dispatcher) beginCycle(node mast.NodeID, op mast.OpCode, opIdx int) error {
	if d.sys.Clk() >= d.maxCycles {
		return ErrCycleLimitExceeded
	}
	if d.hooks.OnCycle != nil {
		d.hooks.OnCycle(d.sys.Clk(), node, op, opIdx, d)
	}
	return nil
}

func (d *Dispatcher) stepBlock(c Continuation, node *mast.Node) (*Break, error) {
	ops := node.Operations()
	if c.OpIdx == 0 {
		if d.hooks.OnNodeStart != nil {
			d.hooks.OnNodeStart(c.Node, mast.KindBasicBlock, d)
		}
		d.fireDecorators(c.Node, node.BeforeEnter())
	}
	op := ops[c.OpIdx]
	if err := d.beginCycle(c.Node, op.Code, c.OpIdx); err != nil {
		return nil, d.fail(c.Node, c.OpIdx, err)
	}
	d.fireOpDecorators(c.Node, node, c.OpIdx)
	if d.hooks.OnOperation != nil {
		d.hooks.OnOperation(c.Node, c.OpIdx, op, d)
	}
	if c.OpIdx+1 < len(ops) {
		d.push(resumeBlockCont(c.Node, c.OpIdx+1))
	}
	fn := jumpTable[op.Code]
	if fn == nil {
		return nil, d.fail(c.Node, c.OpIdx, fmt.Errorf("%w: %s", mast.ErrInvalidOperation, op.Code))
	}
	if err := fn(d, op); err != nil {
		return nil, d.fail(c.Node, c.OpIdx, err)
	}
	d.sys.AdvanceClk()
	if c.OpIdx+1 == len(ops) {
		d.fireDecorators(c.Node, node.AfterExit())
		if d.hooks.OnNodeFinish != nil {
			d.hooks.OnNodeFinish(c.Node, mast.KindBasicBlock, d)
		}
	}
	if d.pending != nil {
		d.pending.Node, d.pending.OpIdx = c.Node, c.OpIdx
		return d.pending, nil
	}
	return nil, nil
}

func (d *Dispatcher) stepControlStart(id mast.NodeID, node *mast.Node) (*Break, error) {
	if d.hooks.OnNodeStart != nil {
		d.hooks.OnNodeStart(id, node.Kind(), d)
	}
	d.fireDecorators(id, node.BeforeEnter())
	if err := d.beginCycle(id, node.StartOp(), -1); err != nil {
		return nil, d.fail(id, -1, err)
	}
	clk := d.sys.Clk()

	switch node.Kind() {
	case mast.KindJoin:
		d.push(finishCont(ContFinishJoin, id))
		d.push(startCont(node.Second()))
		d.push(startCont(node.First()))

	case mast.KindSplit:
		cond := d.stack.Get(0)
		if !cond.IsBinary() {
			return nil, d.fail(id, -1, &ErrNotBinaryValue{Value: cond})
		}
		d.stack.ShiftLeft(clk, 0)
		d.push(finishCont(ContFinishSplit, id))
		if cond.IsOne() {
			d.push(startCont(node.OnTrue()))
		} else {
			d.push(startCont(node.OnFalse()))
		}

	case mast.KindLoop:
		cond := d.stack.Get(0)
		if !cond.IsBinary() {
			return nil, d.fail(id, -1, &ErrNotBinaryValue{Value: cond})
		}
		d.stack.ShiftLeft(clk, 0)
		if cond.IsOne() {
			d.push(finishLoopCont(id, true))
			d.push(startCont(node.Body()))
		} else {
			d.push(finishLoopCont(id, false))
		}

	case mast.KindCall:
		target := d.forest.Node(node.Callee()).Digest()
		d.saveCallerFrame(false)
		d.sys.SetCtx(d.sys.AllocateContext())
		d.sys.SetFmp(common.Felt(params.FmpBase))
		d.sys.SetFnHash(target)
		d.sys.SetInSyscall(false)
		d.push(finishCont(ContFinishCall, id))
		d.push(startCont(node.Callee()))

	case mast.KindSyscall:
		target := d.forest.Node(node.Callee()).Digest()
		if !d.prog.IsKernelProcedure(target) {
			return nil, d.fail(id, -1, &ErrSyscallTargetNotInKernel{Digest: target})
		}
		d.saveCallerFrame(false)
		d.sys.SetCtx(params.RootContext)
		d.sys.SetFmp(common.Felt(params.FmpBase))
		d.sys.SetInSyscall(true)
		d.push(finishCont(ContFinishCall, id))
		d.push(startCont(node.Callee()))

	case mast.KindDyn:
		target, err := d.popDynTarget(clk)
		if err != nil {
			return nil, d.fail(id, -1, err)
		}
		d.push(finishCont(ContFinishDyn, id))
		d.resolveTarget(id, target)

	case mast.KindDyncall:
		target, err := d.readDynTarget(clk)
		if err != nil {
			return nil, d.fail(id, -1, err)
		}
		d.saveCallerFrame(true)
		d.sys.SetCtx(d.sys.AllocateContext())
		d.sys.SetFmp(common.Felt(params.FmpBase))
		d.sys.SetFnHash(target)
		d.sys.SetInSyscall(false)
		d.push(finishCont(ContFinishCall, id))
		d.resolveTarget(id, target)

	default:
		return nil, d.fail(id, -1, fmt.Errorf("node kind %s cannot start", node.Kind()))
	}

	d.sys.AdvanceClk()
	if d.pending != nil {
		return d.pending, nil
	}
	return nil, nil
}

// saveCallerFrame snapshots the caller registers and hides the caller's
// stack context. With shift set the top slot is dropped first, which is
// how dyncall consumes the target address.
func (d *Dispatcher) saveCallerFrame(shift bool) {
	frame := CallFrame{
		Ctx:       d.sys.Ctx(),
		Fmp:       d.sys.Fmp(),
		FnHash:    d.sys.FnHash(),
		InSyscall: d.sys.InSyscall(),
	}
	if shift {
		frame.Depth, frame.Overflow = d.stack.ShiftLeftAndStartContext(d.sys.Clk())
	} else {
		frame.Depth, frame.Overflow = d.stack.StartContext()
	}
	d.backend.SaveFrame(frame)
}

// popDynTarget pops the memory address off the stack and reads the target
// digest word stored there.
func (d *Dispatcher) popDynTarget(clk uint32) (common.Digest, error) {
	target, err := d.readDynTarget(clk)
	if err != nil {
		return common.EmptyDigest, err
	}
	d.stack.ShiftLeft(clk, 0)
	return target, nil
}

// readDynTarget reads the target digest word addressed by the top stack
// slot, leaving the stack untouched.
func (d *Dispatcher) readDynTarget(clk uint32) (common.Digest, error) {
	w, err := d.backend.MemLoadWord(d.sys.Ctx(), d.stack.Get(0), clk)
	if err != nil {
		return common.EmptyDigest, err
	}
	return w.Digest(), nil
}

// resolveTarget pushes the local node carrying the digest, or parks a
// resolution request when the active forest has none.
func (d *Dispatcher) resolveTarget(owner mast.NodeID, digest common.Digest) {
	if id, ok := d.forest.NodeByDigest(digest); ok && d.forest.Node(id).Kind() != mast.KindExternal {
		d.push(startCont(id))
		return
	}
	d.pending = &Break{Kind: BreakResolveExternal, Digest: digest, Node: owner, OpIdx: -1}
}

// redirectExternal treats an external node as a zero-cost jump to the code
// carrying its digest.
func (d *Dispatcher) redirectExternal(id mast.NodeID, node *mast.Node) {
	if d.hooks.OnNodeStart != nil {
		d.hooks.OnNodeStart(id, mast.KindExternal, d)
	}
	d.fireDecorators(id, node.BeforeEnter())
	d.push(afterExitCont(id))
	d.resolveTarget(id, node.Digest())
}

func (d *Dispatcher) stepFinishPlain(c Continuation) (*Break, error) {
	node := d.forest.Node(c.Node)
	if err := d.beginCycle(c.Node, mast.END, -1); err != nil {
		return nil, d.fail(c.Node, -1, err)
	}
	d.sys.AdvanceClk()
	d.fireDecorators(c.Node, node.AfterExit())
	if d.hooks.OnNodeFinish != nil {
		d.hooks.OnNodeFinish(c.Node, node.Kind(), d)
	}
	return nil, nil
}

func (d *Dispatcher) stepFinishLoop(c Continuation) (*Break, error) {
	node := d.forest.Node(c.Node)
	if !c.Reenter {
		return d.stepFinishPlain(c)
	}
	cond := d.stack.Get(0)
	if !cond.IsBinary() {
		return nil, d.fail(c.Node, -1, &ErrNotBinaryValue{Value: cond})
	}
	if cond.IsOne() {
		if err := d.beginCycle(c.Node, mast.REPEAT, -1); err != nil {
			return nil, d.fail(c.Node, -1, err)
		}
		d.stack.ShiftLeft(d.sys.Clk(), 0)
		d.push(finishLoopCont(c.Node, true))
		d.push(startCont(node.Body()))
		d.sys.AdvanceClk()
		return nil, nil
	}
	if err := d.beginCycle(c.Node, mast.END, -1); err != nil {
		return nil, d.fail(c.Node, -1, err)
	}
	d.stack.ShiftLeft(d.sys.Clk(), 0)
	d.sys.AdvanceClk()
	d.fireDecorators(c.Node, node.AfterExit())
	if d.hooks.OnNodeFinish != nil {
		d.hooks.OnNodeFinish(c.Node, mast.KindLoop, d)
	}
	return nil, nil
}

func (d *Dispatcher) stepFinishCall(c Continuation) (*Break, error) {
	node := d.forest.Node(c.Node)
	if err := d.beginCycle(c.Node, mast.END, -1); err != nil {
		return nil, d.fail(c.Node, -1, err)
	}
	if depth := d.stack.Depth(); depth != params.StackDepth {
		return nil, d.fail(c.Node, -1, &ErrInvalidStackDepthOnReturn{Depth: depth})
	}
	frame, err := d.backend.RestoreFrame()
	if err != nil {
		return nil, d.fail(c.Node, -1, err)
	}
	d.stack.RestoreContext(frame.Depth, frame.Overflow)
	d.sys.SetCtx(frame.Ctx)
	d.sys.SetFmp(frame.Fmp)
	d.sys.SetFnHash(frame.FnHash)
	d.sys.SetInSyscall(frame.InSyscall)
	d.sys.AdvanceClk()
	d.fireDecorators(c.Node, node.AfterExit())
	if d.hooks.OnNodeFinish != nil {
		d.hooks.OnNodeFinish(c.Node, node.Kind(), d)
	}
	return nil, nil
}

// ProvideResolution answers a BreakResolveExternal with the forest holding
// the requested digest. Resolving to another external reference fails.
func (d *Dispatcher) ProvideResolution(f *mast.Forest, root mast.NodeID) error {
	if d.pending == nil || d.pending.Kind != BreakResolveExternal {
		return ErrInvalidResume
	}
	node := f.Node(root)
	if node == nil {
		return fmt.Errorf("%w: %d", mast.ErrUnknownNodeID, root)
	}
	if node.Kind() == mast.KindExternal {
		return d.fail(d.AttributionNode(), -1, &ErrCircularExternalNode{Digest: node.Digest()})
	}
	if f != d.forest {
		d.push(enterForestCont(d.forest))
		d.forest = f
	}
	d.push(startCont(root))
	d.pending = nil
	return nil
}

// FailResolution rejects a pending resolution request, attributing the
// failure to the innermost node still awaiting a finish.
func (d *Dispatcher) FailResolution() error {
	if d.pending == nil || d.pending.Kind != BreakResolveExternal {
		return ErrInvalidResume
	}
	digest := d.pending.Digest
	return d.fail(d.AttributionNode(), -1, &ErrProcedureNotFound{Digest: digest})
}

// ResumeEvent clears a BreakDispatchEvent once the host's mutations have
// been applied.
func (d *Dispatcher) ResumeEvent() error {
	if d.pending == nil || d.pending.Kind != BreakDispatchEvent {
		return ErrInvalidResume
	}
	d.pending = nil
	return nil
}

// AttributionNode walks the continuation stack for the node that owns the
// current position: the innermost entry still awaiting its finish cycle.
func (d *Dispatcher) AttributionNode() mast.NodeID {
	for i := len(d.conts) - 1; i >= 0; i-- {
		switch d.conts[i].Kind {
		case ContFinishJoin, ContFinishSplit, ContFinishLoop, ContFinishCall, ContFinishDyn:
			return d.conts[i].Node
		}
	}
	return mast.InvalidNodeID
}

func (d *Dispatcher) fireDecorators(id mast.NodeID, decs []mast.DecoratorID) {
	if d.hooks.OnDecorator == nil {
		return
	}
	for _, decID := range decs {
		d.hooks.OnDecorator(id, d.forest.Decorator(decID), d)
	}
}

func (d *Dispatcher) fireOpDecorators(id mast.NodeID, node *mast.Node, opIdx int) {
	if d.hooks.OnDecorator == nil {
		return
	}
	for _, od := range node.OpDecorators() {
		if int(od.OpIdx) == opIdx {
			d.hooks.OnDecorator(id, d.forest.Decorator(od.ID), d)
		}
	}
}

// fail wraps err with execution position unless it is already wrapped.
func (d *Dispatcher) fail(node mast.NodeID, opIdx int, err error) error {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExecutionError{NodeID: node, OpIdx: opIdx, Clk: d.sys.Clk(), Err: err}
}
