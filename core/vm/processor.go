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
	"sync/atomic"
	"time"

	log "github.com/inconshreveable/log15"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/store"
	"github.com/mastvm/mastvm/core/vm/tracing"
	"github.com/mastvm/mastvm/params"
)

var (
	runMeter     = metrics.NewRegisteredMeter("vm/run", nil)
	runErrMeter  = metrics.NewRegisteredMeter("vm/run/error", nil)
	cycleMeter   = metrics.NewRegisteredMeter("vm/cycles", nil)
	resolveMeter = metrics.NewRegisteredMeter("vm/resolve", nil)
	eventMeter   = metrics.NewRegisteredMeter("vm/events", nil)
	runTimer     = metrics.NewRegisteredTimer("vm/run/time", nil)

	vmLogger = log.New("module", "vm")
)

// Config carries the optional collaborators of a processor. The zero value
// runs programs with no tracing, no store and a host that rejects every
// event.
type Config struct {
	// Hooks receives the execution's tracing callbacks.
	Hooks *tracing.Hooks

	// Host answers non-system events.
	Host Host

	// Resolver serves forests for external node digests.
	Resolver store.Resolver

	// MaxCycles caps the clock. Zero selects the protocol ceiling.
	MaxCycles uint32

	// WrapBackend, when set, wraps the live backend before execution
	// starts. The trace recorder uses this seam to log nondeterminism.
	WrapBackend func(Backend) Backend
}

// StackInputs seeds the visible operand stack, element 0 landing on top.
// At most sixteen values fit.
type StackInputs []common.Felt

// StackOutputs is the operand stack as the program left it: the sixteen
// visible slots plus any overflow remainder, newest spill first.
type StackOutputs struct {
	Stack    [params.StackDepth]common.Felt
	Depth    int
	Overflow []common.Felt
}

// Top returns the top stack slot.
func (o *StackOutputs) Top() common.Felt { return o.Stack[0] }

// Get returns visible slot i.
func (o *StackOutputs) Get(i int) common.Felt { return o.Stack[i] }

// ExecutionResult bundles what a completed run leaves behind.
type ExecutionResult struct {
	Outputs StackOutputs
	Cycles  uint32
	Memory  *Memory
	Advice  *AdviceProvider
}

// Processor runs programs sequentially. It is safe to run many programs
// through one processor, one at a time; Cancel aborts the run in flight.
type Processor struct {
	cfg       Config
	cancelled atomic.Bool
}

// NewProcessor returns a processor with the given configuration. A nil
// config selects all defaults.
func NewProcessor(cfg *Config) *Processor {
	p := &Processor{}
	if cfg != nil {
		p.cfg = *cfg
	}
	if p.cfg.Host == nil {
		p.cfg.Host = NoopHost{}
	}
	return p
}

// Cancel aborts the run in flight at its next cycle boundary.
func (p *Processor) Cancel() {
	p.cancelled.Store(true)
}

// Run executes the program to completion over the given inputs.
func (p *Processor) Run(ctx context.Context, prog *mast.Program, inputs StackInputs, advice *AdviceInputs) (*ExecutionResult, error) {
	start := time.Now()
	runMeter.Mark(1)
	p.cancelled.Store(false)

	stack := NewStack()
	if err := seedStack(stack, inputs); err != nil {
		runErrMeter.Mark(1)
		return nil, err
	}
	ap, err := NewAdviceProvider(advice)
	if err != nil {
		runErrMeter.Mark(1)
		return nil, err
	}
	live := NewLiveBackend(ap)
	var backend Backend = live
	if p.cfg.WrapBackend != nil {
		backend = p.cfg.WrapBackend(live)
	}
	sys := NewSystem()
	sys.SetFnHash(prog.Digest())
	d := NewDispatcher(prog, stack, sys, backend, p.cfg.Hooks, p.cfg.MaxCycles)

	vmLogger.Debug("Executing program", "entry", prog.Digest(), "stack", len(inputs))
	err = p.drive(ctx, d, live)

	clk := sys.Clk()
	cycleMeter.Mark(int64(clk))
	runTimer.Update(time.Since(start))
	if d.hooks.OnExecutionEnd != nil {
		d.hooks.OnExecutionEnd(clk, err)
	}
	if err != nil {
		runErrMeter.Mark(1)
		vmLogger.Debug("Execution failed", "entry", prog.Digest(), "clk", clk, "err", err)
		return nil, err
	}
	vmLogger.Debug("Execution finished", "entry", prog.Digest(), "cycles", clk, "elapsed", common.PrettyDuration(time.Since(start)))

	return &ExecutionResult{
		Outputs: StackOutputs{Stack: stack.Visible(), Depth: stack.Depth(), Overflow: overflowValues(stack)},
		Cycles:  clk,
		Memory:  live.Memory(),
		Advice:  live.Advice(),
	}, nil
}

// overflowValues flattens the live overflow rows into pop order.
func overflowValues(stack *Stack) []common.Felt {
	rows := stack.OverflowRows()
	if len(rows) == 0 {
		return nil
	}
	vals := make([]common.Felt, len(rows))
	for i, row := range rows {
		vals[len(rows)-1-i] = row.Value
	}
	return vals
}

// drive steps the dispatcher until done, answering its suspensions from
// the store and the host.
func (p *Processor) drive(ctx context.Context, d *Dispatcher, live *LiveBackend) error {
	for {
		if p.cancelled.Load() {
			return ErrExecutionCancelled
		}
		if d.sys.Clk()&1023 == 0 {
			select {
			case <-ctx.Done():
				return ErrExecutionCancelled
			default:
			}
		}
		brk, err := d.Step()
		if err != nil {
			return err
		}
		if brk == nil {
			continue
		}
		switch brk.Kind {
		case BreakDone:
			return nil

		case BreakResolveExternal:
			resolveMeter.Mark(1)
			if p.cfg.Resolver == nil {
				return d.FailResolution()
			}
			res, rerr := p.cfg.Resolver.Resolve(brk.Digest)
			if rerr != nil {
				return d.FailResolution()
			}
			if err := d.ProvideResolution(res.Forest, res.Root); err != nil {
				return err
			}

		case BreakDispatchEvent:
			eventMeter.Mark(1)
			muts, herr := p.cfg.Host.OnEvent(ctx, snapshotState(d), brk.EventID)
			if herr == nil {
				herr = ApplyMutations(live.Advice(), muts)
			}
			if herr != nil {
				return d.fail(brk.Node, brk.OpIdx, &ErrEventFailed{EventID: brk.EventID, Err: herr})
			}
			if err := d.ResumeEvent(); err != nil {
				return err
			}
		}
	}
}

func seedStack(stack *Stack, inputs StackInputs) error {
	if len(inputs) > params.StackDepth {
		return ErrTooManyStackInputs
	}
	for i, v := range inputs {
		stack.Set(i, common.NewFelt(uint64(v)))
	}
	return nil
}

func snapshotState(d *Dispatcher) StateSnapshot {
	visible := d.stack.Visible()
	return StateSnapshot{
		Clk:    d.sys.Clk(),
		Ctx:    d.sys.Ctx(),
		FnHash: d.sys.FnHash(),
		Stack:  visible[:],
	}
}
