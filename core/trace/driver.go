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

// Package trace turns an execution into the per-cycle trace matrix the
// constraint system consumes. A single recording pass runs the program
// sequentially and logs every nondeterministic decision; the cycle range is
// then cut into fragments, each re-executed in parallel from a boundary
// snapshot against its own slice of the logs. The concatenated rows are
// bit-identical to a head-to-tail run by construction, and divergence is
// treated as an engine defect.
package trace

import (
	"context"
	"errors"
	"time"

	log "github.com/inconshreveable/log15"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/mastvm/mastvm/common"
	"github.com/mastvm/mastvm/common/gopool"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/vm"
	"github.com/mastvm/mastvm/params"
)

var (
	traceMeter    = metrics.NewRegisteredMeter("trace/generate", nil)
	fragmentMeter = metrics.NewRegisteredMeter("trace/fragments", nil)
	rowMeter      = metrics.NewRegisteredMeter("trace/rows", nil)
	recordTimer   = metrics.NewRegisteredTimer("trace/record/time", nil)
	replayTimer   = metrics.NewRegisteredTimer("trace/replay/time", nil)

	traceLogger = log.New("module", "trace")
)

// ErrEmptyExecution is returned when a program finishes without executing a
// single cycle. No such program can be built, so seeing this means the
// dispatcher was driven from a corrupt state.
var ErrEmptyExecution = errors.New("trace: execution produced no cycles")

// Config tunes trace generation. The zero value selects the protocol
// fragment length and a worker count sized to the host.
type Config struct {
	// FragmentLength is the cycle count each replay fragment covers. The
	// final fragment may be shorter.
	FragmentLength uint32

	// Workers caps the number of fragments replaying concurrently.
	Workers int
}

// Sanitize fills defaults and clamps nonsense values. Workers stays zero
// for "size to the host", decided once the fragment count is known.
func (cfg Config) Sanitize() Config {
	if cfg.FragmentLength == 0 {
		cfg.FragmentLength = params.DefaultFragmentLength
	}
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	return cfg
}

// Execute runs the program twice over: a sequential recording pass for the
// outputs and replay logs, then a parallel replay pass for the trace rows.
// The returned trace is padded to a power-of-two height; the execution
// result is the recording pass's.
func Execute(ctx context.Context, prog *mast.Program, inputs vm.StackInputs, advice *vm.AdviceInputs, vmCfg vm.Config, cfg Config) (*Trace, *vm.ExecutionResult, error) {
	cfg = cfg.Sanitize()
	traceMeter.Mark(1)

	rec := NewRecorder(cfg.FragmentLength)
	recCfg := vmCfg
	recCfg.Hooks = rec.Hooks(vmCfg.Hooks)
	recCfg.Resolver = rec.WrapResolver(vmCfg.Resolver)
	if vmCfg.Host != nil {
		recCfg.Host = rec.WrapHost(vmCfg.Host)
	}
	recCfg.WrapBackend = func(b vm.Backend) vm.Backend {
		if vmCfg.WrapBackend != nil {
			b = vmCfg.WrapBackend(b)
		}
		return rec.WrapBackend(b)
	}

	recordStart := time.Now()
	result, err := vm.NewProcessor(&recCfg).Run(ctx, prog, inputs, advice)
	recordTimer.UpdateSince(recordStart)
	if err != nil {
		return nil, nil, err
	}
	n := int(result.Cycles)
	if n == 0 {
		return nil, nil, ErrEmptyExecution
	}

	replayStart := time.Now()
	tr, err := regenerate(prog, rec, uint32(n), cfg)
	replayTimer.UpdateSince(replayStart)
	if err != nil {
		return nil, nil, err
	}

	rowMeter.Mark(int64(tr.Length()))
	traceLogger.Debug("Trace generated", "cycles", n, "height", tr.Length(),
		"fragments", len(rec.Checkpoints()), "fragmentLength", cfg.FragmentLength,
		"elapsed", common.PrettyDuration(time.Since(recordStart)))
	return tr, result, nil
}

// regenerate builds the full matrix from the recorder's checkpoints and
// logs, one parallel replay task per fragment. Row order is fixed by the
// fragments' cycle windows, never by completion order.
func regenerate(prog *mast.Program, rec *Recorder, n uint32, cfg Config) (*Trace, error) {
	checkpoints := rec.Checkpoints()
	logs := rec.Logs()
	fragmentMeter.Mark(int64(len(checkpoints)))

	height := paddedLength(int(n))
	backing := make([]common.Felt, height*RowWidth)
	rows := make([][]common.Felt, height)
	for i := range rows {
		rows[i] = backing[i*RowWidth : (i+1)*RowWidth]
	}

	limit := cfg.Workers
	if limit == 0 {
		limit = gopool.Threads(len(checkpoints))
	}
	var workers errgroup.Group
	workers.SetLimit(limit)
	for _, cp := range checkpoints {
		cp := cp
		end := cp.Clk + cfg.FragmentLength
		if end > n {
			end = n
		}
		workers.Go(func() error {
			return replayFragment(prog, cp, logs, end, rows[cp.Clk:end])
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}

	padRows(rows, int(n))
	return &Trace{Rows: rows, NumProgramRows: int(n), Logs: logs}, nil
}
