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
	"fmt"
	"sync"

	"github.com/davecgh/go-spew/spew"

	"github.com/mastvm/mastvm/common/gopool"
	"github.com/mastvm/mastvm/core/mast"
	"github.com/mastvm/mastvm/core/vm"
	"github.com/mastvm/mastvm/params"
)

// CheckConsistency regenerates the program's trace once per fragment length
// from 1 to the full cycle count and checks every matrix against the
// single-fragment reference, row for row. It is exhaustive and meant for
// tests; hosts and resolvers in vmCfg must answer deterministically since
// every length is a full record pass.
func CheckConsistency(ctx context.Context, prog *mast.Program, inputs vm.StackInputs, advice *vm.AdviceInputs, vmCfg vm.Config) error {
	ref, _, err := Execute(ctx, prog, inputs, advice, vmCfg, Config{FragmentLength: params.MaxCycles})
	if err != nil {
		return err
	}
	n := ref.NumProgramRows

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	for f := 1; f <= n; f++ {
		f := f
		wg.Add(1)
		run := func() {
			defer wg.Done()
			tr, _, err := Execute(ctx, prog, inputs, advice, vmCfg, Config{FragmentLength: uint32(f)})
			if err != nil {
				fail(fmt.Errorf("fragment length %d: %w", f, err))
				return
			}
			if err := diffTraces(ref, tr); err != nil {
				fail(fmt.Errorf("fragment length %d: %w", f, err))
			}
		}
		if err := gopool.Submit(run); err != nil {
			run()
		}
	}
	wg.Wait()
	return firstErr
}

// diffTraces compares two traces and reports the first divergent row with a
// full dump of both sides.
func diffTraces(want, got *Trace) error {
	if want.Length() != got.Length() || want.NumProgramRows != got.NumProgramRows {
		return fmt.Errorf("shape mismatch: want %d rows (%d program), got %d rows (%d program)",
			want.Length(), want.NumProgramRows, got.Length(), got.NumProgramRows)
	}
	for i := range want.Rows {
		for c := range want.Rows[i] {
			if want.Rows[i][c] != got.Rows[i][c] {
				return fmt.Errorf("row %d column %d diverges\nwant: %sgot: %s",
					i, c, spew.Sdump(want.Rows[i]), spew.Sdump(got.Rows[i]))
			}
		}
	}
	return nil
}
