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

package prlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrlockMutualExclusion(t *testing.T) {
	p := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.LockHigh()
			counter++
			p.UnlockHigh()
		}()
		go func() {
			defer wg.Done()
			p.LockLow()
			counter++
			p.UnlockLow()
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, counter)
}

func TestPrlockReadersShare(t *testing.T) {
	p := New()
	p.LockRead()
	done := make(chan struct{})
	go func() {
		p.LockRead()
		p.UnlockRead()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second reader blocked behind the first")
	}
	p.UnlockRead()
}

func TestPrlockHighOvertakesLow(t *testing.T) {
	p := New()

	// A low writer parked on the queue must not keep a high writer out
	// once the current holder releases.
	p.LockLow()

	lowDone := make(chan struct{})
	go func() {
		p.LockLow()
		p.UnlockLow()
		close(lowDone)
	}()

	highDone := make(chan struct{})
	go func() {
		p.LockHigh()
		p.UnlockHigh()
		close(highDone)
	}()

	p.UnlockLow()
	select {
	case <-highDone:
	case <-time.After(5 * time.Second):
		t.Fatal("high-priority writer starved")
	}
	select {
	case <-lowDone:
	case <-time.After(5 * time.Second):
		t.Fatal("low-priority writer never ran")
	}
}
