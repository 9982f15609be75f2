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

// Package prlock provides a two-tier writer lock over shared reader access.
// Resolver stores use it so that a publish feeding a stalled execution jumps
// ahead of bulk imports, while lookups stay cheap shared reads.
package prlock

import "sync"

// Prlock is a readers/writer lock with two writer priorities. High-priority
// writers overtake queued low-priority ones; readers proceed concurrently
// whenever no writer holds the data.
type Prlock struct {
	data sync.RWMutex // guards the protected state
	next sync.Mutex   // hands the data lock to the next writer
	low  sync.Mutex   // serializes low-priority writers behind the queue
}

// New returns an unlocked Prlock.
func New() *Prlock {
	return &Prlock{}
}

// LockLow acquires the lock for a low-priority writer. It waits for every
// queued high-priority writer first.
func (p *Prlock) LockLow() {
	p.low.Lock()
	p.next.Lock()
	p.data.Lock()
	p.next.Unlock()
}

// UnlockLow releases a lock taken with LockLow.
func (p *Prlock) UnlockLow() {
	p.data.Unlock()
	p.low.Unlock()
}

// LockHigh acquires the lock for a high-priority writer, bypassing any
// low-priority writer that has not yet reached the data.
func (p *Prlock) LockHigh() {
	p.next.Lock()
	p.data.Lock()
	p.next.Unlock()
}

// UnlockHigh releases a lock taken with LockHigh.
func (p *Prlock) UnlockHigh() {
	p.data.Unlock()
}

// LockRead acquires shared read access.
func (p *Prlock) LockRead() {
	p.data.RLock()
}

// UnlockRead releases shared read access.
func (p *Prlock) UnlockRead() {
	p.data.RUnlock()
}
