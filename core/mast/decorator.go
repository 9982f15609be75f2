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

import "fmt"

// DecoratorID indexes the forest's decorator arena.
type DecoratorID uint32

// DecoratorKind discriminates the decorator variants.
type DecoratorKind byte

const (
	// DecoAsmOp labels the source assembly context of the surrounding code.
	DecoAsmOp DecoratorKind = iota
	// DecoDebug requests a debug snapshot with free-form options.
	DecoDebug
	// DecoTrace emits a numbered trace marker.
	DecoTrace
)

// Decorator is non-semantic metadata attached to nodes and operations. It
// never affects control flow, stack or memory; the dispatcher surfaces it
// through tracing hooks and otherwise ignores it.
type Decorator struct {
	Kind    DecoratorKind
	Context string // asm context or debug options
	TraceID uint32 // only for DecoTrace
}

func (d Decorator) String() string {
	switch d.Kind {
	case DecoAsmOp:
		return fmt.Sprintf("asmop(%s)", d.Context)
	case DecoDebug:
		return fmt.Sprintf("debug(%s)", d.Context)
	case DecoTrace:
		return fmt.Sprintf("trace(%d)", d.TraceID)
	}
	return fmt.Sprintf("decorator kind %#x not defined", byte(d.Kind))
}

// OpDecorator anchors a decorator at one operation index inside a basic
// block. The dispatcher fires it immediately before that operation executes.
type OpDecorator struct {
	OpIdx uint32
	ID    DecoratorID
}
