// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cpu

import (
	"encoding/binary"

	codegenx64 "github.com/dynarm/dynarm/codegen/x64"
	"github.com/dynarm/dynarm/ir"
)

// frame is the scratch memory a compiled block's Native segments address
// relative to RFrame, and that the driver reads and writes directly when
// interpreting an op that crosses a segment boundary. One frame is kept
// per CPU and grown (never shrunk) to the largest FrameLayout any
// compiled block has needed so far, rather than allocated fresh per
// block: spec.md §4.6 asks for steady-state Run to avoid allocating on
// the hot path, and a compiled block's frame needs are a small, slowly
// growing ceiling in practice.
type frame struct {
	mem []byte
}

// ensure grows f to hold layout's frame, if it does not already.
func (f *frame) ensure(layout codegenx64.FrameLayout) {
	need := layout.Bytes()
	if len(f.mem) >= need {
		return
	}
	f.mem = make([]byte, need)
}

func (f *frame) readSlot(slot int) uint32 {
	return binary.LittleEndian.Uint32(f.mem[slot*8:])
}

func (f *frame) writeSlot(slot int, v uint32) {
	binary.LittleEndian.PutUint32(f.mem[slot*8:], v)
}

// readOperand resolves o to its 32-bit value: an immediate directly, or
// a variable via layout.VarSlot, which crossSegmentLocations guarantees
// holds a frame slot for every variable an Interpreted op can reach.
func (f *frame) readOperand(o ir.Operand, layout codegenx64.FrameLayout) uint32 {
	if !o.IsVar() {
		return uint32(o.Const())
	}
	slot, ok := layout.VarSlot[o.Var()]
	if !ok {
		// Only reachable if an Interpreted op reads a variable that
		// never crossed a segment boundary, which would be a bug in
		// codegenx64.crossSegmentLocations rather than guest behaviour.
		return 0
	}
	return f.readSlot(slot)
}

// writeDst stores v into dst's frame slot, if dst is ever read by a
// later segment. An op whose result is never read across a boundary
// (consumed entirely within one Interpreted segment, or not read at
// all) has no entry in layout.VarSlot and the write is skipped.
func (f *frame) writeDst(dst ir.VarID, v uint32, layout codegenx64.FrameLayout) {
	if dst == ir.Invalid {
		return
	}
	if slot, ok := layout.VarSlot[dst]; ok {
		f.writeSlot(slot, v)
	}
}

// successorAddr reads the runtime-resolved branch target a Flush family
// op left behind, for a block whose terminating op had a variable
// FlushAddr and was executed natively.
func (f *frame) successorAddr(layout codegenx64.FrameLayout) uint32 {
	return f.readSlot(layout.SuccessorSlot)
}

// addr returns the address of the frame's backing array, for passing as
// callNative's frame argument. Only valid after ensure has sized it for
// the block about to run.
func (f *frame) addr() *byte {
	if len(f.mem) == 0 {
		return nil
	}
	return &f.mem[0]
}
