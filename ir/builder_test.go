// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir_test

import (
	"testing"

	"github.com/dynarm/dynarm/guest"
	"github.com/dynarm/dynarm/ir"
)

// TestBuildAddsBlock builds the IR for "ADDS r0, r1, r2" followed by an
// unconditional branch back to the block's own start address, and checks
// the resulting shape: one micro-block, an ALU op with SetFlags, a
// matching UpdateNZCV reading the same operands, and a terminating Flush
// that leaves Fallthrough unset.
func TestBuildAddsBlock(t *testing.T) {
	b := ir.NewBuilder()
	key := ir.Key{Addr: 0x8000, Mode: guest.Supervisor, Thumb: false}
	b.StartBlock(key)
	b.StartMicroBlock(ir.AL)

	r1 := b.LoadGuestReg(ir.CurrentGuestReg(1))
	r2 := b.LoadGuestReg(ir.CurrentGuestReg(2))
	sum := b.Alu(ir.ADD, ir.VarOperand(r1), ir.VarOperand(r2), true)
	b.UpdateNZCV(ir.ADD, ir.VarOperand(sum), ir.VarOperand(r1), ir.VarOperand(r2))
	b.StoreGuestReg(ir.CurrentGuestReg(0), ir.VarOperand(sum))
	b.Flush(ir.ConstOperand(ir.Const(key.Addr)), false)

	blk := b.Finish()
	blk.Key = key
	blk.Length = 4

	if len(blk.MicroBlocks) != 1 {
		t.Fatalf("got %d micro-blocks, want 1", len(blk.MicroBlocks))
	}
	mb := blk.MicroBlocks[0]
	if mb.Predicate != ir.AL {
		t.Fatalf("predicate = %s, want AL", mb.Predicate)
	}

	const wantOps = 6 // 2 loads, alu, updatenzcv, store, flush
	if len(mb.Ops) != wantOps {
		t.Fatalf("got %d ops, want %d", len(mb.Ops), wantOps)
	}

	aluOp := mb.Ops[2]
	if aluOp.Kind != ir.ALU || aluOp.ALUOp != ir.ADD || !aluOp.SetFlags {
		t.Fatalf("unexpected ALU op: %+v", aluOp)
	}
	if !aluOp.Reads(r1) || !aluOp.Reads(r2) {
		t.Fatalf("ALU op does not read its declared operands")
	}
	if !aluOp.Writes(sum) {
		t.Fatalf("ALU op does not write its declared destination")
	}

	flushOp := mb.Ops[len(mb.Ops)-1]
	if flushOp.Kind != ir.Flush {
		t.Fatalf("last op kind = %v, want Flush", flushOp.Kind)
	}

	if blk.EndsInUnconditionalFlush() != true {
		t.Fatalf("EndsInUnconditionalFlush = false, want true")
	}
	if blk.InstructionCount() != wantOps {
		t.Fatalf("InstructionCount = %d, want %d", blk.InstructionCount(), wantOps)
	}
}

// TestBuilderResetReusesArena exercises the per-CPU arena-reset workflow:
// a second block built after Reset must not see stale ops or variable
// ids left over from the first.
func TestBuilderResetReusesArena(t *testing.T) {
	b := ir.NewBuilder()

	b.StartBlock(ir.Key{Addr: 0x1000})
	b.StartMicroBlock(ir.AL)
	v0 := b.CreateVar("")
	b.Flush(ir.ConstOperand(0), false)
	_ = b.Finish()
	if v0 != 0 {
		t.Fatalf("first var id = %d, want 0", v0)
	}

	b.Reset()

	b.StartBlock(ir.Key{Addr: 0x2000})
	b.StartMicroBlock(ir.AL)
	v1 := b.CreateVar("")
	b.Flush(ir.ConstOperand(0), false)
	blk := b.Finish()

	if v1 != 0 {
		t.Fatalf("var id after Reset = %d, want 0 (counter must reset too)", v1)
	}
	if len(blk.MicroBlocks[0].Ops) != 1 {
		t.Fatalf("got %d ops after reset, want 1", len(blk.MicroBlocks[0].Ops))
	}
}

// TestKeyDistinguishesModeAndThumb asserts the block-key-totality
// invariant: two blocks at the same address but different mode or
// instruction-set state compare unequal.
func TestKeyDistinguishesModeAndThumb(t *testing.T) {
	a := ir.Key{Addr: 0x4000, Mode: guest.User, Thumb: false}
	bb := ir.Key{Addr: 0x4000, Mode: guest.User, Thumb: true}
	c := ir.Key{Addr: 0x4000, Mode: guest.IRQ, Thumb: false}

	if a == bb {
		t.Fatalf("keys differing only in Thumb compared equal")
	}
	if a == c {
		t.Fatalf("keys differing only in Mode compared equal")
	}
}
