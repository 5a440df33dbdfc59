// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package codegenx64

import (
	"strings"
	"testing"

	dynarmconfig "github.com/dynarm/dynarm/config"
	"github.com/dynarm/dynarm/guest"
	"github.com/dynarm/dynarm/ir"
	"github.com/dynarm/dynarm/regalloc"
)

func buildBlock(t *testing.T, fill func(b *ir.Builder)) *ir.BasicBlock {
	t.Helper()
	b := ir.NewBuilder()
	b.StartBlock(ir.Key{Addr: 0x1000})
	b.StartMicroBlock(ir.AL)
	fill(b)
	return b.Finish()
}

func allocate(t *testing.T, block *ir.BasicBlock) *regalloc.Assignment {
	t.Helper()
	a := regalloc.NewAllocator()
	assign, err := a.Allocate(block)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return assign
}

// A straight run of register-only ALU ops under AL should lower to a
// single Native segment: nothing in it needs the driver.
func TestEmitBlock_AllNativeSingleSegment(t *testing.T) {
	block := buildBlock(t, func(b *ir.Builder) {
		r0 := b.LoadGuestReg(ir.CurrentGuestReg(0))
		r1 := b.LoadGuestReg(ir.CurrentGuestReg(1))
		sum := b.Alu(ir.ADD, ir.VarOperand(r0), ir.VarOperand(r1), false)
		b.StoreGuestReg(ir.CurrentGuestReg(2), ir.VarOperand(sum))
	})
	assign := allocate(t, block)

	e := NewEmitter(dynarmconfig.SysV)
	segments, frame, err := e.EmitBlock(block, assign)
	if err != nil {
		t.Fatalf("EmitBlock: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("got %d segments, want 1: %+v", len(segments), segments)
	}
	if segments[0].Kind != Native {
		t.Fatalf("segment 0 kind = %v, want Native", segments[0].Kind)
	}
	if len(segments[0].Code) == 0 {
		t.Fatal("native segment has no code")
	}
	if segments[0].Code[len(segments[0].Code)-1] != 0xC3 {
		t.Fatal("native segment does not end in a RET")
	}
	if frame.Slots != assign.NumSpillSlots {
		t.Fatalf("frame.Slots = %d, want %d (no cross-segment variables here)", frame.Slots, assign.NumSpillSlots)
	}
}

// A memory load in the middle of an otherwise-native run must split the
// block into Native/Interpreted/Native.
func TestEmitBlock_MemoryOpSplitsSegments(t *testing.T) {
	block := buildBlock(t, func(b *ir.Builder) {
		addr := b.LoadGuestReg(ir.CurrentGuestReg(0))
		word := b.MemLoad(ir.VarOperand(addr), ir.MemAttrs{Size: ir.Word})
		b.StoreGuestReg(ir.CurrentGuestReg(1), ir.VarOperand(word))
	})
	assign := allocate(t, block)

	e := NewEmitter(dynarmconfig.SysV)
	segments, _, err := e.EmitBlock(block, assign)
	if err != nil {
		t.Fatalf("EmitBlock: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("got %d segments, want 3: %+v", len(segments), segments)
	}
	wantKinds := []SegmentKind{Native, Interpreted, Native}
	for i, want := range wantKinds {
		if segments[i].Kind != want {
			t.Errorf("segment %d kind = %v, want %v", i, segments[i].Kind, want)
		}
	}
	if segments[1].Op.Kind != ir.MemLoad {
		t.Errorf("segment 1 op kind = %v, want MemLoad", segments[1].Op.Kind)
	}
}

// A guest-register write predicated on something other than AL must be
// interpreted even though StoreGuestReg is otherwise native, since
// whether it commits depends on a runtime condition check.
func TestEmitBlock_ConditionalStoreIsInterpreted(t *testing.T) {
	b := ir.NewBuilder()
	b.StartBlock(ir.Key{Addr: 0x2000})
	b.StartMicroBlock(ir.EQ)
	r0 := b.LoadGuestReg(ir.CurrentGuestReg(0))
	b.StoreGuestReg(ir.CurrentGuestReg(1), ir.VarOperand(r0))
	block := b.Finish()
	assign := allocate(t, block)

	e := NewEmitter(dynarmconfig.SysV)
	segments, _, err := e.EmitBlock(block, assign)
	if err != nil {
		t.Fatalf("EmitBlock: %v", err)
	}
	var sawInterpretedStore bool
	for _, seg := range segments {
		if seg.Kind == Interpreted && seg.Op.Kind == ir.StoreGuestReg {
			sawInterpretedStore = true
			if seg.Pred != ir.EQ {
				t.Errorf("interpreted StoreGuestReg predicate = %v, want EQ", seg.Pred)
			}
		}
	}
	if !sawInterpretedStore {
		t.Fatalf("no interpreted StoreGuestReg segment found: %+v", segments)
	}
}

// A block whose fast-path operand was spilled by the allocator must still
// lower correctly: assignSegments' second sweep forces that op into the
// interpreted path rather than emitting a register-register encoding
// against a slot the allocator never put in a register.
func TestEmitBlock_SpilledOperandForcesInterpretation(t *testing.T) {
	block := buildBlock(t, func(b *ir.Builder) {
		// Hold many values live simultaneously to exhaust the register
		// file and force a spill.
		vars := make([]ir.VarID, 0, regalloc.NumGeneral+4)
		for i := 0; i < regalloc.NumGeneral+4; i++ {
			vars = append(vars, b.LoadGuestReg(ir.CurrentGuestReg(i%16)))
		}
		acc := vars[0]
		for _, v := range vars[1:] {
			acc = b.Alu(ir.ADD, ir.VarOperand(acc), ir.VarOperand(v), false)
		}
		b.StoreGuestReg(ir.CurrentGuestReg(0), ir.VarOperand(acc))
	})
	assign := allocate(t, block)
	if assign.NumSpillSlots == 0 {
		t.Fatal("test setup expected at least one spill, got none")
	}

	e := NewEmitter(dynarmconfig.SysV)
	segments, _, err := e.EmitBlock(block, assign)
	if err != nil {
		t.Fatalf("EmitBlock: %v", err)
	}
	if len(segments) == 0 {
		t.Fatal("no segments emitted")
	}
}

// The immediate-add scenario (spec.md §8) is all-native, so its emitted
// bytes round-trip through x86asm cleanly: decoding them back out and
// asserting on the mnemonics is a much stronger check on what EmitBlock
// actually produced than asserting on a trailing opcode byte alone.
func TestEmitBlock_ImmediateAddDisassemblesToADD(t *testing.T) {
	block := buildBlock(t, func(b *ir.Builder) {
		r1 := b.LoadGuestReg(ir.CurrentGuestReg(1))
		sum := b.Alu(ir.ADD, ir.VarOperand(r1), ir.ConstOperand(1), true)
		b.StoreGuestReg(ir.CurrentGuestReg(0), ir.VarOperand(sum))
	})
	assign := allocate(t, block)

	e := NewEmitter(dynarmconfig.SysV)
	segments, _, err := e.EmitBlock(block, assign)
	if err != nil {
		t.Fatalf("EmitBlock: %v", err)
	}
	if len(segments) != 1 || segments[0].Kind != Native {
		t.Fatalf("expected a single Native segment, got %+v", segments)
	}

	text := Disassemble(segments[0].Code)
	if !strings.Contains(strings.ToLower(text), "add") {
		t.Fatalf("disassembly of immediate-ADD segment has no ADD mnemonic:\n%s", text)
	}

	all := DisassembleSegments(segments)
	if !strings.Contains(all, "segment 0: native") {
		t.Fatalf("DisassembleSegments missing native segment header:\n%s", all)
	}
}

func TestNewEmitter_FieldOffsetsResolve(t *testing.T) {
	// NewEmitter panics if guest.State is missing any of the fields it
	// looks up by name; constructing one for both ABIs is enough to
	// exercise that reflect lookup without asserting concrete offsets,
	// which would just restate guest.State's layout.
	_ = NewEmitter(dynarmconfig.SysV)
	_ = NewEmitter(dynarmconfig.Win64)
	_ = guest.CurrentMode
}
