// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package translate_test

import (
	"encoding/binary"
	"testing"

	"github.com/dynarm/dynarm/arch"
	"github.com/dynarm/dynarm/config"
	"github.com/dynarm/dynarm/guest"
	"github.com/dynarm/dynarm/ir"
	"github.com/dynarm/dynarm/testutil"
	"github.com/dynarm/dynarm/translate"
)

func armWord(bus *testutil.Bus, addr uint32, word uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], word)
	bus.LoadProgram(addr, buf[:])
}

// TestTranslateAddImmediate builds "ADDS r0, r1, #1" (the first half of
// spec.md §8's immediate-add scenario) and checks the lifted IR shape.
func TestTranslateAddImmediate(t *testing.T) {
	bus := testutil.NewBus(0x100)
	// cond=AL(1110) 00 I=1 opcode=0100(ADD) S=1 Rn=0001 Rd=0000 rot=0000 imm8=00000001
	armWord(bus, 0, 0xE2910001)

	b := ir.NewBuilder()
	tr := translate.New(b, arch.ARM7)
	key := ir.Key{Addr: 0, Mode: guest.Supervisor, Thumb: false}
	cfg := config.Default()
	// Lift only the ADDS: the zero words after it decode as ANDEQ and
	// would open a second (EQ) micro-block.
	cfg.BlockSize = 1

	blk, err := tr.Block(bus, key, cfg)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if len(blk.MicroBlocks) != 1 {
		t.Fatalf("got %d micro-blocks, want 1", len(blk.MicroBlocks))
	}
	if blk.Fallthrough.Key.Addr != 4 {
		t.Fatalf("fallthrough addr = %#x, want 4", blk.Fallthrough.Key.Addr)
	}

	mb := blk.MicroBlocks[0]
	foundALU := false
	for _, op := range mb.Ops {
		if op.Kind == ir.ALU && op.ALUOp == ir.ADD {
			foundALU = true
			if !op.SetFlags {
				t.Fatalf("ADDS decoded without SetFlags")
			}
		}
	}
	if !foundALU {
		t.Fatalf("no ALU/ADD op found in %+v", mb.Ops)
	}
}

// TestTranslateBranchEndsBlock checks that an unconditional B ends
// translation at the instruction that emits it, with no Fallthrough.
func TestTranslateBranchEndsBlock(t *testing.T) {
	bus := testutil.NewBus(0x100)
	// B #0 (branch to self): cond=AL(1110) 101 L=0 offset=0xFFFFFE (-8/4)
	armWord(bus, 0, 0xEAFFFFFE)

	b := ir.NewBuilder()
	tr := translate.New(b, arch.ARM7)
	key := ir.Key{Addr: 0, Mode: guest.Supervisor, Thumb: false}
	cfg := config.Default()

	blk, err := tr.Block(bus, key, cfg)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if blk.Fallthrough.Known {
		t.Fatalf("branch-terminated block has a Fallthrough successor")
	}
	if !blk.EndsInUnconditionalFlush() {
		t.Fatalf("block does not end in an unconditional flush")
	}
}

// TestTranslateNVIsNoOpOnARMv4T checks that an NV-predicated word on an
// ARMv4T model decodes without error and lifts no ops.
func TestTranslateNVIsNoOpOnARMv4T(t *testing.T) {
	bus := testutil.NewBus(0x100)
	armWord(bus, 0, 0xF7F0A000) // UDF-shaped, cond=NV(1111), not a coprocessor op

	b := ir.NewBuilder()
	tr := translate.New(b, arch.ARM7)
	key := ir.Key{Addr: 0, Mode: guest.Supervisor, Thumb: false}
	cfg := config.Default()

	blk, err := tr.Block(bus, key, cfg)
	// cond NV under ARMv4T is "never execute", so this actually decodes
	// as a no-op rather than an error; assert that behaviour explicitly
	// since it is easy to get backwards.
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if len(blk.MicroBlocks[0].Ops) != 0 {
		t.Fatalf("NV-predicated instruction lifted ops: %+v", blk.MicroBlocks[0].Ops)
	}
}

// TestTranslateCapTerminationLeavesTerminatorFalse checks that a block
// which ends only because it hit its instruction cap, with no
// control-flow instruction anywhere in it, is not marked Terminator even
// though its Taken/Fallthrough Known bits look exactly like an untaken
// conditional branch's would (Taken unknown, Fallthrough known). This is
// the distinction cpu.CPU's dispatcher relies on to avoid mistaking an
// ordinary cap-terminated block for one ending in a branch.
func TestTranslateCapTerminationLeavesTerminatorFalse(t *testing.T) {
	bus := testutil.NewBus(0x100)
	// Two ADDS r0, r0, #1 (no branch anywhere): cond=AL I=1 opcode=ADD S=1
	armWord(bus, 0, 0xE2900001)
	armWord(bus, 4, 0xE2900001)

	b := ir.NewBuilder()
	tr := translate.New(b, arch.ARM7)
	key := ir.Key{Addr: 0, Mode: guest.Supervisor, Thumb: false}
	cfg := config.Default()
	cfg.BlockSize = 2

	blk, err := tr.Block(bus, key, cfg)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if blk.Terminator {
		t.Fatalf("cap-terminated block incorrectly marked Terminator")
	}
	if blk.Taken.Known {
		t.Fatalf("cap-terminated block has a Taken successor")
	}
	if !blk.Fallthrough.Known {
		t.Fatalf("cap-terminated block has no Fallthrough successor")
	}
	if blk.Fallthrough.Key.Addr != 8 {
		t.Fatalf("fallthrough addr = %#x, want 8", blk.Fallthrough.Key.Addr)
	}
}

// TestTranslateBranchExchangeSetsExchange checks that BX marks its block
// Exchange, so cpu.CPU's dispatcher knows to derive Thumb state from the
// runtime target's bit 0 rather than treat it as a literal.
func TestTranslateBranchExchangeSetsExchange(t *testing.T) {
	bus := testutil.NewBus(0x100)
	// BX r0: cond=AL(1110) 0001 0010 1111 1111 1111 0001 0000
	armWord(bus, 0, 0xE12FFF10)

	b := ir.NewBuilder()
	tr := translate.New(b, arch.ARM7)
	key := ir.Key{Addr: 0, Mode: guest.Supervisor, Thumb: false}
	cfg := config.Default()

	blk, err := tr.Block(bus, key, cfg)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if !blk.Terminator {
		t.Fatalf("BX did not mark the block as terminated")
	}
	if !blk.Exchange {
		t.Fatalf("BX did not mark the block Exchange")
	}
	if blk.Taken.Known {
		t.Fatalf("BX's target should never be statically known")
	}
}

// TestTranslateMOVSPCSetsExceptionReturn checks that "MOVS PC, LR" marks
// its block ExceptionReturn, the signal cpu.CPU's dispatcher uses to
// restore CPSR from SPSR on the way out of an exception handler. A plain
// "MOV PC, LR" (no S suffix) must not set it.
func TestTranslateMOVSPCSetsExceptionReturn(t *testing.T) {
	bus := testutil.NewBus(0x100)
	// MOVS pc, lr: cond=AL 00 I=0 opcode=1101(MOV) S=1 Rn=1111 (ignored by MOV) Rd=1111 shift=00000000 Rm=1110
	armWord(bus, 0, 0xE1BFF00E)

	b := ir.NewBuilder()
	tr := translate.New(b, arch.ARM7)
	key := ir.Key{Addr: 0, Mode: guest.IRQ, Thumb: false}
	cfg := config.Default()

	blk, err := tr.Block(bus, key, cfg)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if !blk.ExceptionReturn {
		t.Fatalf("MOVS PC, LR did not mark the block ExceptionReturn")
	}

	bus2 := testutil.NewBus(0x100)
	// MOV pc, lr (no S bit): cond=AL 00 I=0 opcode=1101(MOV) S=0 Rn=1111 (ignored by MOV) Rd=1111 shift=00000000 Rm=1110
	armWord(bus2, 0, 0xE1AFF00E)
	b2 := ir.NewBuilder()
	tr2 := translate.New(b2, arch.ARM7)
	blk2, err := tr2.Block(bus2, key, cfg)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if blk2.ExceptionReturn {
		t.Fatalf("plain MOV PC, LR incorrectly marked ExceptionReturn")
	}
}
