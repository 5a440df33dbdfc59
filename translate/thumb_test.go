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

func thumbHalfwords(bus *testutil.Bus, addr uint32, words ...uint16) {
	buf := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[2*i:], w)
	}
	bus.LoadProgram(addr, buf)
}

// TestTranslateThumbMovCmpBranch builds "MOVS r0,#5 ; CMP r0,#5 ; BEQ 0"
// (spec.md §8's Thumb-branch scenario) and checks the predicate grouping:
// the unconditional MOV/CMP share one micro-block, the conditional
// branch opens a new one.
func TestTranslateThumbMovCmpBranch(t *testing.T) {
	bus := testutil.NewBus(0x100)
	// format3 MOV r0,#5: 001 00 000 00000101 = 0x2005
	// format3 CMP r0,#5: 001 01 000 00000101 = 0x2805
	// format16 BEQ at 4 back to the MOV at 0: 1101 0000 imm8; imm8 = (0-(4+4))/2 = -4 -> 0xFC
	thumbHalfwords(bus, 0, 0x2005, 0x2805, 0xD0FC)

	b := ir.NewBuilder()
	tr := translate.New(b, arch.ARM7)
	key := ir.Key{Addr: 0, Mode: guest.Supervisor, Thumb: true}
	cfg := config.Default()

	blk, err := tr.Block(bus, key, cfg)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if len(blk.MicroBlocks) != 2 {
		t.Fatalf("got %d micro-blocks, want 2 (AL run + conditional branch)", len(blk.MicroBlocks))
	}
	if blk.MicroBlocks[0].Predicate != ir.AL {
		t.Fatalf("first micro-block predicate = %s, want AL", blk.MicroBlocks[0].Predicate)
	}
	if blk.MicroBlocks[1].Predicate != ir.EQ {
		t.Fatalf("second micro-block predicate = %s, want EQ", blk.MicroBlocks[1].Predicate)
	}
	if blk.Length != 6 {
		t.Fatalf("block length = %d, want 6 bytes", blk.Length)
	}
}

// TestTranslateThumbPushPop builds "PUSH {r0,r1,lr}" and checks it is
// lifted as three stores plus an SP update, without ending the block.
func TestTranslateThumbPushPop(t *testing.T) {
	bus := testutil.NewBus(0x100)
	// PUSH {r0,r1,lr}: 1011 0 1 0 1 rlist; rlist=0b00000011 (r0,r1)
	thumbHalfwords(bus, 0, 0xB503)

	b := ir.NewBuilder()
	tr := translate.New(b, arch.ARM7)
	key := ir.Key{Addr: 0, Mode: guest.Supervisor, Thumb: true}
	cfg := config.Default()

	blk, err := tr.Block(bus, key, cfg)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}

	stores := 0
	for _, op := range blk.MicroBlocks[0].Ops {
		if op.Kind == ir.MemStore {
			stores++
		}
	}
	if stores != 3 {
		t.Fatalf("got %d MemStore ops, want 3 (r0, r1, lr)", stores)
	}
}

// TestTranslateThumbBranchExchangeSetsExchange checks that Thumb's BX Rs
// (format 5) marks its block Exchange the same way ARM's BX does, since
// both lift through the same FlushExchange op.
func TestTranslateThumbBranchExchangeSetsExchange(t *testing.T) {
	bus := testutil.NewBus(0x100)
	// BX r0: format5 010001 opc=11 h1=0 h2=0 rs=000 rd=000
	thumbHalfwords(bus, 0, 0x4700)

	b := ir.NewBuilder()
	tr := translate.New(b, arch.ARM7)
	key := ir.Key{Addr: 0, Mode: guest.Supervisor, Thumb: true}
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
