// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package translate decodes a run of guest ARM or Thumb instructions
// starting at a cache.Key into an ir.BasicBlock. It groups consecutive
// instructions that share a predicate into one ir.MicroBlock, synthesises
// the block's Taken/Fallthrough successors, and raises
// errors.UnknownOpcode/errors.UnimplementedInstruction for anything the
// decode tables do not recognise — per spec.md §7's fatal-unknown-opcode
// policy, a block never partially compiles.
package translate

import (
	"github.com/dynarm/dynarm/arch"
	dynarmconfig "github.com/dynarm/dynarm/config"
	dynarmerrors "github.com/dynarm/dynarm/errors"
	"github.com/dynarm/dynarm/guest"
	"github.com/dynarm/dynarm/ir"
	"github.com/dynarm/dynarm/mem"
)

// Translator decodes guest instructions through a mem.Bus and lifts them
// into the ir.Builder it is constructed with. One Translator is reused
// across every block a CPU compiles; nothing here holds state across
// calls to Block beyond the embedded Builder, which the caller Resets
// between blocks.
type Translator struct {
	Builder *ir.Builder
	Model   arch.Model

	// curAddr/curInstrSize are set by step before each lift call so that
	// readReg's PC-as-read computation (AdvancePC) can reach them
	// without threading an address parameter through every lifter.
	curAddr      uint32
	curInstrSize uint32
}

// New returns a Translator that lifts into b for guest model model.
func New(b *ir.Builder, model arch.Model) *Translator {
	return &Translator{Builder: b, Model: model}
}

// noPredicate is an out-of-band sentinel meaning "no micro-block started
// yet", distinct from any real ir.Predicate value.
const noPredicate = ir.Predicate(0xff)

// termInfo describes how a just-lifted instruction affects block
// termination. Every branch ends the block it appears in — a basic
// block is, by construction, a straight-line run up to its first
// control-flow instruction — regardless of whether that branch is
// conditional. hasKnownTarget additionally reports whether the target
// was a compile-time constant (direct branches) as opposed to a runtime
// value (BX to a register), in which case Taken can be statically wired
// for the cache to chain against.
type termInfo struct {
	ends           bool
	hasKnownTarget bool
	target         ir.Key

	// trap marks a block-ending instruction (SWI) whose control transfer
	// is not a branch at all: cpu.CPU's dispatcher must vector to the
	// exception entry point rather than resolve Taken/Fallthrough as it
	// would for an ordinary block exit.
	trap bool

	// exchange marks a FlushExchange terminator (BX/BLX register): the
	// dispatcher must mask bit 0 out of the runtime target to derive
	// Thumb state rather than treat it as part of the address.
	exchange bool

	// returnFromException marks an S-suffixed data-processing instruction
	// targeting PC: the dispatcher restores CPSR from the active SPSR as
	// the block exits, before forming the next Key.
	returnFromException bool
}

// Block decodes instructions starting at key until the block's
// instruction/byte budget (cfg) is exhausted or an instruction ends the
// block. It returns the completed ir.BasicBlock with Taken/Fallthrough
// populated according to how it ended:
//   - a branch under predicate AL: Taken only (control never falls
//     through to the next guest address in the straight-line sense)
//   - a branch under any other predicate: Taken (if known) and
//     Fallthrough, since the not-taken case continues at the next
//     instruction
//   - the instruction/byte cap, with no branch: Fallthrough only
func (t *Translator) Block(busv mem.Bus, key ir.Key, cfg dynarmconfig.CPU) (*ir.BasicBlock, error) {
	t.Builder.StartBlock(key)

	addr := key.Addr
	cur := noPredicate
	terminated := false

	instrSize := uint32(arch.InstructionSizeARM)
	if key.Thumb {
		instrSize = uint32(arch.InstructionSizeThumb)
	}

	count := 0
	for count < cfg.BlockSize {
		// The predicate is read ahead of the lift so that the lifter's ops
		// land in that predicate's micro-block. Thumb's only predicated
		// form is the format-16 conditional branch (0xDFxx is SWI); ARM's
		// NV is tracked as AL on models that use it as an opcode extension.
		pred := ir.AL
		if key.Thumb {
			if w := busv.Read16(addr); w&0xF000 == 0xD000 && w&0xFF00 != 0xDF00 {
				pred = ir.Predicate((w >> 8) & 0xF)
			}
		} else if pred = ir.Predicate(busv.Read32(addr) >> 28); pred == ir.NV && t.Model.NVIsExtension() {
			pred = ir.AL
		}
		if pred != cur {
			t.Builder.StartMicroBlock(pred)
			cur = pred
		}

		_, consumed, info, err := t.step(busv, key, addr)
		if err != nil {
			return nil, err
		}

		addr += consumed
		count++

		if info.ends {
			blk := t.Builder.Block()
			blk.Terminator = true
			blk.Trap = info.trap
			blk.Exchange = info.exchange
			blk.ExceptionReturn = info.returnFromException
			if info.hasKnownTarget {
				blk.Taken = ir.Successor{Kind: ir.Taken, Known: true, Key: info.target}
			}
			if pred != ir.AL {
				blk.Fallthrough = ir.Successor{
					Kind:  ir.Fallthrough,
					Known: true,
					Key:   ir.Key{Addr: addr, Mode: key.Mode, Thumb: key.Thumb},
				}
			}
			terminated = true
			break
		}
		if uint32(count)*instrSize >= uint32(cfg.MaxBlockBytes) {
			break
		}
	}

	blk := t.Builder.Finish()
	blk.Key = key
	blk.Length = addr - key.Addr

	if !terminated {
		blk.Fallthrough = ir.Successor{
			Kind:  ir.Fallthrough,
			Known: true,
			Key:   ir.Key{Addr: addr, Mode: key.Mode, Thumb: key.Thumb},
		}
	}

	return blk, nil
}

// step decodes and lifts exactly one instruction at addr, returning the
// predicate it was lifted under, the number of bytes it consumed, and
// how it affects block termination.
func (t *Translator) step(busv mem.Bus, key ir.Key, addr uint32) (ir.Predicate, uint32, termInfo, error) {
	t.curAddr = addr
	if key.Thumb {
		t.curInstrSize = uint32(arch.InstructionSizeThumb)
		word := uint32(busv.Read16(addr))
		return t.liftThumb(busv, key, addr, word)
	}
	t.curInstrSize = uint32(arch.InstructionSizeARM)
	word := busv.Read32(addr)
	return t.liftARM(busv, key, addr, word)
}

// resolveMode returns the guest.Mode active for guest-register reads
// issued while lifting — always guest.CurrentMode, since the translator
// itself never knows which mode will be live when the compiled block
// actually runs; only user-bank-transfer instructions (not yet lifted
// here; named as Unimplemented) need an explicit mode.
func resolveMode() guest.Mode { return guest.CurrentMode }

func unimplemented(addr uint32, name string) error {
	return dynarmerrors.New(dynarmerrors.UnimplementedInstruction, name, addr)
}

func unknown(addr uint32, opcode uint32) error {
	return dynarmerrors.New(dynarmerrors.UnknownOpcode, opcode, addr)
}
