// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cpu

import (
	"unsafe"

	"github.com/dynarm/dynarm/cache"
	codegenx64 "github.com/dynarm/dynarm/codegen/x64"
	"github.com/dynarm/dynarm/guest"
	"github.com/dynarm/dynarm/ir"
)

// swiVectorOffset is the guest address, relative to GetExceptionBase,
// that a software interrupt vectors to. spec.md names the IRQ vector's
// offset but is silent on SWI's; this follows the real ARM7TDMI vector
// table layout (SWI at 0x08, IRQ at 0x18) rather than invent one.
const swiVectorOffset = 0x08

// irqVectorOffset is the guest address, relative to GetExceptionBase,
// an asserted IRQ vectors to.
const irqVectorOffset = 0x18

// currentKey derives the block key for the instruction the core is about
// to fetch. PC's raw register value is used directly — the "PC as read"
// +2*instruction_size bias a data-processing operand sees is purely a
// translate-time concern (ir.AdvancePC), never something stored in the
// register file itself.
func (c *CPU) currentKey() ir.Key {
	cpsr := c.state.GetCPSR()
	pc, _ := c.state.GetGPR(guest.PC)
	return ir.Key{Addr: pc, Mode: cpsr.Mode(), Thumb: cpsr.Thumb()}
}

// lookupOrCompile returns the EntryID for key: an existing entry's, a
// freshly translated/allocated/emitted one, or an existing entry whose
// Native segments need reloading into executable memory because the
// code cache evicted them (ClearICacheRange prunes only the code cache
// entries it must, leaving an untouched cache.Entry's Segments slice
// ready to reload without retranslating).
func (c *CPU) lookupOrCompile(key ir.Key) cache.EntryID {
	if id, ok := c.cache.Lookup(key); ok {
		if _, ok := c.code.get(id); !ok {
			cb, err := load(c.cache.Entry(id).Segments)
			if err != nil {
				panic(err)
			}
			c.code.put(id, cb)
		}
		return id
	}

	block, err := c.translator.Block(c.bus, key, c.cfg)
	if err != nil {
		panic(err)
	}

	assign, err := c.allocator.Allocate(block)
	if err != nil {
		panic(err)
	}

	segments, layout, err := c.emitter.EmitBlock(block, assign)
	if err != nil {
		panic(err)
	}

	id := c.cache.Insert(block, segments, layout)

	// Safe to reset the builder's arenas immediately: Insert has stored
	// the segments, whose Interpreted entries point at *ir.Op values in
	// the builder's arena, and ir/pool.Arena.Reset abandons its
	// old slab pools rather than reusing them in place, so those
	// pointers stay valid for as long as this entry lives in the cache.
	c.builder.Reset()

	cb, err := load(segments)
	if err != nil {
		panic(err)
	}
	c.code.put(id, cb)

	return id
}

// enterException performs the shared part of ARM exception entry: save
// the live CPSR into newMode's SPSR, bank returnAddr into newMode's LR,
// and switch CPSR to newMode in ARM state with IRQ masked. Every
// exception dynarm raises (SWI, IRQ) shares this sequence; only the
// vector address and the register holding the return address are
// specific to the kind of exception.
func (c *CPU) enterException(newMode guest.Mode, returnAddr uint32) {
	old := c.state.GetCPSR()
	if err := c.state.SetSPSR(newMode, old); err != nil {
		panic(err)
	}
	if err := c.state.SetGPRMode(14, newMode, returnAddr); err != nil {
		panic(err)
	}
	next := old.WithMode(newMode).WithThumb(false).WithMaskIRQ(true)
	if err := c.state.SetCPSR(next); err != nil {
		panic(err)
	}
}

// tryInjectIRQ vectors to the IRQ handler if the guest's IRQ line is
// asserted and CPSR.mask_irq is clear, per spec.md's IRQ-injection
// scenario. It reports whether it did.
func (c *CPU) tryInjectIRQ() bool {
	if !c.state.IRQLine() || c.state.GetCPSR().MaskIRQ() {
		return false
	}
	pc, _ := c.state.GetGPR(guest.PC)
	c.state.SetWaitForIRQ(false)
	c.enterException(guest.IRQ, pc+4)
	c.state.SetGPR(guest.PC, c.cfg.ExceptionBase+irqVectorOffset)
	return true
}

// terminatorOutcome reports, for a block that ended
// on a control-flow op, whether that op's guest predicate held and the
// runtime target it left behind. A native segment's Flush family is only
// ever emitted under predicate AL (isInterpreted forces anything else to
// an Interpreted segment), so reaching the last segment as Native means
// the terminator unconditionally fired; otherwise the result comes from
// interpreting it, captured as the loop's last interpResult.
func terminatorOutcome(lastKind codegenx64.SegmentKind, lastInterp interpResult, fr *frame, layout codegenx64.FrameLayout) (fired bool, successor uint32) {
	if lastKind == codegenx64.Native {
		return true, fr.successorAddr(layout)
	}
	return lastInterp.fired, lastInterp.successor
}

// Run executes compiled guest code until cycles reaches zero or the core
// halts awaiting an interrupt, returning whatever cycle budget is left
// (zero, unless Run stopped early on a halt). One guest instruction is
// charged one cycle; spec.md's scenarios tick the core in small,
// block-sized counts and this module models no finer-grained timing,
// matching its deliberately abstracted cost model. There is no
// suspension point inside a block: a block that would overrun the
// budget still runs to completion, and the next call simply sees a
// clamped-to-zero remainder.
func (c *CPU) Run(cycles int) int {
	for cycles > 0 {
		if c.state.WaitForIRQ() {
			if !c.tryInjectIRQ() {
				return cycles
			}
		} else {
			c.tryInjectIRQ()
		}

		key := c.currentKey()
		c.state.SetGPR(guest.PC, key.Addr)

		id := c.lookupOrCompile(key)
		entry := c.cache.Entry(id)
		cb, ok := c.code.get(id)
		if !ok {
			panic("cpu: compiled block missing from code cache immediately after compile")
		}

		c.frame.ensure(entry.Frame)
		framePtr := unsafe.Pointer(c.frame.addr())
		statePtr := unsafe.Pointer(c.state)

		var lastInterp interpResult
		var lastKind codegenx64.SegmentKind
		for i, seg := range entry.Segments {
			lastKind = seg.Kind
			if seg.Kind == codegenx64.Native {
				codegenx64.Call(cb.entryAddr[i], statePtr, framePtr)
				continue
			}
			res, err := interpret(seg, c.state, c.bus, c.coproc, &c.frame, entry.Frame)
			if err != nil {
				panic(err)
			}
			lastInterp = res
		}

		instrSize := uint32(4)
		if key.Thumb {
			instrSize = 2
		}
		instrCount := int(entry.Length / instrSize)
		if instrCount == 0 {
			instrCount = 1
		}
		cycles -= instrCount
		if cycles < 0 {
			cycles = 0
		}

		var next ir.Key
		if !entry.Terminator {
			// Ran off the instruction/byte cap with no control-flow op
			// at all: Fallthrough is always known in that case.
			next = entry.FallthroughKey.Key
		} else {
			// A block's terminator keeps its own guest predicate (an
			// SWI or branch can itself be conditional), so even a Trap
			// block's exception entry only happens if that predicate
			// actually held at run time.
			fired, successor := terminatorOutcome(lastKind, lastInterp, &c.frame, entry.Frame)
			switch {
			case !fired:
				next = entry.FallthroughKey.Key

			case entry.Trap:
				returnAddr := entry.Key.Addr + entry.Length
				c.enterException(guest.Supervisor, returnAddr)
				next = ir.Key{Addr: c.cfg.ExceptionBase + swiVectorOffset, Mode: guest.Supervisor, Thumb: false}

			case entry.ExceptionReturn:
				restored, err := c.state.GetSPSR(entry.Key.Mode)
				if err != nil {
					panic(err)
				}
				if err := c.state.SetCPSR(restored); err != nil {
					panic(err)
				}
				next = ir.Key{Addr: successor, Mode: restored.Mode(), Thumb: restored.Thumb()}

			case entry.TakenKey.Known:
				next = entry.TakenKey.Key

			default:
				thumb := key.Thumb // FlushNoSwitch never changes instruction set
				if entry.Exchange {
					thumb = successor&1 != 0
					successor &^= 1
				}
				next = ir.Key{Addr: successor, Mode: key.Mode, Thumb: thumb}
			}
		}

		c.state.SetGPR(guest.PC, next.Addr)
	}

	return cycles
}
