// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package cpu is the dispatcher spec.md §4.5/§5 describes: it owns the
// block cache, the per-CPU translator/allocator/emitter pipeline, and the
// guest architectural state, and exposes Run(cycles) as the single entry
// point a host embedding dynarm drives the guest program through.
package cpu

import (
	"github.com/dynarm/dynarm/cache"
	codegenx64 "github.com/dynarm/dynarm/codegen/x64"
	dynarmconfig "github.com/dynarm/dynarm/config"
	"github.com/dynarm/dynarm/guest"
	"github.com/dynarm/dynarm/ir"
	"github.com/dynarm/dynarm/mem"
	"github.com/dynarm/dynarm/regalloc"
	"github.com/dynarm/dynarm/translate"
)

// CPU is one emulated ARM core together with the just-in-time pipeline
// that compiles the guest program it runs. A CPU is not safe for
// concurrent use beyond the two flags guest.State itself documents as
// externally writable (IRQLine, WaitForIRQ) — everything else, including
// Run itself, is confined to a single goroutine per spec.md §5.
type CPU struct {
	cfg dynarmconfig.CPU

	state  *guest.State
	bus    mem.Bus
	coproc [16]mem.Coprocessor

	cache *cache.Cache
	code  *codeCache

	builder    *ir.Builder
	translator *translate.Translator
	allocator  *regalloc.Allocator
	emitter    *codegenx64.Emitter

	frame frame
}

// New returns a CPU configured by cfg (zero fields filled in by
// config.CPU.Normalize), reading and writing guest memory through busv
// and the sixteen coprocessor slots. A nil entry in coprocs leaves that
// slot unwired; MRC/MCR targeting it fails with
// errors.UnimplementedInstruction when actually executed.
func New(cfg dynarmconfig.CPU, busv mem.Bus, coprocs [16]mem.Coprocessor) *CPU {
	cfg = cfg.Normalize()
	b := ir.NewBuilder()
	return &CPU{
		cfg:        cfg,
		state:      guest.NewState(),
		bus:        busv,
		coproc:     coprocs,
		cache:      cache.New(),
		code:       newCodeCache(),
		builder:    b,
		translator: translate.New(b, cfg.Model),
		allocator:  regalloc.NewAllocator(),
		emitter:    codegenx64.NewEmitter(cfg.ABI),
	}
}

// Reset returns the guest state to its ARM7TDMI reset condition. The
// compiled-block cache is left intact: a reset re-enters the program at
// its reset vector, it does not imply the guest program's code changed
// underneath the cache.
func (c *CPU) Reset() {
	c.state.Reset()
}

// IRQLine reports whether the guest's IRQ input line is currently
// asserted.
func (c *CPU) IRQLine() bool { return c.state.IRQLine() }

// SetIRQLine asserts or clears the guest's IRQ input line. Safe to call
// from outside the goroutine driving Run.
func (c *CPU) SetIRQLine(asserted bool) { c.state.SetIRQLine(asserted) }

// WaitForIRQ reports whether the core is halted awaiting an interrupt.
func (c *CPU) WaitForIRQ() bool { return c.state.WaitForIRQ() }

// SetWaitForIRQ halts or resumes the core independently of an actual IRQ,
// for a host that needs to force a wake-up (e.g. restoring a save state
// captured mid-halt).
func (c *CPU) SetWaitForIRQ(halt bool) { c.state.SetWaitForIRQ(halt) }

// GetExceptionBase returns the guest address exception vectors are read
// relative to.
func (c *CPU) GetExceptionBase() uint32 { return c.cfg.ExceptionBase }

// SetExceptionBase changes the guest address exception vectors are read
// relative to.
func (c *CPU) SetExceptionBase(base uint32) { c.cfg.ExceptionBase = base }

// ClearICache invalidates every compiled block, as if the guest had
// overwritten the whole of program memory.
func (c *CPU) ClearICache() {
	c.cache.ClearICache()
	c.code.evictAll()
}

// ClearICacheRange invalidates every compiled block whose guest byte
// range overlaps [lo, hi), the self-modifying-code path spec.md §4.5
// names. The code cache is pruned to match: any EntryID the block cache
// just freed loses its executable-memory mapping too, while an entry
// untouched by the invalidation keeps its compiled native code.
func (c *CPU) ClearICacheRange(lo, hi uint32) {
	c.cache.ClearICacheRange(lo, hi)
	for id := range c.code.blocks {
		if c.cache.Entry(id) == nil {
			c.code.evict(id)
		}
	}
}

// GetGPR returns register reg's value in the currently active bank.
func (c *CPU) GetGPR(reg int) (uint32, error) { return c.state.GetGPR(reg) }

// SetGPR sets register reg in the currently active bank.
func (c *CPU) SetGPR(reg int, value uint32) error { return c.state.SetGPR(reg, value) }

// GetGPRMode returns register reg's value under mode m, regardless of
// which bank is currently active.
func (c *CPU) GetGPRMode(reg int, m guest.Mode) (uint32, error) {
	return c.state.GetGPRMode(reg, m)
}

// SetGPRMode sets register reg under mode m, regardless of which bank is
// currently active.
func (c *CPU) SetGPRMode(reg int, m guest.Mode, value uint32) error {
	return c.state.SetGPRMode(reg, m, value)
}

// GetCPSR returns the current program status register.
func (c *CPU) GetCPSR() guest.CPSR { return c.state.GetCPSR() }

// SetCPSR installs a new CPSR, performing whatever bank swap the mode
// change implies.
func (c *CPU) SetCPSR(cpsr guest.CPSR) error { return c.state.SetCPSR(cpsr) }

// GetSPSR returns the saved program status register for mode m.
func (c *CPU) GetSPSR(m guest.Mode) (guest.CPSR, error) { return c.state.GetSPSR(m) }

// SetSPSR sets the saved program status register for mode m.
func (c *CPU) SetSPSR(m guest.Mode, value guest.CPSR) error {
	return c.state.SetSPSR(m, value)
}

// Snapshot returns a deep copy of the guest architectural state: every
// register bank, CPSR/SPSR, and the IRQ/halt flags, independent of the
// compiled-block cache. A host can call this before running a
// speculative continuation (e.g. to probe what a not-yet-committed
// branch would do) and hand the result back to Restore to undo exactly
// the state effects of that continuation, leaving the block cache
// itself untouched since compiled code does not depend on which
// snapshot of the architectural state it runs against.
func (c *CPU) Snapshot() *guest.State { return c.state.Snapshot() }

// Restore replaces the guest architectural state with snap, a value
// previously returned by Snapshot. The compiled-block cache is left
// alone: Restore undoes register/flag effects, not code.
func (c *CPU) Restore(snap *guest.State) { c.state = snap.Snapshot() }
