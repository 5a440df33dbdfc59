// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package regalloc assigns each ir.VarID in a compiled basic block to a
// host register or a spill slot, using a single forward linear scan over
// the block's flattened op sequence (spec.md §4.3): no separate
// interval-construction pass, since a basic block's ops are already in
// program order and each ir.VarID is defined exactly once (the IR's SSA
// invariant).
package regalloc

import (
	dynarmerrors "github.com/dynarm/dynarm/errors"
	"github.com/dynarm/dynarm/ir"
)

// Reg abstractly names one host general-purpose register. codegenx64
// maps each Reg onto a concrete x86-64 encoding; the allocator itself
// never needs to know which physical register a Reg is, only that there
// are NumGeneral of them available for variables plus four reserved for
// fixed purposes.
type Reg uint8

// NumGeneral is the size of the free pool available to variables. One
// register short of spec.md §4.3's twelve-register count, the last is
// reserved below as RScratch: codegenx64's two-operand x86-64 encoders
// sometimes need a register to stage a value (materialising a CMP's
// throwaway result, or untangling a non-commutative op whose allocated
// destination aliases its second operand) without disturbing any live
// variable, and with every other register already owned by some Var,
// only a register Allocate never hands out can serve that purpose.
const NumGeneral = 11

// Reserved host registers, never handed out by Allocate: RFlags stages
// condition flags between an ALU op and its UpdateNZ(C)(V) consumer,
// RState holds the guest-state pointer, RFrame anchors the spill frame,
// RScratch is codegenx64's private scratch register (see NumGeneral).
const (
	RFlags Reg = NumGeneral + iota
	RState
	RFrame
	RScratch
)

// Location is where Allocate placed one variable: either a Reg or a
// spill-frame slot index, never both.
type Location struct {
	InReg bool
	Reg   Reg
	Slot  int
}

// Assignment is the result of allocating one basic block: every variable
// referenced by the block maps to a Location, and NumSpillSlots is the
// high-water mark codegenx64 must reserve in the block's spill frame.
type Assignment struct {
	Locations     map[ir.VarID]Location
	NumSpillSlots int
}

// Location looks up where v was placed. ok is false if v was never
// assigned, which is a bug in the caller (every SSA var in a well-formed
// block is written exactly once and therefore allocated exactly once).
func (a *Assignment) Location(v ir.VarID) (Location, bool) {
	loc, ok := a.Locations[v]
	return loc, ok
}

// interval tracks one currently-live variable's placement and the op
// index at which it is last read, used to decide eviction order.
type interval struct {
	v       ir.VarID
	lastUse int
	loc     Location
}

// Allocator runs the linear scan. One Allocator is reused across every
// block a cpu.CPU compiles, per spec.md §4.6's per-CPU (not per-block)
// allocation policy; Allocate resets the scan's working state itself, so
// callers never need their own Reset.
type Allocator struct {
	// MaxSpillSlots caps how many simultaneous spill slots a single
	// block may use before Allocate gives up with OutOfRegisters.
	// NewAllocator sets it to 64; a zero value permits no spill slots.
	MaxSpillSlots int

	free       []Reg // free general-purpose registers, used as a stack
	active     []interval
	freeSlots  []int
	nextSlot   int
}

// NewAllocator returns an Allocator ready for its first Allocate call.
func NewAllocator() *Allocator {
	return &Allocator{MaxSpillSlots: 64}
}

func (a *Allocator) resetPools() {
	a.free = a.free[:0]
	for r := Reg(0); r < NumGeneral; r++ {
		a.free = append(a.free, NumGeneral-1-r)
	}
	a.active = a.active[:0]
	a.freeSlots = a.freeSlots[:0]
	a.nextSlot = 0
}

// ops flattens a block's micro-blocks into one program-order slice. The
// register allocator does not care about predicate boundaries: a
// variable's liveness crosses micro-block edges exactly like any other
// straight-line code, since every micro-block in a basic block belongs
// to the same compiled instruction stream.
func ops(block *ir.BasicBlock) []*ir.Op {
	var flat []*ir.Op
	for _, mb := range block.MicroBlocks {
		flat = append(flat, mb.Ops...)
	}
	return flat
}

// lastUses computes, for every variable defined in flat, the index of the
// last op that reads it. A variable that is never read gets its
// definition index as its last use, so it is freed immediately after
// being produced rather than held artificially live.
func lastUses(flat []*ir.Op) map[ir.VarID]int {
	uses := make(map[ir.VarID]int)
	for i, op := range flat {
		if op.Dst != ir.Invalid {
			if _, ok := uses[op.Dst]; !ok {
				uses[op.Dst] = i
			}
		}
		for v := range uses {
			if op.Reads(v) {
				uses[v] = i
			}
		}
	}
	return uses
}

// Allocate assigns every variable ir.Builder defined in block to a
// register or spill slot and returns the completed Assignment.
func (a *Allocator) Allocate(block *ir.BasicBlock) (*Assignment, error) {
	a.resetPools()
	flat := ops(block)
	lastUse := lastUses(flat)

	assign := &Assignment{Locations: make(map[ir.VarID]Location, len(lastUse))}

	for i, op := range flat {
		a.expire(i, assign)

		if op.Dst == ir.Invalid {
			continue
		}

		loc, err := a.place(op.Dst, lastUse[op.Dst], i, assign)
		if err != nil {
			return nil, err
		}
		assign.Locations[op.Dst] = loc
		a.active = append(a.active, interval{v: op.Dst, lastUse: lastUse[op.Dst], loc: loc})
	}

	assign.NumSpillSlots = a.nextSlot
	return assign, nil
}

// expire removes every active interval whose last use has already
// passed index i, returning its register or spill slot to the free pool.
// A freed spill slot is reclaimed the instant its owning variable's
// last_use index is passed rather than held until the block finishes
// compiling (spec.md §4.3's Open Question, resolved in DESIGN.md).
func (a *Allocator) expire(i int, assign *Assignment) {
	kept := a.active[:0]
	for _, iv := range a.active {
		if iv.lastUse < i {
			if iv.loc.InReg {
				a.free = append(a.free, iv.loc.Reg)
			} else {
				a.freeSlots = append(a.freeSlots, iv.loc.Slot)
			}
			continue
		}
		kept = append(kept, iv)
	}
	a.active = kept
}

// place finds a Location for v, whose last use is at lastUse, given that
// the current instruction index is defIndex. It prefers a free register;
// failing that, it spills whichever active interval is used furthest in
// the future (including possibly v itself), the standard linear-scan
// spill heuristic: the victim whose register would sit idle longest is
// the one that buys back the most benefit. assign is updated in place
// when an already-assigned variable is retroactively spilled, since
// that variable's entry in assign.Locations was written on a prior
// iteration and would otherwise go stale.
func (a *Allocator) place(v ir.VarID, lastUse, defIndex int, assign *Assignment) (Location, error) {
	if n := len(a.free); n > 0 {
		r := a.free[n-1]
		a.free = a.free[:n-1]
		return Location{InReg: true, Reg: r}, nil
	}

	victim := -1
	for idx, iv := range a.active {
		if !iv.loc.InReg {
			continue
		}
		if victim == -1 || iv.lastUse > a.active[victim].lastUse {
			victim = idx
		}
	}

	if victim == -1 || a.active[victim].lastUse <= lastUse {
		return a.allocSlot(defIndex)
	}

	// Spill the victim, hand its register to v.
	freedReg := a.active[victim].loc.Reg
	slot, err := a.allocSlot(defIndex)
	if err != nil {
		return Location{}, err
	}
	a.active[victim].loc = slot
	assign.Locations[a.active[victim].v] = slot
	return Location{InReg: true, Reg: freedReg}, nil
}

func (a *Allocator) allocSlot(defIndex int) (Location, error) {
	if n := len(a.freeSlots); n > 0 {
		s := a.freeSlots[n-1]
		a.freeSlots = a.freeSlots[:n-1]
		return Location{InReg: false, Slot: s}, nil
	}
	if a.nextSlot >= a.MaxSpillSlots {
		return Location{}, dynarmerrors.New(dynarmerrors.OutOfRegisters, defIndex)
	}
	s := a.nextSlot
	a.nextSlot++
	return Location{InReg: false, Slot: s}, nil
}
