// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import (
	"fmt"

	"github.com/dynarm/dynarm/guest"
)

// MicroBlock is a run of Ops that share a single guest predicate. A guest
// basic block decomposes into one or more micro-blocks wherever ARM's
// per-instruction condition codes change from one instruction to the
// next (in Thumb code only the format-16 conditional branch carries a
// predicate other than AL, and it opens a micro-block of its own).
type MicroBlock struct {
	Predicate Predicate
	Ops       []*Op
}

// Key identifies a compiled basic block: the guest address it starts at,
// the mode whose bank was active on entry, and whether it is Thumb code.
// Two blocks with the same address but different Mode or Thumb are
// different compiled entities — the same bytes can decode two different
// ways depending on the execution state they are entered in, per spec.md
// §3's block-key-totality invariant (every successor reference carries a
// complete Key, never just an address).
type Key struct {
	Addr  uint32
	Mode  guest.Mode
	Thumb bool
}

func (k Key) String() string {
	mode := "ARM"
	if k.Thumb {
		mode = "Thumb"
	}
	return fmt.Sprintf("%#08x/%s/%s", k.Addr, k.Mode, mode)
}

// SuccessorKind distinguishes a block's two successor edges.
type SuccessorKind uint8

const (
	Taken SuccessorKind = iota
	Fallthrough
)

// Successor describes one outgoing edge of a BasicBlock. Addr/Mode/Thumb
// are either all known at translate time (direct branches, and the
// fallthrough edge, whose Key is simply the next instruction's) or,
// for an indirect edge (BX to a register value, or any exception entry),
// Known is false and the edge is resolved at run time into whatever Key
// the dispatcher's "next key" register holds when this block exits
// through it — the cache has no static edge to patch for those and
// falls back to a full Key lookup per spec.md §4.5.
type Successor struct {
	Kind  SuccessorKind
	Known bool
	Key   Key
}

// BasicBlock is the unit of translation and compilation: an ordered
// sequence of micro-blocks decoded starting at Key, together with its
// two successor descriptors. Length is the number of guest bytes the
// block consumes (used to compute the fallthrough Key and to detect
// self-modifying-code overlap during cache invalidation).
type BasicBlock struct {
	Key         Key
	Length      uint32
	MicroBlocks []MicroBlock

	Taken       Successor
	Fallthrough Successor

	// Terminator marks a block that ended because one of its instructions
	// is a control-flow op (a Flush family member or a trap), as opposed
	// to simply running out of instruction/byte budget. cpu.CPU's
	// dispatcher needs this distinction because Taken/Fallthrough's Known
	// bits alone are ambiguous: a conditional, runtime-targeted branch
	// under a non-AL predicate (e.g. BXNE) and an ordinary cap-terminated
	// block both leave Taken unknown and Fallthrough known.
	Terminator bool

	// Trap marks a block that ends on a software interrupt rather than a
	// branch: its Taken/Fallthrough, if any, describe where execution
	// would resume after the exception handler eventually returns, not
	// where it goes next. cpu.CPU's dispatcher checks this before
	// resolving either edge.
	Trap bool

	// Exchange marks a block ending in FlushExchange (BX/BLX register):
	// the runtime target's bit 0 selects Thumb state and must be masked
	// off before forming the next block's Key, unlike Flush/FlushNoSwitch
	// whose Thumb bit is always a translate-time literal.
	Exchange bool

	// ExceptionReturn marks a block ending in an S-suffixed
	// data-processing instruction that targets PC (e.g. MOVS PC, LR):
	// the active SPSR must be restored into CPSR as the block exits,
	// with the next Key's Mode/Thumb derived from the restored CPSR
	// rather than from this block's own Key.
	ExceptionReturn bool
}

// NewBasicBlock starts an empty block at the given key.
func NewBasicBlock(key Key) *BasicBlock {
	return &BasicBlock{Key: key}
}

// AppendMicroBlock appends mb as the block's next micro-block.
func (b *BasicBlock) AppendMicroBlock(mb MicroBlock) {
	b.MicroBlocks = append(b.MicroBlocks, mb)
}

// InstructionCount returns the total number of IR ops across all of the
// block's micro-blocks (not the number of guest instructions; the
// translator keeps its own instruction count for config.CPU's cap).
func (b *BasicBlock) InstructionCount() int {
	n := 0
	for _, mb := range b.MicroBlocks {
		n += len(mb.Ops)
	}
	return n
}

// EndsInUnconditionalFlush reports whether the block's last micro-block
// is predicate AL and ends in one of the Flush family, meaning control
// never falls through past this block's last guest instruction and
// Fallthrough should be left unset.
func (b *BasicBlock) EndsInUnconditionalFlush() bool {
	if len(b.MicroBlocks) == 0 {
		return false
	}
	last := b.MicroBlocks[len(b.MicroBlocks)-1]
	if last.Predicate != AL || len(last.Ops) == 0 {
		return false
	}
	switch last.Ops[len(last.Ops)-1].Kind {
	case Flush, FlushExchange, FlushNoSwitch:
		return true
	}
	return false
}
