// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package cache holds every compiled guest basic block the CPU has seen,
// keyed by the guest address/mode/Thumb-state triple it was compiled
// under. Entries live in a slab addressed by a stable EntryID rather than
// a Go pointer or a plain slice index, because a block's Taken and
// Fallthrough successors may reference a block that has not been
// compiled yet (forward reference) or, via a loop in the guest program,
// reference an ancestor of itself (a cyclic successor graph) — a stable
// ID survives compiling those neighbours in whatever order they are
// first reached, and is cheap for cpu.CPU.Run to carry across the
// dispatch loop instead of re-keying through the map on every block
// transfer.
package cache

import (
	codegenx64 "github.com/dynarm/dynarm/codegen/x64"
	"github.com/dynarm/dynarm/ir"
)

// Key identifies a compiled block exactly as ir.Key does: the two types
// are the same shape (guest address, active mode, Thumb bit) because a
// cache entry's identity and a translated block's identity are the same
// concept, just seen from two different packages.
type Key = ir.Key

// EntryID stably names one slot in the cache's slab. It remains valid
// (resolving to the same Entry, or to "invalidated") for the life of the
// Cache, even as other entries are invalidated and their slots reused.
type EntryID int32

// InvalidEntryID (-1) is the sentinel meaning "no entry", used
// for an unresolved successor edge.
const InvalidEntryID EntryID = -1

// Successor caches one of a block's outgoing edges (Taken or
// Fallthrough). It starts unresolved even when the guest target address
// is statically known (Resolved tracks whether that target has actually
// been compiled yet, not whether the target address is known); Cache
// fills in ID the first time the edge's Key is looked up.
type Successor struct {
	Resolved bool
	ID       EntryID
}

// Entry is one compiled block: the translated code (as codegenx64
// Segments, not yet loaded into executable memory — that is cpu.CPU's
// job once it decides to run this entry) plus the cached resolution of
// its two successor edges and the set of entries that resolved a
// successor edge to this one.
type Entry struct {
	Key      Key
	Length   uint32
	Segments []codegenx64.Segment
	Frame    codegenx64.FrameLayout

	// Trap marks a block ending on a software interrupt: cpu.CPU's
	// dispatcher vectors to the exception entry point instead of
	// resolving Taken when this block's terminating op actually fires
	// (its guest predicate evaluates true), exactly where it would
	// otherwise resolve an ordinary branch's target.
	Trap bool

	// Terminator marks a block that ended on a control-flow op rather
	// than running off its instruction/byte cap; see ir.BasicBlock's
	// field of the same name for why this can't be inferred from
	// Taken/Fallthrough's Known bits alone.
	Terminator bool

	// Exchange marks a block ending in FlushExchange (BX/BLX register):
	// cpu.CPU's dispatcher must mask bit 0 out of the runtime target
	// read from Frame's successor slot before forming the next Key,
	// deriving Thumb state from that bit rather than from a literal.
	Exchange bool

	// ExceptionReturn marks a block ending in an S-suffixed
	// data-processing instruction that targets PC: cpu.CPU's dispatcher
	// restores CPSR from the active SPSR as this entry exits, before
	// forming the next Key from the restored CPSR's mode/Thumb bits.
	ExceptionReturn bool

	TakenKey       ir.Successor
	FallthroughKey ir.Successor

	Taken       Successor
	Fallthrough Successor

	// predecessors holds every EntryID whose Taken or Fallthrough edge
	// currently resolves to this entry. Invalidate walks this set to
	// unresolve those edges rather than leaving them pointing at a
	// freed slab slot.
	predecessors map[EntryID]struct{}
}

// addPredecessor records that pred resolved one of its edges to e.
func (e *Entry) addPredecessor(pred EntryID) {
	if e.predecessors == nil {
		e.predecessors = make(map[EntryID]struct{})
	}
	e.predecessors[pred] = struct{}{}
}

// Cache is the full set of compiled blocks known to one cpu.CPU. It is
// not safe for concurrent use; spec.md §5 confines block compilation and
// lookup to the single thread driving Run.
type Cache struct {
	slab  []*Entry
	free  []EntryID
	byKey map[Key]EntryID
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{byKey: make(map[Key]EntryID)}
}

// Lookup reports whether key has already been compiled, and its EntryID
// if so.
func (c *Cache) Lookup(key Key) (EntryID, bool) {
	id, ok := c.byKey[key]
	return id, ok
}

// Entry returns the Entry for id, or nil if id was invalidated and its
// slot has not been reused since. A reused slot returns the new entry, so
// callers that hold an EntryID across a potential invalidation should
// re-Lookup rather than trust a stale ID.
func (c *Cache) Entry(id EntryID) *Entry {
	return c.slab[id]
}

// Insert records a newly compiled block and returns its EntryID, reusing
// a slot freed by a prior Invalidate when one is available rather than
// growing the slab unboundedly across a long invalidate/recompile churn.
func (c *Cache) Insert(block *ir.BasicBlock, segments []codegenx64.Segment, frame codegenx64.FrameLayout) EntryID {
	e := &Entry{
		Key:             block.Key,
		Length:          block.Length,
		Segments:        segments,
		Frame:           frame,
		Trap:            block.Trap,
		Terminator:      block.Terminator,
		Exchange:        block.Exchange,
		ExceptionReturn: block.ExceptionReturn,
		TakenKey:        block.Taken,
		FallthroughKey:  block.Fallthrough,
		Taken:           Successor{ID: InvalidEntryID},
		Fallthrough:     Successor{ID: InvalidEntryID},
	}

	var id EntryID
	if n := len(c.free); n > 0 {
		id = c.free[n-1]
		c.free = c.free[:n-1]
		c.slab[id] = e
	} else {
		id = EntryID(len(c.slab))
		c.slab = append(c.slab, e)
	}

	c.byKey[block.Key] = id
	return id
}

// ResolveTaken looks up e's Taken successor by Key (compiling it is the
// caller's job if Lookup fails), caches the result, and records the
// predecessor edge so a later Invalidate of the target can unresolve it.
func (c *Cache) ResolveTaken(id EntryID) (EntryID, bool) {
	return c.resolve(id, true)
}

// ResolveFallthrough is ResolveTaken's counterpart for the Fallthrough edge.
func (c *Cache) ResolveFallthrough(id EntryID) (EntryID, bool) {
	return c.resolve(id, false)
}

func (c *Cache) resolve(id EntryID, taken bool) (EntryID, bool) {
	e := c.slab[id]
	succ := &e.Fallthrough
	key := e.FallthroughKey
	if taken {
		succ = &e.Taken
		key = e.TakenKey
	}

	if succ.Resolved {
		return succ.ID, true
	}
	if !key.Known {
		return InvalidEntryID, false
	}
	target, ok := c.byKey[key.Key]
	if !ok {
		return InvalidEntryID, false
	}

	succ.Resolved = true
	succ.ID = target
	c.slab[target].addPredecessor(id)
	return target, true
}

// Invalidate evicts id: every predecessor edge currently resolved to it
// is reset to unresolved (so the next Run through that predecessor
// re-Lookups rather than jumping to a freed slot), its own predecessor
// and Key bookkeeping is dropped, and its slot is queued for reuse by a
// future Insert.
func (c *Cache) Invalidate(id EntryID) {
	e := c.slab[id]
	if e == nil {
		return
	}

	for pred := range e.predecessors {
		p := c.slab[pred]
		if p == nil {
			continue
		}
		if p.Taken.Resolved && p.Taken.ID == id {
			p.Taken = Successor{ID: InvalidEntryID}
		}
		if p.Fallthrough.Resolved && p.Fallthrough.ID == id {
			p.Fallthrough = Successor{ID: InvalidEntryID}
		}
	}

	// e may itself be a predecessor of another entry (a Taken/
	// Fallthrough edge it had resolved outward); that edge is left
	// alone since the target entry's own predecessor set, not e, is
	// what Invalidate of the target would need to consult, and e is
	// about to be discarded entirely.
	delete(c.byKey, e.Key)
	c.slab[id] = nil
	c.free = append(c.free, id)
}

// ClearICache invalidates every compiled block, as if the guest had
// overwritten the whole of program memory. The slab itself is kept (its
// capacity is reused by subsequent Insert calls) rather than replaced
// with a fresh Cache, so a long-running guest that clears its icache
// repeatedly does not make the slab grow without bound.
func (c *Cache) ClearICache() {
	for id, e := range c.slab {
		if e != nil {
			c.Invalidate(EntryID(id))
		}
	}
}

// ClearICacheRange invalidates every compiled block whose guest byte
// range [Key.Addr, Key.Addr+Length) overlaps [lo, hi), the self-
// modifying-code path named in spec.md §4.5.
func (c *Cache) ClearICacheRange(lo, hi uint32) {
	for id, e := range c.slab {
		if e == nil {
			continue
		}
		start := e.Key.Addr
		end := start + e.Length
		if start < hi && lo < end {
			c.Invalidate(EntryID(id))
		}
	}
}

// Len returns the number of live (non-invalidated) entries in the cache.
func (c *Cache) Len() int {
	n := 0
	for _, e := range c.slab {
		if e != nil {
			n++
		}
	}
	return n
}
