// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cache

import (
	"testing"

	codegenx64 "github.com/dynarm/dynarm/codegen/x64"
	"github.com/dynarm/dynarm/ir"
)

func block(addr uint32, length uint32, taken, fallthroughAddr uint32, hasTaken bool) *ir.BasicBlock {
	b := &ir.BasicBlock{Key: ir.Key{Addr: addr}, Length: length}
	if hasTaken {
		b.Taken = ir.Successor{Kind: ir.Taken, Known: true, Key: ir.Key{Addr: taken}}
	}
	b.Fallthrough = ir.Successor{Kind: ir.Fallthrough, Known: true, Key: ir.Key{Addr: fallthroughAddr}}
	return b
}

func TestCache_InsertAndLookup(t *testing.T) {
	c := New()
	b := block(0x1000, 4, 0, 0x1004, false)
	id := c.Insert(b, nil, codegenx64.FrameLayout{})

	got, ok := c.Lookup(ir.Key{Addr: 0x1000})
	if !ok || got != id {
		t.Fatalf("Lookup = (%v, %v), want (%v, true)", got, ok, id)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_ResolveFallthroughAndInvalidate(t *testing.T) {
	c := New()
	first := block(0x1000, 4, 0, 0x1004, false)
	firstID := c.Insert(first, nil, codegenx64.FrameLayout{})

	// The fallthrough target has not been compiled yet: resolution fails
	// without side effects.
	if _, ok := c.ResolveFallthrough(firstID); ok {
		t.Fatal("ResolveFallthrough succeeded before the target was compiled")
	}

	second := block(0x1004, 4, 0, 0x1008, false)
	secondID := c.Insert(second, nil, codegenx64.FrameLayout{})

	got, ok := c.ResolveFallthrough(firstID)
	if !ok || got != secondID {
		t.Fatalf("ResolveFallthrough = (%v, %v), want (%v, true)", got, ok, secondID)
	}
	// Cached: a second call returns the same answer without re-lookup.
	got, ok = c.ResolveFallthrough(firstID)
	if !ok || got != secondID {
		t.Fatalf("second ResolveFallthrough = (%v, %v), want (%v, true)", got, ok, secondID)
	}

	// Invalidating the target must unresolve the predecessor's edge.
	c.Invalidate(secondID)
	if c.Entry(firstID).Fallthrough.Resolved {
		t.Fatal("predecessor's Fallthrough still marked resolved after target invalidated")
	}
	if _, ok := c.Lookup(ir.Key{Addr: 0x1004}); ok {
		t.Fatal("invalidated entry still reachable by Lookup")
	}
}

func TestCache_InvalidateReusesSlot(t *testing.T) {
	c := New()
	id := c.Insert(block(0x2000, 4, 0, 0x2004, false), nil, codegenx64.FrameLayout{})
	c.Invalidate(id)

	newID := c.Insert(block(0x3000, 4, 0, 0x3004, false), nil, codegenx64.FrameLayout{})
	if newID != id {
		t.Fatalf("Insert after Invalidate got a fresh slot %d, want reused slot %d", newID, id)
	}
}

func TestCache_ClearICacheRangeOverlap(t *testing.T) {
	c := New()
	c.Insert(block(0x1000, 0x10, 0, 0x1010, false), nil, codegenx64.FrameLayout{})
	c.Insert(block(0x2000, 0x10, 0, 0x2010, false), nil, codegenx64.FrameLayout{})

	c.ClearICacheRange(0x1008, 0x1020)

	if _, ok := c.Lookup(ir.Key{Addr: 0x1000}); ok {
		t.Error("overlapping entry survived ClearICacheRange")
	}
	if _, ok := c.Lookup(ir.Key{Addr: 0x2000}); !ok {
		t.Error("non-overlapping entry was invalidated by ClearICacheRange")
	}
}

func TestCache_ClearICache(t *testing.T) {
	c := New()
	c.Insert(block(0x1000, 4, 0, 0x1004, false), nil, codegenx64.FrameLayout{})
	c.Insert(block(0x2000, 4, 0, 0x2004, false), nil, codegenx64.FrameLayout{})

	c.ClearICache()

	if c.Len() != 0 {
		t.Fatalf("Len() after ClearICache = %d, want 0", c.Len())
	}
}
