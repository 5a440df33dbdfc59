// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package pool_test

import (
	"testing"

	"github.com/dynarm/dynarm/ir/pool"
)

func TestAllocateAndReset(t *testing.T) {
	a := pool.NewArena[int](4)

	var slots []pool.Slot[int]
	for i := 0; i < 10; i++ {
		v, s := a.Allocate()
		*v = i
		slots = append(slots, s)
	}

	if a.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", a.Len())
	}

	a.Reset()
	if a.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", a.Len())
	}

	// arena must still be usable after Reset
	v, _ := a.Allocate()
	if *v != 0 {
		t.Fatalf("reused slot not zeroed: got %d", *v)
	}
}

func TestReleaseMigratesBetweenLists(t *testing.T) {
	a := pool.NewArena[int](2)

	_, s1 := a.Allocate()
	_, s2 := a.Allocate() // fills the first slab
	_, s3 := a.Allocate() // forces a second slab

	if a.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", a.Len())
	}

	a.Release(s1)
	a.Release(s2)
	a.Release(s3)

	if a.Len() != 0 {
		t.Fatalf("Len() after releasing all = %d, want 0", a.Len())
	}

	// allocator must still function correctly after the full release
	v, _ := a.Allocate()
	if *v != 0 {
		t.Fatalf("slot not zeroed after release/reuse: got %d", *v)
	}
}

func TestManySlabsRoundTrip(t *testing.T) {
	a := pool.NewArena[int](3)

	const n = 97
	var slots [n]pool.Slot[int]
	for i := 0; i < n; i++ {
		v, s := a.Allocate()
		*v = i
		slots[i] = s
	}
	if a.Len() != n {
		t.Fatalf("Len() = %d, want %d", a.Len(), n)
	}

	// release every other slot, then reallocate and make sure the arena
	// doesn't corrupt bookkeeping across the resulting migrations
	for i := 0; i < n; i += 2 {
		a.Release(slots[i])
	}
	if a.Len() != n/2 {
		t.Fatalf("Len() after partial release = %d, want %d", a.Len(), n/2)
	}
	for i := 0; i < n-n/2; i++ {
		a.Allocate()
	}
	if a.Len() != n {
		t.Fatalf("Len() after reallocating freed slots = %d, want %d", a.Len(), n)
	}
}
