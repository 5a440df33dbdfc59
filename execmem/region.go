// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package execmem manages the host pages compiled blocks actually run
// from: anonymous mmap'd memory that starts out writable so codegenx64
// can fill it in, then flips to executable-and-read-only before any
// block inside it is entered, and never both at once. Grounded on the
// mmap/Mprotect sequence other_examples/jam-duna-jamduna__recompiler.go
// uses around its own x86Code buffer, adapted here to golang.org/x/sys/unix
// so the same calls work unmodified on every unix GOOS this module
// targets, not just Linux's syscall package.
package execmem

import (
	"golang.org/x/sys/unix"

	dynarmerrors "github.com/dynarm/dynarm/errors"
)

// Region is one mmap'd span of host memory. It passes through exactly
// two states in order: writable (PROT_READ|PROT_WRITE, for codegenx64 to
// fill with machine code) and sealed (PROT_READ|PROT_EXEC, for the
// dispatcher to enter via codegenx64's callNative trampoline). There is
// no path back from sealed to writable — a Region whose code needs to
// change is released and a fresh one allocated, which is also how
// cache invalidation reclaims the pages a stale block occupied.
type Region struct {
	mem    []byte
	used   int
	sealed bool
}

// New allocates a fresh Region of size bytes, rounded up by the kernel to
// a whole number of pages. The Region starts writable.
func New(size int) (*Region, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, dynarmerrors.New(dynarmerrors.OutOfCodeMemory, size)
	}
	return &Region{mem: mem}, nil
}

// Cap returns the Region's total capacity in bytes.
func (r *Region) Cap() int { return len(r.mem) }

// Remaining returns how many bytes are still free for Write.
func (r *Region) Remaining() int { return len(r.mem) - r.used }

// Write copies code into the Region at the current bump offset and
// returns the address it will execute from once Seal has run. It is an
// error to call Write after Seal, or when code does not fit in
// Remaining().
func (r *Region) Write(code []byte) (uintptr, error) {
	if r.sealed {
		return 0, dynarmerrors.New(dynarmerrors.OutOfCodeMemory, len(code))
	}
	if len(code) > r.Remaining() {
		return 0, dynarmerrors.New(dynarmerrors.OutOfCodeMemory, len(code))
	}
	off := r.used
	copy(r.mem[off:], code)
	r.used += len(code)
	return addrOf(r.mem, off), nil
}

// Seal makes every byte written so far executable and read-only. No
// further Write is possible afterward, matching W^X: a page this module
// can see is either being written to or being executed from, never both
// in the same instant. The unix.Mprotect call site is also where an
// architecture that does not keep instruction and data caches coherent
// for free (amd64 does) would issue its own icache-flush syscall before
// returning, per spec.md's instruction to flush the range on (re)use.
func (r *Region) Seal() error {
	if r.sealed {
		return nil
	}
	if err := unix.Mprotect(r.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return err
	}
	r.sealed = true
	return nil
}

// Close releases the Region's backing mapping. No code inside it may be
// entered, and no further method may be called on it, afterward.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}
