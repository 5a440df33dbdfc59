// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package codegenx64

import "unsafe"

// callNative jumps to the Native segment at entry, with state and frame
// passed in whatever two registers Emitter.stateArg/frameArg expect for
// the host's ABI (callNative's own assembly loads them from Go's call
// frame into those same two argument registers before the jump, so the
// two never drift out of sync with each other). It returns whatever the
// segment's bare RET leaves in RAX, which the driver currently ignores —
// reserved for a future exit-reason code.
//
// Grounded on the call-arbitrary-function-pointer pattern other compiled
// blocks in the retrieval pack use for the same purpose: Go cannot call
// through a bare uintptr directly, so one hand-written assembly stub
// bridges the gap once, and every block's compiled code reuses it.
//
//go:noescape
func callNative(entry uintptr, state, frame unsafe.Pointer) uint64

// Call is callNative's exported entry point — the one call site through
// which the cpu package's driver ever transfers control into a Native
// segment's bytes.
func Call(entry uintptr, state, frame unsafe.Pointer) uint64 {
	return callNative(entry, state, frame)
}
